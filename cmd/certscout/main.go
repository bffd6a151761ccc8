/*
Package main is the entry point for the certscout command-line application.

certscout discovers hostnames and reachable endpoints for a target domain by
mining Certificate Transparency data. Its functionality:
  - Querying CT providers (crt.sh, CertSpotter) with API key rotation and
    rate-limit backoff.
  - Merging provider responses into one deduplicated hostname/certificate
    set.
  - Optionally probing the discovered hostnames for live services.
  - Writing the result to a JSON file in one of two formats: detailed
    (certificates + hostnames + liveliness) or endpoints-only.

The application uses the Cobra library for command-line structure and flag
parsing. It leverages several internal packages:
  - `internal/ctsource`: provider adapters and the canonical record model.
  - `internal/keyring`: API key rotation and cooldown management.
  - `internal/enum`: the concurrent aggregator and output projections.
  - `internal/probe`: the bounded-concurrency liveliness prober.
  - `internal/client`: the shared configurable HTTP client.
  - `internal/metrics`: Prometheus metrics for monitoring runs.

Graceful shutdown is handled via context cancellation triggered by OS
signals (SIGINT, SIGTERM) or the optional run-level timeout.
*/
package main

/*
certscout — attack-surface discovery through Certificate Transparency data
Copyright (C) 2026  certscout contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/certscout/certscout/internal/client"
	"github.com/certscout/certscout/internal/ctsource"
	"github.com/certscout/certscout/internal/enum"
	"github.com/certscout/certscout/internal/keyring"
	"github.com/certscout/certscout/internal/metrics"
	"github.com/certscout/certscout/internal/probe"
)

// Global flags (persistent across commands)
var (
	debug       bool
	metricsPort int
)

// Flags specific to the enum command
var (
	targetDomain    string
	outputPath      string
	outputFormat    int
	liveCheck       bool
	extraPorts      []int
	userAgent       string
	proxyURL        string
	runTimeout      time.Duration
	probeWorkers    int
	probeRate       float64
	certspotterKeys []string
)

var rootCmd = &cobra.Command{
	Use:   "certscout",
	Short: "certscout - hostname and endpoint discovery from Certificate Transparency data",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.Println("Debug logging enabled.")
		}
		if metricsPort > 0 {
			metrics.EnableMetrics()
			if err := metrics.StartMetricsServer(fmt.Sprintf(":%d", metricsPort)); err != nil {
				log.Printf("Failed to start metrics server: %v", err)
			}
		}
	},
}

var enumCmd = &cobra.Command{
	Use:   "enum",
	Short: "Enumerate hostnames for a domain and optionally probe them for live services",
	Long: `Queries the configured Certificate Transparency providers for certificates
covering the target domain, merges and deduplicates the reported hostnames,
optionally probes each hostname/port pair for reachability, and writes the
result to a JSON file.

Output formats:
  1  detailed: certificates, hostnames with source attribution, liveliness
  2  endpoints-only: flat {hostname, port, reachable} rows`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnum()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and keep unreachable endpoints in endpoints-only output")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port (0 disables the metrics server)")

	enumCmd.Flags().StringVarP(&targetDomain, "domain", "d", "", "Domain to enumerate hostnames for")
	enumCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output JSON file path")
	enumCmd.Flags().IntVarP(&outputFormat, "format", "f", 1, "Output format: 1 detailed, 2 endpoints-only")
	enumCmd.Flags().BoolVar(&liveCheck, "live", false, "Probe discovered hostnames for live services")
	enumCmd.Flags().IntSliceVar(&extraPorts, "ports", nil, "Extra ports to probe in addition to the defaults (8443,443,80)")
	enumCmd.Flags().StringVar(&userAgent, "user-agent", "", "User-Agent for provider requests and probes (default: a mainstream browser)")
	enumCmd.Flags().StringVar(&proxyURL, "proxy", "", "Proxy URL for outgoing requests (e.g. http://127.0.0.1:8080)")
	enumCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Run-level timeout (0 disables)")
	enumCmd.Flags().IntVar(&probeWorkers, "probe-workers", probe.DefaultWorkers, "Concurrent liveliness probe workers")
	enumCmd.Flags().Float64Var(&probeRate, "rate", probe.DefaultRate, "Liveliness probe rate limit in checks/second")
	enumCmd.Flags().StringSliceVar(&certspotterKeys, "certspotter-key", nil, "CertSpotter API key (repeatable for rotation)")
	_ = enumCmd.MarkFlagRequired("domain")
	_ = enumCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(enumCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runEnum is the handler for the 'enum' command.
func runEnum() error {
	if outputFormat != 1 && outputFormat != 2 {
		return fmt.Errorf("invalid format %d: must be 1 (detailed) or 2 (endpoints-only)", outputFormat)
	}

	if err := client.Init(&client.Config{ProxyURL: proxyURL, UserAgent: userAgent}); err != nil {
		return err
	}

	keys := keyring.New(keyring.Config{
		Keys: map[string][]string{
			ctsource.ProviderCertSpotter: certspotterKeys,
		},
	})

	aggregator, err := enum.New(enum.Config{Keys: keys, Debug: debug})
	if err != nil {
		return err
	}

	// Context for the whole run: cancelled on SIGINT/SIGTERM and bounded by
	// the optional run-level timeout.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if runTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, initiating shutdown...", sig)
		cancel()
	}()

	log.Printf("Enumerating hostnames for %s...", targetDomain)
	result, err := aggregator.Enumerate(ctx, targetDomain)
	if err != nil {
		if errors.Is(err, enum.ErrNoDataAvailable) {
			return fmt.Errorf("enumeration failed: %w", err)
		}
		return err
	}
	log.Printf("Found %d hostnames across %d certificates for %s",
		len(result.Hostnames), len(result.Certificates), result.Domain)
	for provider, reason := range result.SourceFailures {
		color.Yellow("Partial failure: %s contributed nothing (%s)", provider, reason)
	}

	ports := probePorts()
	if liveCheck {
		prober, err := probe.New(probe.Config{
			Workers:   probeWorkers,
			Rate:      probeRate,
			UserAgent: userAgent,
			ProxyURL:  proxyURL,
		})
		if err != nil {
			return err
		}
		log.Printf("Probing %d hostnames on ports %v...", len(result.Hostnames), ports)
		result.Liveliness = prober.Probe(ctx, result.HostnameList(), ports)
		printLivelinessSummary(result)
	}

	if err := writeOutput(result, ports); err != nil {
		return err
	}
	log.Printf("Results written to %s", outputPath)
	return nil
}

// probePorts returns the default port list plus any user-supplied extras,
// deduplicated, in a stable order.
func probePorts() []int {
	ports := probe.DefaultPorts()
	seen := make(map[int]struct{}, len(ports)+len(extraPorts))
	for _, p := range ports {
		seen[p] = struct{}{}
	}
	for _, p := range extraPorts {
		if p <= 0 || p > 65535 {
			log.Printf("Ignoring invalid port %d", p)
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}
	return ports
}

// writeOutput serializes the selected projection to the output file.
func writeOutput(result *enum.AggregatedResult, ports []int) error {
	var payload any
	switch outputFormat {
	case 1:
		payload = enum.Detailed(result)
	case 2:
		payload = enum.EndpointsOnly(result, ports, debug)
	}
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// printLivelinessSummary prints per-endpoint outcomes, live ones in green,
// unreachable ones (debug only) in red.
func printLivelinessSummary(result *enum.AggregatedResult) {
	endpoints := make([]probe.EndpointTarget, 0, len(result.Liveliness))
	for ep := range result.Liveliness {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Hostname != endpoints[j].Hostname {
			return endpoints[i].Hostname < endpoints[j].Hostname
		}
		return endpoints[i].Port < endpoints[j].Port
	})

	live := 0
	for _, ep := range endpoints {
		lr := result.Liveliness[ep]
		if lr.Reachable {
			live++
			color.Green("  %s is live (%s)", ep.Addr(), lr.Protocol)
		} else if debug {
			color.Red("  %s unreachable: %s", ep.Addr(), lr.Error)
		}
	}
	fmt.Printf("Liveliness: %d/%d endpoints reachable\n", live, len(endpoints))
}
