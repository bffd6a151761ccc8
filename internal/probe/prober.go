/*
Package probe implements the concurrent liveliness prober: given the merged
hostname set and a port list, it checks reachability of every hostname×port
pair under a bounded worker pool, HTTPS-first with a plain TCP fallback.
*/
package probe

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
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/certscout/certscout/internal/client"
	"github.com/certscout/certscout/internal/metrics"
)

// Probe tuning defaults.
const (
	// DefaultWorkers bounds simultaneous outbound probe connections.
	DefaultWorkers = 16
	// DefaultTimeout bounds one connection/handshake attempt.
	DefaultTimeout = 5 * time.Second
	// DefaultRate is the probe pacing in attempts per second.
	DefaultRate = 3.0
)

// DefaultPorts is the port list probed when the caller supplies none.
func DefaultPorts() []int { return []int{8443, 443, 80} }

// EndpointTarget identifies one hostname/port pair to probe.
type EndpointTarget struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

// Addr returns the dialable "host:port" form.
func (e EndpointTarget) Addr() string {
	return net.JoinHostPort(e.Hostname, strconv.Itoa(e.Port))
}

// LivenessResult records the outcome of probing one endpoint. Exactly one
// result exists per requested endpoint; failures are captured in Error,
// never dropped.
type LivenessResult struct {
	Endpoint  EndpointTarget `json:"endpoint"`
	Reachable bool           `json:"reachable"`
	// Protocol is "https" or "tcp" for reachable endpoints.
	Protocol  string    `json:"protocol,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Config holds prober settings. Zero values take the defaults above.
type Config struct {
	Workers   int
	Timeout   time.Duration
	Rate      float64
	UserAgent string
	ProxyURL  string
}

// Prober checks endpoint reachability over a fixed worker pool with
// rate.Limiter pacing.
type Prober struct {
	cfg        Config
	limiter    *rate.Limiter
	httpClient *http.Client
}

// New builds a Prober from cfg. The prober keeps its own HTTP client rather
// than the shared one: probing wants short per-attempt timeouts and must
// accept self-signed certificates, neither of which suits provider fetches.
func New(cfg Config) (*Prober, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = client.DefaultUserAgent
	}

	proxy := http.ProxyFromEnvironment
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.ProxyURL, err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout: cfg.Timeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
		// Probed hosts routinely present self-signed or mismatched certs;
		// reachability is the question, not trust.
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives: true,
	}

	return &Prober{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Probe checks every hostname×port pair and returns exactly one
// LivenessResult per endpoint. Individual failures are captured per entry;
// context cancellation marks the remaining endpoints unreachable with a
// cancellation reason instead of omitting them.
func (p *Prober) Probe(ctx context.Context, hostnames []string, ports []int) map[EndpointTarget]LivenessResult {
	if len(ports) == 0 {
		ports = DefaultPorts()
	}

	// Deduplicate up front so each endpoint is probed and reported once.
	seen := make(map[EndpointTarget]struct{}, len(hostnames)*len(ports))
	targets := make([]EndpointTarget, 0, len(hostnames)*len(ports))
	for _, h := range hostnames {
		for _, port := range ports {
			t := EndpointTarget{Hostname: h, Port: port}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			targets = append(targets, t)
		}
	}

	jobs := make(chan EndpointTarget, len(targets))
	resultCh := make(chan LivenessResult, len(targets))

	var wg sync.WaitGroup
	workers := p.cfg.Workers
	if workers > len(targets) && len(targets) > 0 {
		workers = len(targets)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				resultCh <- p.probeOne(ctx, target)
			}
		}()
	}

	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Single fold point: workers only send; this loop owns the map.
	results := make(map[EndpointTarget]LivenessResult, len(targets))
	for res := range resultCh {
		results[res.Endpoint] = res
	}
	return results
}

// probeOne performs the paced HTTPS-then-TCP check for a single endpoint.
func (p *Prober) probeOne(ctx context.Context, target EndpointTarget) LivenessResult {
	result := LivenessResult{Endpoint: target, CheckedAt: time.Now().UTC()}

	if err := p.limiter.Wait(ctx); err != nil {
		result.Error = "probe cancelled: " + err.Error()
		metrics.ObserveProbe("cancelled", "", 0)
		return result
	}

	start := time.Now()

	// HTTPS first: a full handshake plus response proves a live service,
	// not just an open socket.
	httpsErr := p.tryHTTPS(ctx, target)
	if httpsErr == nil {
		result.Reachable = true
		result.Protocol = "https"
		metrics.ObserveProbe("reachable", "https", time.Since(start))
		return result
	}
	if ctx.Err() != nil {
		result.Error = "probe cancelled: " + ctx.Err().Error()
		metrics.ObserveProbe("cancelled", "", time.Since(start))
		return result
	}

	// Fallback: plain TCP reachability for endpoints not speaking TLS/HTTP.
	if tcpErr := p.tryTCP(ctx, target); tcpErr == nil {
		result.Reachable = true
		result.Protocol = "tcp"
		metrics.ObserveProbe("reachable", "tcp", time.Since(start))
		return result
	} else if ctx.Err() != nil {
		result.Error = "probe cancelled: " + ctx.Err().Error()
		metrics.ObserveProbe("cancelled", "", time.Since(start))
		return result
	} else {
		result.Error = tcpErr.Error()
	}
	metrics.ObserveProbe("unreachable", "", time.Since(start))
	return result
}

// tryHTTPS issues a GET against https://host:port/ with the configured
// User-Agent. Any HTTP response, whatever the status code, counts as live.
func (p *Prober) tryHTTPS(ctx context.Context, target EndpointTarget) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, "https://"+target.Addr()+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// tryTCP checks bare socket reachability.
func (p *Prober) tryTCP(ctx context.Context, target EndpointTarget) error {
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
