package metrics

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
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application.
type Metrics struct {
	// CT source metrics
	SourceRequestsTotal   *prometheus.CounterVec
	SourceRequestDuration *prometheus.HistogramVec
	SourceRecordsTotal    *prometheus.CounterVec
	SourceRetriesTotal    *prometheus.CounterVec

	// Key manager metrics
	KeyCooldownsTotal *prometheus.CounterVec
	KeysDisabledTotal *prometheus.CounterVec

	// Aggregation metrics
	HostnamesDiscovered *prometheus.GaugeVec

	// Liveliness probe metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection.
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// newMetrics creates and registers all metrics.
func newMetrics() *Metrics {
	buckets := []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

	return &Metrics{
		SourceRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_source_requests_total",
				Help: "CT provider requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SourceRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certscout_source_request_duration_seconds",
				Help:    "Time spent fetching from a CT provider",
				Buckets: buckets,
			},
			[]string{"provider"},
		),
		SourceRecordsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_source_records_total",
				Help: "Certificate records returned per provider",
			},
			[]string{"provider"},
		),
		SourceRetriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_source_retries_total",
				Help: "Fetch attempts beyond the first, per provider",
			},
			[]string{"provider"},
		),
		KeyCooldownsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_key_cooldowns_total",
				Help: "API keys put into a rate-limit cooldown window",
			},
			[]string{"provider"},
		),
		KeysDisabledTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_keys_disabled_total",
				Help: "API keys permanently disabled after auth rejection",
			},
			[]string{"provider"},
		),
		HostnamesDiscovered: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "certscout_hostnames_discovered",
				Help: "Unique hostnames in the merged result of the last run",
			},
			[]string{"domain"},
		),
		ProbesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certscout_probes_total",
				Help: "Liveliness probes by outcome (reachable, unreachable, cancelled)",
			},
			[]string{"outcome"},
		),
		ProbeDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certscout_probe_duration_seconds",
				Help:    "Time spent probing one endpoint",
				Buckets: buckets,
			},
			[]string{"protocol"},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	var startErr error
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return startErr
}

// ShutdownMetricsServer gracefully shuts down the metrics server.
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// ObserveSourceRequest records one provider fetch attempt and its duration.
func ObserveSourceRequest(provider, outcome string, elapsed time.Duration) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	m.SourceRequestsTotal.WithLabelValues(provider, outcome).Inc()
	m.SourceRequestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordSourceRecords counts records returned by a successful fetch.
func RecordSourceRecords(provider string, n int) {
	if !metricsEnabled {
		return
	}
	GetMetrics().SourceRecordsTotal.WithLabelValues(provider).Add(float64(n))
}

// RecordSourceRetry counts a fetch attempt beyond the first.
func RecordSourceRetry(provider string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().SourceRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordKeyCooldown counts a key entering a rate-limit cooldown window.
func RecordKeyCooldown(provider string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().KeyCooldownsTotal.WithLabelValues(provider).Inc()
}

// RecordKeyDisabled counts a key disabled after an auth rejection.
func RecordKeyDisabled(provider string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().KeysDisabledTotal.WithLabelValues(provider).Inc()
}

// SetHostnamesDiscovered publishes the merged hostname count for a domain.
func SetHostnamesDiscovered(domain string, n int) {
	if !metricsEnabled {
		return
	}
	GetMetrics().HostnamesDiscovered.WithLabelValues(domain).Set(float64(n))
}

// ObserveProbe records one endpoint probe and its duration.
func ObserveProbe(outcome, protocol string, elapsed time.Duration) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	m.ProbesTotal.WithLabelValues(outcome).Inc()
	m.ProbeDuration.WithLabelValues(protocol).Observe(elapsed.Seconds())
}
