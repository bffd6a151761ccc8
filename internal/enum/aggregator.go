/*
Package enum implements the enumeration engine: it fans out to the
configured CT source adapters through the key manager, merges their
responses into one deduplicated hostname/certificate set, and exposes the
two read-only output projections.
*/
package enum

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
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certscout/certscout/internal/ctsource"
	"github.com/certscout/certscout/internal/keyring"
	"github.com/certscout/certscout/internal/metrics"
)

// Retry constants for per-source fetch attempts.
const (
	DefaultMaxAttempts     = 3
	RetryBaseDelay         = 250 * time.Millisecond
	RetryMaxDelay          = 10 * time.Second
	RetryBackoffMultiplier = 2.0
	RetryJitterFactor      = 0.2
)

// ErrNoDataAvailable is returned by Enumerate when every configured source
// failed. A source that succeeded with zero results still counts as data
// being available; the run then returns an empty (successful) result.
var ErrNoDataAvailable = errors.New("no CT provider returned any data")

// Config holds the aggregator's collaborators and tuning.
type Config struct {
	// Sources to query. Nil means ctsource.DefaultSources().
	Sources []ctsource.Source
	// Keys manages API key rotation. Nil means every request is anonymous.
	Keys *keyring.Manager
	// MaxAttempts bounds fetch attempts per source. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int
	// Debug enables per-attempt logging.
	Debug bool
}

// Aggregator runs the fan-out/merge pipeline. Safe for concurrent use.
type Aggregator struct {
	sources     []ctsource.Source
	keys        *keyring.Manager
	maxAttempts int
	debug       bool
}

// New builds an Aggregator from cfg.
func New(cfg Config) (*Aggregator, error) {
	sources := cfg.Sources
	if sources == nil {
		sources = ctsource.DefaultSources()
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no CT sources configured")
	}
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name())
		}
		seen[src.Name()] = struct{}{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Aggregator{
		sources:     sources,
		keys:        cfg.Keys,
		maxAttempts: maxAttempts,
		debug:       cfg.Debug,
	}, nil
}

// sourceOutcome is the per-source fan-out result, folded after the join.
type sourceOutcome struct {
	provider string
	records  []ctsource.CertificateRecord
	err      error
}

// Enumerate queries every configured source for domain concurrently, waits
// for all of them (success or failure), and merges whatever succeeded into
// one AggregatedResult. It fails only when the domain is invalid or every
// source failed (ErrNoDataAvailable).
func (a *Aggregator) Enumerate(ctx context.Context, domain string) (*AggregatedResult, error) {
	normalized, ok := ctsource.ValidTargetDomain(domain)
	if !ok {
		return nil, fmt.Errorf("invalid target domain %q", domain)
	}

	// Fan out one goroutine per source; each writes only its own slot, so
	// the fold below runs over quiescent data after the full join.
	outcomes := make([]sourceOutcome, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src ctsource.Source) {
			defer wg.Done()
			records, err := a.fetchSource(ctx, src, normalized)
			outcomes[i] = sourceOutcome{provider: src.Name(), records: records, err: err}
		}(i, src)
	}
	wg.Wait()

	result := &AggregatedResult{
		Domain:      normalized,
		GeneratedAt: time.Now().UTC(),
	}
	hostnames := make(map[string]map[string]struct{})
	certSeen := make(map[string]struct{})
	anySuccess := false

	for _, oc := range outcomes {
		if oc.err != nil {
			log.Printf("Source %s failed for %s: %v", oc.provider, normalized, oc.err)
			if result.SourceFailures == nil {
				result.SourceFailures = make(map[string]string)
			}
			result.SourceFailures[oc.provider] = oc.err.Error()
			continue
		}
		anySuccess = true
		for _, rec := range oc.records {
			mergeRecord(hostnames, oc.provider, &rec)
			key := rec.Key()
			if _, dup := certSeen[key]; dup {
				continue
			}
			certSeen[key] = struct{}{}
			result.Certificates = append(result.Certificates, rec)
		}
	}

	if !anySuccess {
		return nil, fmt.Errorf("%w: all %d sources failed for %s",
			ErrNoDataAvailable, len(a.sources), normalized)
	}

	result.Hostnames = buildHostnameEntries(hostnames)
	sortCertificates(result.Certificates)
	metrics.SetHostnamesDiscovered(normalized, len(result.Hostnames))
	return result, nil
}

// fetchSource runs one source's fetch with bounded retries, key rotation,
// and anonymous fallback.
func (a *Aggregator) fetchSource(ctx context.Context, src ctsource.Source, domain string) ([]ctsource.CertificateRecord, error) {
	provider := src.Name()
	delay := time.Duration(RetryBaseDelay)
	var lastErr error
	skipBackoff := false

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordSourceRetry(provider)
			if skipBackoff {
				skipBackoff = false
			} else {
				if err := sleepWithJitter(ctx, delay); err != nil {
					return nil, err
				}
				delay = time.Duration(float64(delay) * RetryBackoffMultiplier)
				if delay > RetryMaxDelay {
					delay = RetryMaxDelay
				}
			}
		}

		var lease *keyring.Lease
		apiKey := ""
		if a.keys != nil && a.keys.HasKeys(provider) {
			l, err := a.keys.Acquire(provider)
			switch {
			case err == nil:
				lease = l
				apiKey = l.Key()
			case errors.Is(err, keyring.ErrNoKeyAvailable) && src.SupportsAnonymous():
				// All keys cooling down or burned; the provider still
				// accepts anonymous requests at a reduced quota.
				if a.debug {
					log.Printf("Source %s: no usable key, falling back to anonymous access", provider)
				}
			case errors.Is(err, keyring.ErrNoKeyAvailable):
				lastErr = fmt.Errorf("%s: %w", provider, err)
				continue // a cooldown may elapse before the next attempt
			default:
				lastErr = err
				continue
			}
		}

		start := time.Now()
		records, err := src.Fetch(ctx, domain, apiKey)
		elapsed := time.Since(start)
		if lease != nil {
			lease.Release()
		}

		if err == nil {
			if lease != nil {
				a.keys.Report(provider, apiKey, keyring.OutcomeSuccess)
			}
			metrics.ObserveSourceRequest(provider, "success", elapsed)
			metrics.RecordSourceRecords(provider, len(records))
			if a.debug {
				log.Printf("Source %s: %d records for %s (attempt %d)", provider, len(records), domain, attempt+1)
			}
			return records, nil
		}

		kind := ctsource.KindOf(err)
		metrics.ObserveSourceRequest(provider, kind.String(), elapsed)
		if lease != nil {
			switch kind {
			case ctsource.KindAuth:
				a.keys.Report(provider, apiKey, keyring.OutcomeAuthFailed)
			case ctsource.KindRateLimit:
				a.keys.Report(provider, apiKey, keyring.OutcomeRateLimited)
			default:
				a.keys.Report(provider, apiKey, keyring.OutcomeTransportError)
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if kind == ctsource.KindParse {
			// A schema mismatch won't fix itself on retry.
			break
		}
		// Auth failures retry immediately against the next key or
		// anonymously; rate-limit and transport failures back off first.
		skipBackoff = kind == ctsource.KindAuth
		if a.debug {
			log.Printf("Source %s: attempt %d failed (%s): %v", provider, attempt+1, kind, err)
		}
	}
	return nil, lastErr
}

// mergeRecord folds one record's probeable hostnames into the accumulator,
// unioning provider attribution. The operation is idempotent and
// commutative: fold order never changes the final entry set.
func mergeRecord(acc map[string]map[string]struct{}, provider string, rec *ctsource.CertificateRecord) {
	for _, hostname := range rec.ProbeableHostnames() {
		providers := acc[hostname]
		if providers == nil {
			providers = make(map[string]struct{}, 2)
			acc[hostname] = providers
		}
		providers[provider] = struct{}{}
	}
}

// buildHostnameEntries converts the accumulator into the sorted, canonical
// entry slice. Lexicographic order keeps output reproducible across runs.
func buildHostnameEntries(acc map[string]map[string]struct{}) []HostnameEntry {
	entries := make([]HostnameEntry, 0, len(acc))
	for hostname, providers := range acc {
		sources := make([]string, 0, len(providers))
		for p := range providers {
			sources = append(sources, p)
		}
		sort.Strings(sources)
		entries = append(entries, HostnameEntry{Hostname: hostname, Sources: sources})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Hostname < entries[j].Hostname
	})
	return entries
}

// sortCertificates orders records by NotBefore, breaking ties on the
// identity key, so output is deterministic for a given input set.
func sortCertificates(records []ctsource.CertificateRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].NotBefore.Equal(records[j].NotBefore) {
			return records[i].NotBefore.Before(records[j].NotBefore)
		}
		return strings.Compare(records[i].Key(), records[j].Key()) < 0
	})
}

// sleepWithJitter waits for delay ± RetryJitterFactor, or until ctx is done.
func sleepWithJitter(ctx context.Context, delay time.Duration) error {
	jittered := float64(delay) * (1 + (rand.Float64()*2-1)*RetryJitterFactor)
	select {
	case <-time.After(time.Duration(jittered)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
