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
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/certscout/certscout/internal/ctsource"
	"github.com/certscout/certscout/internal/keyring"
)

// fakeSource is a scriptable Source: fetch receives the 1-based call number
// so tests can model flaky providers.
type fakeSource struct {
	name  string
	fetch func(call int, apiKey string) ([]ctsource.CertificateRecord, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string            { return f.name }
func (f *fakeSource) SupportsAnonymous() bool { return true }

func (f *fakeSource) Fetch(ctx context.Context, domain, apiKey string) ([]ctsource.CertificateRecord, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fetch(call, apiKey)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func record(issuer string, notBefore time.Time, names ...string) ctsource.CertificateRecord {
	return ctsource.CertificateRecord{
		Issuer:    issuer,
		NotBefore: notBefore,
		NotAfter:  notBefore.AddDate(0, 3, 0),
		DNSNames:  names,
	}
}

func staticSource(name string, records ...ctsource.CertificateRecord) *fakeSource {
	return &fakeSource{
		name: name,
		fetch: func(call int, apiKey string) ([]ctsource.CertificateRecord, error) {
			return records, nil
		},
	}
}

func failingSource(name string, err error) *fakeSource {
	return &fakeSource{
		name: name,
		fetch: func(call int, apiKey string) ([]ctsource.CertificateRecord, error) {
			return nil, err
		},
	}
}

func mustEnumerate(t *testing.T, cfg Config, domain string) *AggregatedResult {
	t.Helper()
	agg, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := agg.Enumerate(context.Background(), domain)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	return result
}

func TestNewRejectsEmptyAndDuplicateSources(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Sources: []ctsource.Source{}}); err == nil {
		t.Error("New accepted an empty source list")
	}
	dup := []ctsource.Source{staticSource("same"), staticSource("same")}
	if _, err := New(Config{Sources: dup}); err == nil {
		t.Error("New accepted duplicate source names")
	}
}

func TestEnumerateInvalidDomain(t *testing.T) {
	t.Parallel()
	agg, err := New(Config{Sources: []ctsource.Source{staticSource("a")}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, bad := range []string{"", "*.example.com", "https://example.com", "   "} {
		if _, err := agg.Enumerate(context.Background(), bad); err == nil {
			t.Errorf("Enumerate(%q) succeeded; want error", bad)
		}
	}
}

// TestEnumerateMergesOverlappingSources verifies the union: a hostname seen
// by two providers appears once with both providers attributed, and a
// certificate reported by both is deduplicated.
func TestEnumerateMergesOverlappingSources(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	shared := record("CN=Shared CA", notBefore, "api.example.com")

	a := staticSource("alpha",
		record("CN=CA One", notBefore, "www.example.com", "api.example.com"),
		shared,
	)
	b := staticSource("beta",
		record("CN=CA Two", notBefore.AddDate(0, 1, 0), "api.example.com", "mail.example.com"),
		shared,
	)

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{a, b}}, "example.com")

	wantHostnames := []HostnameEntry{
		{Hostname: "api.example.com", Sources: []string{"alpha", "beta"}},
		{Hostname: "mail.example.com", Sources: []string{"beta"}},
		{Hostname: "www.example.com", Sources: []string{"alpha"}},
	}
	if !reflect.DeepEqual(result.Hostnames, wantHostnames) {
		t.Errorf("Hostnames = %+v; want %+v", result.Hostnames, wantHostnames)
	}

	// Three distinct certificates: the shared one must appear exactly once.
	if len(result.Certificates) != 3 {
		t.Fatalf("got %d certificates; want 3", len(result.Certificates))
	}
	// Deterministic order: ascending NotBefore.
	for i := 1; i < len(result.Certificates); i++ {
		if result.Certificates[i].NotBefore.Before(result.Certificates[i-1].NotBefore) {
			t.Error("certificates not ordered by NotBefore")
		}
	}
	if len(result.SourceFailures) != 0 {
		t.Errorf("unexpected source failures: %v", result.SourceFailures)
	}
}

// TestEnumerateNormalizesCase verifies hostnames differing only in case or
// trailing dots merge into one entry.
func TestEnumerateNormalizesCase(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := staticSource("alpha", record("CN=CA", notBefore, "WWW.Example.COM"))
	b := staticSource("beta", record("CN=CA", notBefore, "www.example.com."))

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{a, b}}, "example.com")
	want := []HostnameEntry{{Hostname: "www.example.com", Sources: []string{"alpha", "beta"}}}
	if !reflect.DeepEqual(result.Hostnames, want) {
		t.Errorf("Hostnames = %+v; want %+v", result.Hostnames, want)
	}
	if len(result.Certificates) != 1 {
		t.Errorf("got %d certificates; want 1 (case-equivalent records share an identity)", len(result.Certificates))
	}
}

// TestEnumerateWildcardsExcludedFromHostnames verifies wildcard names stay
// on the certificate record but never become probeable hostname entries.
func TestEnumerateWildcardsExcludedFromHostnames(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	src := staticSource("alpha", record("CN=CA", notBefore, "*.example.com", "app.example.com"))

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{src}}, "example.com")
	want := []HostnameEntry{{Hostname: "app.example.com", Sources: []string{"alpha"}}}
	if !reflect.DeepEqual(result.Hostnames, want) {
		t.Errorf("Hostnames = %+v; want %+v", result.Hostnames, want)
	}
	if len(result.Certificates) != 1 {
		t.Fatalf("got %d certificates; want 1", len(result.Certificates))
	}
	if got := result.Certificates[0].SortedNormalizedNames(); !reflect.DeepEqual(got, []string{"*.example.com", "app.example.com"}) {
		t.Errorf("certificate names = %v; wildcard must survive on the record", got)
	}
}

// TestEnumeratePartialFailure verifies one failed source degrades the run
// instead of aborting it: the survivor's data comes back and the failure is
// recorded.
func TestEnumeratePartialFailure(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	good := staticSource("alpha", record("CN=CA", notBefore, "www.example.com"))
	bad := failingSource("beta", &ctsource.SourceError{
		Provider: "beta", Kind: ctsource.KindParse,
		Err: fmt.Errorf("unexpected response schema"),
	})

	result := mustEnumerate(t, Config{
		Sources:     []ctsource.Source{good, bad},
		MaxAttempts: 1,
	}, "example.com")

	if len(result.Hostnames) != 1 || result.Hostnames[0].Hostname != "www.example.com" {
		t.Errorf("Hostnames = %+v; want the surviving source's data", result.Hostnames)
	}
	if _, recorded := result.SourceFailures["beta"]; !recorded {
		t.Errorf("SourceFailures = %v; want an entry for beta", result.SourceFailures)
	}
}

func TestEnumerateAllSourcesFailed(t *testing.T) {
	t.Parallel()
	err := &ctsource.SourceError{Provider: "x", Kind: ctsource.KindParse, Err: fmt.Errorf("bad schema")}
	agg, newErr := New(Config{
		Sources:     []ctsource.Source{failingSource("alpha", err), failingSource("beta", err)},
		MaxAttempts: 1,
	})
	if newErr != nil {
		t.Fatalf("New failed: %v", newErr)
	}
	_, enumErr := agg.Enumerate(context.Background(), "example.com")
	if !errors.Is(enumErr, ErrNoDataAvailable) {
		t.Errorf("Enumerate = %v; want ErrNoDataAvailable", enumErr)
	}
}

// TestEnumerateEmptySuccess: a provider that answers with zero certificates
// is still a success, so the run yields an empty result, not an error.
func TestEnumerateEmptySuccess(t *testing.T) {
	t.Parallel()
	result := mustEnumerate(t, Config{Sources: []ctsource.Source{staticSource("alpha")}}, "example.com")
	if len(result.Hostnames) != 0 || len(result.Certificates) != 0 {
		t.Errorf("expected empty result, got %d hostnames / %d certificates",
			len(result.Hostnames), len(result.Certificates))
	}
	if result.Domain != "example.com" {
		t.Errorf("Domain = %q; want example.com", result.Domain)
	}
}

// TestEnumerateRetriesTransport verifies a source that fails once with a
// retryable error succeeds on the next attempt.
func TestEnumerateRetriesTransport(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := record("CN=CA", notBefore, "www.example.com")
	flaky := &fakeSource{
		name: "alpha",
		fetch: func(call int, apiKey string) ([]ctsource.CertificateRecord, error) {
			if call == 1 {
				return nil, &ctsource.SourceError{
					Provider: "alpha", Kind: ctsource.KindTransport,
					Err: fmt.Errorf("connection reset"),
				}
			}
			return []ctsource.CertificateRecord{rec}, nil
		},
	}

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{flaky}}, "example.com")
	if len(result.Hostnames) != 1 {
		t.Errorf("got %d hostnames; want 1 after the retry", len(result.Hostnames))
	}
	if flaky.callCount() != 2 {
		t.Errorf("source called %d times; want 2", flaky.callCount())
	}
}

// TestEnumerateAuthRotatesToNextKey verifies an auth rejection burns the key
// and the immediate retry carries the next one.
func TestEnumerateAuthRotatesToNextKey(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := record("CN=CA", notBefore, "www.example.com")

	var keysSeen []string
	var mu sync.Mutex
	src := &fakeSource{
		name: "alpha",
		fetch: func(call int, apiKey string) ([]ctsource.CertificateRecord, error) {
			mu.Lock()
			keysSeen = append(keysSeen, apiKey)
			mu.Unlock()
			if apiKey == "revoked" {
				return nil, &ctsource.SourceError{
					Provider: "alpha", Kind: ctsource.KindAuth, StatusCode: 401,
					Err: fmt.Errorf("credentials rejected"),
				}
			}
			return []ctsource.CertificateRecord{rec}, nil
		},
	}
	keys := keyring.New(keyring.Config{
		Keys: map[string][]string{"alpha": {"revoked", "valid"}},
	})

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{src}, Keys: keys}, "example.com")
	if len(result.Hostnames) != 1 {
		t.Fatalf("got %d hostnames; want 1", len(result.Hostnames))
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(keysSeen, []string{"revoked", "valid"}) {
		t.Errorf("keys used = %v; want [revoked valid]", keysSeen)
	}
}

// TestEnumerateAnonymousFallback: when every key is burned the source is
// queried without one rather than skipped.
func TestEnumerateAnonymousFallback(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := record("CN=CA", notBefore, "www.example.com")
	src := &fakeSource{
		name: "alpha",
		fetch: func(call int, apiKey string) ([]ctsource.CertificateRecord, error) {
			if apiKey != "" {
				return nil, &ctsource.SourceError{
					Provider: "alpha", Kind: ctsource.KindAuth, StatusCode: 401,
					Err: fmt.Errorf("credentials rejected"),
				}
			}
			return []ctsource.CertificateRecord{rec}, nil
		},
	}
	keys := keyring.New(keyring.Config{Keys: map[string][]string{"alpha": {"revoked"}}})

	result := mustEnumerate(t, Config{Sources: []ctsource.Source{src}, Keys: keys}, "example.com")
	if len(result.Hostnames) != 1 {
		t.Errorf("got %d hostnames; want 1 via anonymous fallback", len(result.Hostnames))
	}
}

// TestMergeIdempotentAndCommutative checks the fold directly: merging a
// record set with itself changes nothing, and fold order never changes the
// final entry set.
func TestMergeIdempotentAndCommutative(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recA := record("CN=CA", notBefore, "www.example.com", "api.example.com")
	recB := record("CN=CA", notBefore, "api.example.com", "mail.example.com")

	fold := func(steps ...func(map[string]map[string]struct{})) []HostnameEntry {
		acc := make(map[string]map[string]struct{})
		for _, step := range steps {
			step(acc)
		}
		return buildHostnameEntries(acc)
	}
	addA := func(acc map[string]map[string]struct{}) { mergeRecord(acc, "alpha", &recA) }
	addB := func(acc map[string]map[string]struct{}) { mergeRecord(acc, "beta", &recB) }

	ab := fold(addA, addB)
	ba := fold(addB, addA)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("merge not commutative: %+v vs %+v", ab, ba)
	}

	twice := fold(addA, addB, addA, addB)
	if !reflect.DeepEqual(ab, twice) {
		t.Errorf("merge not idempotent: %+v vs %+v", ab, twice)
	}
}

func TestEnumerateContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := failingSource("alpha", &ctsource.SourceError{
		Provider: "alpha", Kind: ctsource.KindTransport, Err: fmt.Errorf("dial refused"),
	})
	agg, err := New(Config{Sources: []ctsource.Source{src}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := agg.Enumerate(ctx, "example.com"); err == nil {
		t.Error("Enumerate succeeded with a cancelled context")
	}
	// The cancelled context must stop retries.
	if src.callCount() > 1 {
		t.Errorf("source called %d times after cancellation; want at most 1", src.callCount())
	}
}
