package ctsource

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
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestNormalizeDomain provides table-driven tests for various domain formats and edge cases.
// Goal: Ensure NormalizeDomain behaves correctly for diverse inputs.
func TestNormalizeDomain(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple domain", "example.com", "example.com"},
		{"Subdomain", "www.example.com", "www.example.com"},
		{"Uppercase", "EXAMPLE.COM", "example.com"},
		{"Mixed case", "Www.Example.Com", "www.example.com"},
		{"Trailing dot", "example.com.", "example.com"},
		{"Multiple trailing dots", "example.com...", "example.com"},
		{"Leading dot", ".example.com", "example.com"},
		{"Leading/Trailing dots", ".example.com.", "example.com"},
		{"Leading/Trailing spaces", "  example.com  ", "example.com"},
		{"Wildcard", "*.example.com", "*.example.com"},
		{"Wildcard uppercase", "*.EXAMPLE.COM", "*.example.com"},
		{"Wildcard trailing dot", "*.example.com.", "*.example.com"},
		{"Punycode", "xn--bcher-kva.example.com", "xn--bcher-kva.example.com"},
		{"Punycode uppercase", "XN--BCHER-KVA.EXAMPLE.COM", "xn--bcher-kva.example.com"},
		{"Empty string", "", ""},
		{"Just spaces", "   ", ""},
		{"Just dots", "...", ""},
		{"Leading dash", "-example.com", "-example.com"},
		{"Trailing dash", "example-.com", "example-.com"},
		{"Very long domain", strings.Repeat("a.", 100) + "com", strings.Repeat("a.", 100) + "com"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actual := NormalizeDomain(tc.input)
			if actual != tc.expected {
				t.Errorf("NormalizeDomain(%q) = %q; want %q", tc.input, actual, tc.expected)
			}
		})
	}
}

// TestValidTargetDomain checks that only plain registrable hostnames pass as
// enumeration targets.
func TestValidTargetDomain(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		input      string
		normalized string
		ok         bool
	}{
		{"Simple domain", "example.com", "example.com", true},
		{"Uppercase", "EXAMPLE.COM", "example.com", true},
		{"Trailing dot", "example.com.", "example.com", true},
		{"Empty", "", "", false},
		{"Whitespace only", "   ", "", false},
		{"Wildcard rejected", "*.example.com", "", false},
		{"Port rejected", "example.com:443", "", false},
		{"URL rejected", "https://example.com", "", false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			normalized, ok := ValidTargetDomain(tc.input)
			if ok != tc.ok || normalized != tc.normalized {
				t.Errorf("ValidTargetDomain(%q) = (%q, %v); want (%q, %v)",
					tc.input, normalized, ok, tc.normalized, tc.ok)
			}
		})
	}
}

// TestCertificateRecordKey verifies key stability: the identity hash must not
// depend on name ordering or casing, and must change when the certificate
// content changes.
func TestCertificateRecordKey(t *testing.T) {
	t.Parallel()
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	a := CertificateRecord{
		Issuer:    "C=US, O=Let's Encrypt, CN=R11",
		NotBefore: notBefore,
		NotAfter:  notAfter,
		DNSNames:  []string{"www.example.com", "example.com"},
	}
	b := CertificateRecord{
		Issuer:    "C=US, O=Let's Encrypt, CN=R11",
		NotBefore: notBefore,
		NotAfter:  notAfter,
		DNSNames:  []string{"EXAMPLE.COM", "www.example.com."},
	}
	if a.Key() != b.Key() {
		t.Errorf("records with equivalent names hash differently: %s vs %s", a.Key(), b.Key())
	}

	c := a
	c.Issuer = "C=US, O=Other CA, CN=X1"
	if a.Key() == c.Key() {
		t.Error("records with different issuers must not share a key")
	}

	d := a
	d.NotBefore = notBefore.Add(24 * time.Hour)
	if a.Key() == d.Key() {
		t.Error("records with different validity windows must not share a key")
	}
}

// TestProbeableHostnames verifies wildcard entries stay on the record but are
// excluded from the probeable set.
func TestProbeableHostnames(t *testing.T) {
	t.Parallel()
	rec := CertificateRecord{
		Issuer:   "CN=Test",
		DNSNames: []string{"*.example.com", "api.example.com", "WWW.example.com", "api.example.com."},
	}
	got := rec.ProbeableHostnames()
	want := []string{"api.example.com", "www.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ProbeableHostnames() = %v; want %v", got, want)
	}
	// The wildcard must still be visible on the record itself.
	if _, present := rec.NormalizedNameSet()["*.example.com"]; !present {
		t.Error("wildcard dropped from NormalizedNameSet")
	}
}

// BenchmarkNormalizeDomainSimple measures performance for a common, simple domain.
func BenchmarkNormalizeDomainSimple(b *testing.B) {
	domain := "www.example.com"
	for i := 0; i < b.N; i++ {
		_ = NormalizeDomain(domain)
	}
}

// BenchmarkCertificateRecordKey measures the identity hash over a realistic SAN list.
func BenchmarkCertificateRecordKey(b *testing.B) {
	rec := CertificateRecord{
		Issuer:    "C=US, O=Let's Encrypt, CN=R11",
		NotBefore: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		DNSNames:  []string{"example.com", "www.example.com", "api.example.com", "*.cdn.example.com"},
	}
	for i := 0; i < b.N; i++ {
		_ = rec.Key()
	}
}
