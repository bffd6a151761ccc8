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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// CertificateRecord is the canonical shape every provider response is mapped
// into. Records are immutable once created; unknown provider fields are
// dropped during mapping.
type CertificateRecord struct {
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	// DNSNames holds the subject CN plus SAN hostnames as reported by the
	// provider, including wildcard entries.
	DNSNames []string `json:"subject_alternative_names"`
}

// Key calculates a NON-CRYPTOGRAPHIC identity hash (xxh3) over the issuer,
// validity window, and sorted normalized names. Two records with the same
// key describe the same certificate regardless of which provider reported it.
func (c *CertificateRecord) Key() string {
	names := c.SortedNormalizedNames()
	var sb strings.Builder
	sb.Grow(len(c.Issuer) + 32 + len(names)*16)
	sb.WriteString(c.Issuer)
	sb.WriteByte('|')
	sb.WriteString(c.NotBefore.UTC().Format(time.RFC3339))
	sb.WriteByte('|')
	sb.WriteString(c.NotAfter.UTC().Format(time.RFC3339))
	for _, n := range names {
		sb.WriteByte('|')
		sb.WriteString(n)
	}
	h := xxh3.HashString(sb.String())
	return fmt.Sprintf("%x", h)
}

// NormalizedNameSet returns a set (map[string]struct{}) of normalized names.
func (c *CertificateRecord) NormalizedNameSet() map[string]struct{} {
	result := make(map[string]struct{}, len(c.DNSNames))
	for _, name := range c.DNSNames {
		normalized := NormalizeDomain(name)
		if normalized != "" {
			result[normalized] = struct{}{}
		}
	}
	return result
}

// SortedNormalizedNames returns sorted, unique, normalized names.
func (c *CertificateRecord) SortedNormalizedNames() []string {
	nameSet := c.NormalizedNameSet()
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProbeableHostnames returns the normalized names that describe a concrete
// host: wildcard entries stay on the record but cannot be connected to, so
// they are excluded here.
func (c *CertificateRecord) ProbeableHostnames() []string {
	names := c.SortedNormalizedNames()
	out := names[:0]
	for _, n := range names {
		if strings.Contains(n, "*") {
			continue
		}
		out = append(out, n)
	}
	return out
}

// NormalizeDomain standardizes domain names.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.ContainsAny(domain, " \t\n") {
		if strings.ContainsAny(domain, " :/") || domain == "::1" || strings.HasPrefix(domain, "-") {
			return domain
		}
		return ""
	}
	domain = strings.ToLower(domain)
	for strings.HasPrefix(domain, ".") {
		domain = domain[1:]
	}
	for strings.HasSuffix(domain, ".") {
		domain = domain[:len(domain)-1]
	}
	if domain == "" {
		return ""
	}

	// Preserve wildcard labels. We normalize case/dots but do not strip a
	// leading "*.": inputs like "*.example.com" stay stable, while clearly
	// invalid labels are rejected below.
	parts := strings.SplitSeq(domain, ".")
	for part := range parts {
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return domain // Invalid label structure
		}
		if strings.HasPrefix(part, "*") && part != "*" {
			return domain // Invalid label structure after potential stripping
		}
	}
	return domain
}

// ValidTargetDomain reports whether domain is acceptable as the root input
// of an enumeration run: non-empty after normalization, no scheme, path,
// port or wildcard. The normalized form is returned alongside.
func ValidTargetDomain(domain string) (string, bool) {
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return "", false
	}
	if strings.ContainsAny(normalized, " :/*\\") {
		return "", false
	}
	return normalized, true
}
