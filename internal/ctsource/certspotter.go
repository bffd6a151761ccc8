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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/certscout/certscout/internal/client"
)

// CertSpotterBaseURL is the production SSLMate CertSpotter endpoint.
const CertSpotterBaseURL = "https://api.certspotter.com"

// certspotterIssuance mirrors the fields we consume from one CertSpotter
// issuance object. Extra fields (id, tbs_sha256, pubkey_sha256, ...) are
// ignored.
type certspotterIssuance struct {
	DNSNames  []string `json:"dns_names"`
	NotBefore string   `json:"not_before"`
	NotAfter  string   `json:"not_after"`
	Issuer    struct {
		Name         string `json:"name"`
		FriendlyName string `json:"friendly_name"`
	} `json:"issuer"`
}

// certspotterProblem is CertSpotter's documented error payload.
type certspotterProblem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CertSpotter queries the SSLMate CertSpotter issuances API. Authenticated
// requests carry a bearer token; anonymous access works at a sharply reduced
// quota, so key rotation matters here.
type CertSpotter struct {
	baseURL string
}

// NewCertSpotter returns an adapter pointed at the production endpoint.
func NewCertSpotter() *CertSpotter {
	return &CertSpotter{baseURL: CertSpotterBaseURL}
}

// Name implements Source.
func (s *CertSpotter) Name() string { return ProviderCertSpotter }

// SupportsAnonymous implements Source.
func (s *CertSpotter) SupportsAnonymous() bool { return true }

// Fetch implements Source.
func (s *CertSpotter) Fetch(ctx context.Context, domain, apiKey string) ([]CertificateRecord, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("include_subdomains", "true")
	q.Add("expand", "dns_names")
	q.Add("expand", "issuer")
	reqURL := fmt.Sprintf("%s/v1/issuances?%s", s.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newSourceError(ProviderCertSpotter, KindTransport, 0, err)
	}
	req.Header.Set("User-Agent", client.UserAgent())
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Get().Do(req)
	if err != nil {
		return nil, newSourceError(ProviderCertSpotter, KindTransport, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newSourceError(ProviderCertSpotter, KindTransport, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.classifyError(resp.StatusCode, body)
	}

	var issuances []certspotterIssuance
	if err := json.Unmarshal(body, &issuances); err != nil {
		return nil, newSourceError(ProviderCertSpotter, KindParse, resp.StatusCode,
			fmt.Errorf("unexpected response schema: %w", err))
	}

	records := make([]CertificateRecord, 0, len(issuances))
	for _, iss := range issuances {
		if len(iss.DNSNames) == 0 {
			continue
		}
		rec := CertificateRecord{
			Issuer:    iss.Issuer.Name,
			NotBefore: parseRFC3339(iss.NotBefore),
			NotAfter:  parseRFC3339(iss.NotAfter),
			DNSNames:  append([]string(nil), iss.DNSNames...),
		}
		if rec.Issuer == "" {
			rec.Issuer = iss.Issuer.FriendlyName
		}
		records = append(records, rec)
	}
	return records, nil
}

// classifyError maps a non-200 CertSpotter response onto the taxonomy,
// consulting the documented problem payload where the status alone is
// ambiguous.
func (s *CertSpotter) classifyError(status int, body []byte) *SourceError {
	var problem certspotterProblem
	_ = json.Unmarshal(body, &problem) // best effort, payload is optional

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newSourceError(ProviderCertSpotter, KindAuth, status,
			fmt.Errorf("credentials rejected: %s", problem.Message))
	case status == http.StatusTooManyRequests || problem.Code == "rate_limited":
		return newSourceError(ProviderCertSpotter, KindRateLimit, status,
			fmt.Errorf("provider throttling: %s", problem.Message))
	default:
		return newSourceError(ProviderCertSpotter, KindTransport, status,
			fmt.Errorf("unexpected HTTP status: %s", problem.Message))
	}
}

// parseRFC3339 is lenient like parseCrtshTime: bad timestamps degrade to a
// zero time rather than failing the response.
func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
