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
	"strings"
	"time"

	"github.com/certscout/certscout/internal/client"
)

// CrtShBaseURL is the production crt.sh endpoint.
const CrtShBaseURL = "https://crt.sh"

// crtshTimeLayout is the timestamp format crt.sh emits (no zone, UTC).
const crtshTimeLayout = "2006-01-02T15:04:05"

// crtshEntry mirrors the fields we consume from one crt.sh JSON row.
// Extra fields (id, serial_number, ...) are ignored.
type crtshEntry struct {
	IssuerName string `json:"issuer_name"`
	NameValue  string `json:"name_value"`
	NotBefore  string `json:"not_before"`
	NotAfter   string `json:"not_after"`
}

// CrtSh queries crt.sh, which indexes CT logs and answers
// `?q=%.domain&output=json` with the certificates covering a domain.
// crt.sh has no API key scheme; every request is anonymous.
type CrtSh struct {
	baseURL string
}

// NewCrtSh returns an adapter pointed at the production crt.sh endpoint.
func NewCrtSh() *CrtSh {
	return &CrtSh{baseURL: CrtShBaseURL}
}

// Name implements Source.
func (s *CrtSh) Name() string { return ProviderCrtSh }

// SupportsAnonymous implements Source. crt.sh is always anonymous.
func (s *CrtSh) SupportsAnonymous() bool { return true }

// Fetch implements Source. The apiKey argument is ignored; crt.sh does not
// authenticate requests.
func (s *CrtSh) Fetch(ctx context.Context, domain, apiKey string) ([]CertificateRecord, error) {
	// %25 is the URL-encoded "%" wildcard: match domain and all subdomains.
	reqURL := fmt.Sprintf("%s/?q=%%25.%s&output=json", s.baseURL, url.QueryEscape(domain))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newSourceError(ProviderCrtSh, KindTransport, 0, err)
	}
	req.Header.Set("User-Agent", client.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Get().Do(req)
	if err != nil {
		return nil, newSourceError(ProviderCrtSh, KindTransport, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(ProviderCrtSh, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newSourceError(ProviderCrtSh, KindTransport, resp.StatusCode, err)
	}

	var entries []crtshEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, newSourceError(ProviderCrtSh, KindParse, resp.StatusCode,
			fmt.Errorf("unexpected response schema: %w", err))
	}

	records := make([]CertificateRecord, 0, len(entries))
	for _, entry := range entries {
		rec := CertificateRecord{
			Issuer:    entry.IssuerName,
			NotBefore: parseCrtshTime(entry.NotBefore),
			NotAfter:  parseCrtshTime(entry.NotAfter),
		}
		// name_value packs CN and SANs newline-separated into one field.
		for _, name := range strings.Split(entry.NameValue, "\n") {
			name = strings.TrimSpace(name)
			if name != "" {
				rec.DNSNames = append(rec.DNSNames, name)
			}
		}
		if len(rec.DNSNames) == 0 {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseCrtshTime is lenient: a malformed timestamp on one row degrades to a
// zero time instead of failing the whole response.
func parseCrtshTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(crtshTimeLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// classifyStatus maps a non-200 HTTP status onto the error taxonomy.
// crt.sh answers 503 (and occasionally 429) when throttling.
func classifyStatus(provider string, status int) *SourceError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return newSourceError(provider, KindAuth, status, fmt.Errorf("credentials rejected"))
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return newSourceError(provider, KindRateLimit, status, fmt.Errorf("provider throttling"))
	default:
		return newSourceError(provider, KindTransport, status, fmt.Errorf("unexpected HTTP status"))
	}
}
