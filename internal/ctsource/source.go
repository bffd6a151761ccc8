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

import "context"

// Provider identifiers. These are the names used for key configuration,
// source attribution in merged results, logs, and metric labels.
const (
	ProviderCrtSh       = "crtsh"
	ProviderCertSpotter = "certspotter"
)

// Source translates one CT provider's HTTP API into canonical
// CertificateRecords. Implementations must not retain or mutate returned
// records and must map failures onto *SourceError.
type Source interface {
	// Name returns the stable provider identifier.
	Name() string
	// SupportsAnonymous reports whether Fetch may be called with an empty
	// apiKey, typically at a reduced quota. When false, a provider without
	// a usable key is skipped for the run.
	SupportsAnonymous() bool
	// Fetch queries the provider for certificates covering domain and its
	// subdomains. A successful call with zero results is a valid outcome
	// and distinct from an error.
	Fetch(ctx context.Context, domain, apiKey string) ([]CertificateRecord, error)
}

// DefaultSources returns the adapters enabled out of the box.
func DefaultSources() []Source {
	return []Source{
		NewCrtSh(),
		NewCertSpotter(),
	}
}
