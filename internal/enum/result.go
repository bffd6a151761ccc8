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
	"sort"
	"time"

	"github.com/certscout/certscout/internal/ctsource"
	"github.com/certscout/certscout/internal/probe"
)

// HostnameEntry is one merged hostname with the providers that reported it.
// Sources is sorted and never empty.
type HostnameEntry struct {
	Hostname string   `json:"hostname"`
	Sources  []string `json:"sources"`
}

// AggregatedResult is the canonical outcome of one enumeration run. It is
// owned by the Aggregator until returned and treated as immutable afterwards;
// the projections below only read from it.
type AggregatedResult struct {
	Domain      string    `json:"domain"`
	GeneratedAt time.Time `json:"generated_at"`
	// Certificates is deduplicated and deterministically ordered
	// (NotBefore, then identity key).
	Certificates []ctsource.CertificateRecord `json:"certificates"`
	// Hostnames is sorted lexicographically; entries are unique after
	// lowercase normalization and contain no wildcards.
	Hostnames []HostnameEntry `json:"hostnames"`
	// SourceFailures maps a provider that contributed nothing to the reason
	// it failed. Partial failures never abort a run.
	SourceFailures map[string]string `json:"source_failures,omitempty"`
	// Liveliness is populated only when probing was requested. Keyed by
	// endpoint; serialized through the projections, not directly.
	Liveliness map[probe.EndpointTarget]probe.LivenessResult `json:"-"`
}

// HostnameList returns the bare hostnames in their deterministic order,
// ready to hand to the prober.
func (r *AggregatedResult) HostnameList() []string {
	names := make([]string, len(r.Hostnames))
	for i, h := range r.Hostnames {
		names[i] = h.Hostname
	}
	return names
}

// sortedLiveliness flattens the liveliness map into a deterministic slice.
func (r *AggregatedResult) sortedLiveliness() []probe.LivenessResult {
	if len(r.Liveliness) == 0 {
		return nil
	}
	out := make([]probe.LivenessResult, 0, len(r.Liveliness))
	for _, lr := range r.Liveliness {
		out = append(out, lr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Endpoint.Hostname != out[j].Endpoint.Hostname {
			return out[i].Endpoint.Hostname < out[j].Endpoint.Hostname
		}
		return out[i].Endpoint.Port < out[j].Endpoint.Port
	})
	return out
}

// DetailedOutput is output format 1: the full certificate list, the merged
// hostname set, and the liveliness results when probing ran.
type DetailedOutput struct {
	Domain         string                       `json:"domain"`
	GeneratedAt    time.Time                    `json:"generated_at"`
	Certificates   []ctsource.CertificateRecord `json:"certificates"`
	Hostnames      []HostnameEntry              `json:"hostnames"`
	SourceFailures map[string]string            `json:"source_failures,omitempty"`
	Liveliness     []probe.LivenessResult       `json:"liveliness,omitempty"`
}

// Detailed projects r into output format 1 without mutating it.
func Detailed(r *AggregatedResult) DetailedOutput {
	return DetailedOutput{
		Domain:         r.Domain,
		GeneratedAt:    r.GeneratedAt,
		Certificates:   r.Certificates,
		Hostnames:      r.Hostnames,
		SourceFailures: r.SourceFailures,
		Liveliness:     r.sortedLiveliness(),
	}
}

// Endpoint is one row of output format 2.
type Endpoint struct {
	Hostname  string `json:"hostname"`
	Port      int    `json:"port"`
	Reachable bool   `json:"reachable"`
}

// EndpointsOnly projects r into output format 2: a flat endpoint list with
// certificate and issuer data omitted. When probing ran, rows come from the
// liveliness results and includeUnreachable controls whether dead endpoints
// are kept. Without probing, every hostname×port pair is emitted with
// reachability unknown (false).
func EndpointsOnly(r *AggregatedResult, ports []int, includeUnreachable bool) []Endpoint {
	var out []Endpoint
	if len(r.Liveliness) > 0 {
		for _, lr := range r.sortedLiveliness() {
			if !lr.Reachable && !includeUnreachable {
				continue
			}
			out = append(out, Endpoint{
				Hostname:  lr.Endpoint.Hostname,
				Port:      lr.Endpoint.Port,
				Reachable: lr.Reachable,
			})
		}
		return out
	}

	if len(ports) == 0 {
		ports = probe.DefaultPorts()
	}
	for _, h := range r.Hostnames {
		for _, port := range ports {
			out = append(out, Endpoint{Hostname: h.Hostname, Port: port})
		}
	}
	return out
}
