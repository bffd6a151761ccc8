/*
Package keyring implements the per-provider API key pool: round-robin key
selection, exponential cooldown after rate limiting, and permanent disabling
of rejected keys. All state is owned by a Manager constructed from an
explicit Config; there is no package-level mutable state.
*/
package keyring

import (
	"errors"
	"sync"
	"time"

	"github.com/certscout/certscout/internal/metrics"
)

// ErrNoKeyAvailable is returned by Acquire when every configured key for a
// provider is disabled, cooling down, or already in flight. Callers fall
// back to anonymous access where the provider supports it, otherwise they
// skip the provider for this run. Acquire never blocks waiting for a key.
var ErrNoKeyAvailable = errors.New("no API key available")

// Cooldown tuning. The window doubles on consecutive rate-limit reports for
// the same key and resets on success.
const (
	DefaultCooldownBase = 2 * time.Second
	DefaultCooldownMax  = 5 * time.Minute
	// DefaultMaxInFlightPerKey is the provider-declared concurrency limit
	// applied when the config does not override it.
	DefaultMaxInFlightPerKey = 1
)

// Outcome describes how a request made with an acquired key ended.
type Outcome int

const (
	// OutcomeSuccess clears the key's cooldown state.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited puts the key into an exponential cooldown window.
	OutcomeRateLimited
	// OutcomeAuthFailed disables the key for the remainder of the run.
	OutcomeAuthFailed
	// OutcomeTransportError leaves the key state untouched; the failure
	// says nothing about the key itself.
	OutcomeTransportError
)

// Config holds the key table and tuning knobs for a Manager.
type Config struct {
	// Keys maps provider name to its ordered API key list. Providers may
	// be absent or empty; Acquire then reports ErrNoKeyAvailable.
	Keys map[string][]string
	// MaxInFlightPerKey caps concurrent outstanding requests per key.
	// Zero means DefaultMaxInFlightPerKey.
	MaxInFlightPerKey int
	// CooldownBase and CooldownMax bound the rate-limit backoff window.
	// Zero values take the defaults.
	CooldownBase time.Duration
	CooldownMax  time.Duration
}

// apiKey is the per-key state tracked by the manager.
type apiKey struct {
	value         string
	disabled      bool
	cooldownUntil time.Time
	// nextCooldown is the window applied on the next rate-limit report.
	// It doubles per consecutive report up to CooldownMax.
	nextCooldown time.Duration
	inFlight     int
}

// providerState is the per-provider key list plus its round-robin cursor.
type providerState struct {
	keys   []*apiKey
	cursor int
}

// Manager owns the key pools. Safe for concurrent use; cursor, cooldown and
// in-flight updates happen together under one mutex.
type Manager struct {
	mu        sync.Mutex
	providers map[string]*providerState

	maxInFlight  int
	cooldownBase time.Duration
	cooldownMax  time.Duration

	now func() time.Time // test hook
}

// New builds a Manager from cfg. The key lists are copied; later mutation
// of cfg does not affect the manager.
func New(cfg Config) *Manager {
	m := &Manager{
		providers:    make(map[string]*providerState, len(cfg.Keys)),
		maxInFlight:  cfg.MaxInFlightPerKey,
		cooldownBase: cfg.CooldownBase,
		cooldownMax:  cfg.CooldownMax,
		now:          time.Now,
	}
	if m.maxInFlight <= 0 {
		m.maxInFlight = DefaultMaxInFlightPerKey
	}
	if m.cooldownBase <= 0 {
		m.cooldownBase = DefaultCooldownBase
	}
	if m.cooldownMax <= 0 {
		m.cooldownMax = DefaultCooldownMax
	}
	for provider, keys := range cfg.Keys {
		ps := &providerState{keys: make([]*apiKey, 0, len(keys))}
		for _, k := range keys {
			if k == "" {
				continue
			}
			ps.keys = append(ps.keys, &apiKey{value: k, nextCooldown: m.cooldownBase})
		}
		m.providers[provider] = ps
	}
	return m
}

// HasKeys reports whether at least one key is configured for provider,
// regardless of its current cooldown or disabled state.
func (m *Manager) HasKeys(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.providers[provider]
	return ps != nil && len(ps.keys) > 0
}

// Lease represents one in-flight use of a key. Release must be called
// exactly once when the request finishes, regardless of its outcome.
type Lease struct {
	m        *Manager
	provider string
	key      *apiKey
	released bool
}

// Key returns the API key value held by the lease.
func (l *Lease) Key() string { return l.key.value }

// Release returns the key's in-flight slot to the pool. Idempotent.
func (l *Lease) Release() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.key.inFlight > 0 {
		l.key.inFlight--
	}
}

// Acquire returns a lease on the next usable key for provider, advancing
// the round-robin cursor. A key is usable when it is not disabled, its
// cooldown has elapsed, and it has a free in-flight slot. When no key is
// usable, Acquire fails immediately with ErrNoKeyAvailable.
func (m *Manager) Acquire(provider string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.providers[provider]
	if ps == nil || len(ps.keys) == 0 {
		return nil, ErrNoKeyAvailable
	}

	now := m.now()
	n := len(ps.keys)
	for i := 0; i < n; i++ {
		idx := (ps.cursor + i) % n
		k := ps.keys[idx]
		if k.disabled || k.inFlight >= m.maxInFlight || k.cooldownUntil.After(now) {
			continue
		}
		ps.cursor = (idx + 1) % n
		k.inFlight++
		return &Lease{m: m, provider: provider, key: k}, nil
	}
	return nil, ErrNoKeyAvailable
}

// Report feeds the outcome of a request back into the key's state. The key
// is matched by value so callers can report after releasing the lease.
func (m *Manager) Report(provider, key string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.providers[provider]
	if ps == nil {
		return
	}
	var k *apiKey
	for _, candidate := range ps.keys {
		if candidate.value == key {
			k = candidate
			break
		}
	}
	if k == nil {
		return
	}

	switch outcome {
	case OutcomeSuccess:
		k.cooldownUntil = time.Time{}
		k.nextCooldown = m.cooldownBase
	case OutcomeRateLimited:
		k.cooldownUntil = m.now().Add(k.nextCooldown)
		k.nextCooldown *= 2
		if k.nextCooldown > m.cooldownMax {
			k.nextCooldown = m.cooldownMax
		}
		metrics.RecordKeyCooldown(provider)
	case OutcomeAuthFailed:
		k.disabled = true
		metrics.RecordKeyDisabled(provider)
	case OutcomeTransportError:
		// Says nothing about the key.
	}
}
