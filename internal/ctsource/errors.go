/*
Package ctsource defines the canonical certificate record produced by every
Certificate Transparency provider, the Source adapter interface, and one
adapter per supported provider (crt.sh, CertSpotter).
*/
package ctsource

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed provider fetch. The key manager and the
// aggregator's retry loop branch on it: auth failures burn the key,
// rate-limit failures cool it down, transport failures are retried as-is,
// and parse failures end the attempt for that source.
type ErrorKind int

const (
	// KindTransport covers network-level failures: dial errors, timeouts,
	// unexpected HTTP status codes with no more specific meaning.
	KindTransport ErrorKind = iota
	// KindAuth means the provider rejected the supplied API key.
	KindAuth
	// KindRateLimit means the provider signalled throttling (HTTP 429 or a
	// documented quota-exceeded payload).
	KindRateLimit
	// KindParse means the response body did not match the expected schema.
	KindParse
)

// String returns the lowercase label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindParse:
		return "parse"
	default:
		return "transport"
	}
}

// SourceError is the error type returned by Source.Fetch implementations.
// It carries the provider name, the failure classification, and the HTTP
// status code when one was received.
type SourceError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

// Error implements the standard error interface.
func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failed call may succeed on a later attempt
// with the same key. Rate-limited calls are retryable too, but only after
// backoff or key rotation, which the caller handles separately.
func (e *SourceError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimit
}

// newSourceError wraps err for the given provider and kind.
func newSourceError(provider string, kind ErrorKind, status int, err error) *SourceError {
	return &SourceError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// AsSourceError extracts a *SourceError from err's chain. Errors that are
// not SourceErrors (context cancellation, programming errors) return nil.
func AsSourceError(err error) *SourceError {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// KindOf returns the classification of err, defaulting to KindTransport for
// anything that is not a *SourceError. nil errors have no kind; callers must
// check for success first.
func KindOf(err error) ErrorKind {
	if se := AsSourceError(err); se != nil {
		return se.Kind
	}
	return KindTransport
}

// IsRetryable reports whether err may be resolved by retrying (possibly
// after backoff or key rotation). Non-SourceErrors default to false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se := AsSourceError(err); se != nil {
		return se.Retryable()
	}
	return false
}
