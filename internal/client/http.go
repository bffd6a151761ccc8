package client

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

/*
Package client provides a configurable HTTP client shared by the CT source
adapters and the liveliness prober. It manages connection pooling, timeouts,
an optional forward proxy, and the User-Agent applied to outgoing requests.

A single shared client instance is configured once per run and then retrieved
by the components that need it, so TCP connections are reused and transport
behavior stays consistent across providers.
*/

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultUserAgent is sent on outgoing requests unless the caller configured
// its own. It mirrors a mainstream browser because several CT providers and
// probed targets answer differently to obviously synthetic agents.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/113.0"

var (
	// defaultDialTimeout specifies the default timeout for establishing a new connection.
	defaultDialTimeout = 5 * time.Second
	// defaultKeepAliveTimeout specifies the default keep-alive period for an active network connection.
	defaultKeepAliveTimeout = 60 * time.Second
	// defaultIdleConnTimeout is the maximum amount of time an idle (keep-alive) connection will remain
	// idle before closing itself.
	defaultIdleConnTimeout = 90 * time.Second
	// defaultMaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts.
	defaultMaxIdleConns = 100
	// defaultMaxConnsPerHost controls the maximum number of connections per host (includes dial, active, and idle).
	defaultMaxConnsPerHost = 100
	// defaultMaxIdleConnsPerHost is the maximum number of idle connections kept per host.
	defaultMaxIdleConnsPerHost = 50
	// defaultRequestTimeout specifies the default timeout for a complete HTTP request.
	// crt.sh in particular can take a long time to answer large result sets.
	defaultRequestTimeout = 60 * time.Second

	// sharedClient is the global HTTP client instance used by the application.
	// It is lazily initialized on first use or when explicitly configured.
	sharedClient *http.Client
	// sharedUserAgent is the User-Agent configured alongside sharedClient.
	sharedUserAgent = DefaultUserAgent
	// sharedClientLock protects access to sharedClient and clientInitialized.
	sharedClientLock sync.RWMutex
	// clientInitialized indicates whether the sharedClient has been initialized.
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config results in default settings being used.
type Config struct {
	// DialTimeout is the maximum duration for establishing a new connection.
	DialTimeout time.Duration
	// KeepAliveTimeout specifies the keep-alive period for an active network connection.
	KeepAliveTimeout time.Duration
	// IdleConnTimeout is the maximum amount of time an idle (keep-alive) connection
	// will remain idle before closing itself.
	IdleConnTimeout time.Duration
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum number of idle (keep-alive) connections to keep per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost controls the maximum number of connections per host, including connections
	// in the dialing, active, and idle states. On limit violation, dials will block.
	MaxConnsPerHost int
	// RequestTimeout is the timeout for the entire HTTP request, including connection time,
	// all redirects, and reading the response body.
	RequestTimeout time.Duration
	// ProxyURL, when non-empty, routes all outgoing requests through the given
	// forward proxy (e.g. "http://127.0.0.1:8080"). When empty, standard proxy
	// environment variables are respected.
	ProxyURL string
	// UserAgent overrides DefaultUserAgent on outgoing requests when non-empty.
	UserAgent string
}

// DefaultConfig returns a new Config populated with default HTTP client settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:         defaultDialTimeout,
		KeepAliveTimeout:    defaultKeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		RequestTimeout:      defaultRequestTimeout,
	}
}

// Init initializes or reconfigures the shared HTTP client with the provided
// configuration. If a nil config is provided, defaults are used.
// This function is thread-safe.
//
// Note: reconfiguring replaces the existing shared client; idle connections
// on the old transport are closed to avoid leaking them across reconfigs.
func Init(config *Config) error {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	if config == nil {
		config = DefaultConfig()
	}

	// Fill any zero values coming in from partially populated configs;
	// callers set what they care about, we don't assume the rest.
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = defaultIdleConnTimeout
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = defaultMaxIdleConns
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if config.MaxConnsPerHost == 0 {
		config.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	proxy := http.ProxyFromEnvironment
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", config.ProxyURL, err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	if sharedClient != nil {
		if oldTransport, ok := sharedClient.Transport.(*http.Transport); ok && oldTransport != nil {
			oldTransport.CloseIdleConnections()
		}
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout, // Enables TCP keep-alives.
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	sharedClient = &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
	}
	sharedUserAgent = config.UserAgent
	if sharedUserAgent == "" {
		sharedUserAgent = DefaultUserAgent
	}

	clientInitialized = true
	return nil
}

// Get returns the shared HTTP client instance.
// If the client has not been initialized, it is initialized with defaults.
// This function is thread-safe.
func Get() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		// Not initialized; Init takes the write lock itself.
		_ = Init(nil) // defaults carry no proxy URL, cannot fail
		sharedClientLock.RLock()
	}
	c := sharedClient
	sharedClientLock.RUnlock()
	return c
}

// UserAgent returns the User-Agent configured for the shared client.
func UserAgent() string {
	sharedClientLock.RLock()
	defer sharedClientLock.RUnlock()
	if !clientInitialized || sharedUserAgent == "" {
		return DefaultUserAgent
	}
	return sharedUserAgent
}
