// Package httpclient builds the shared outbound HTTP client used by executors
// and the catalog fetcher.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds transport and timeout settings.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig matches the ten minute ceilings used by the major provider SDKs.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               600 * time.Second,
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 600 * time.Second,
	}
}

// WithTimeouts returns a copy with the request and header timeouts replaced.
// Non-positive values keep the current setting.
func (c ClientConfig) WithTimeouts(timeout, responseHeader time.Duration) ClientConfig {
	if timeout > 0 {
		c.Timeout = timeout
	}
	if responseHeader > 0 {
		c.ResponseHeaderTimeout = responseHeader
	}
	return c
}

// NewHTTPClient creates a client with its own transport.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewDefaultHTTPClient is NewHTTPClient(DefaultConfig()).
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(DefaultConfig())
}
