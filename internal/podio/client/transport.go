// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package client

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrResponseTooLarge indicates a response body above the configured cap.
var ErrResponseTooLarge = errors.New("response body too large")

// TransportConfig bounds the outbound HTTP behavior.
type TransportConfig struct {
	TimeoutMS          int   `toml:"timeout_ms"`
	ConnectTimeoutMS   int   `toml:"connect_timeout_ms"`
	MaxResponseBytes   int64 `toml:"max_response_bytes"`
	InsecureSkipVerify bool  `toml:"insecure_skip_verify"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *TransportConfig) ApplyDefaults() {
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 10000
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 2000
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 1 << 20
	}
}

// NewHTTPClient builds a bounded HTTP client for platform calls.
// Redirects are never followed automatically: authorized requests must not
// replay their Authorization header at a location the platform did not
// return, so a 3xx surfaces to the caller as-is.
// Proxy environment variables are ignored.
func NewHTTPClient(cfg *TransportConfig) *http.Client {
	if cfg == nil {
		cfg = &TransportConfig{}
	}
	cfg.ApplyDefaults()

	dialer := &net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
	}

	transport := &http.Transport{
		Proxy:       nil,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// readBody reads a response body with a size cap.
func readBody(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}
