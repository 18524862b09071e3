// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package client wraps every platform HTTP call with the token manager's
// guarantees and normalizes error handling to the podio taxonomy.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/podio"
)

// authScheme is the Authorization scheme the platform's token
// introspection expects. Podio rejects plain Bearer; a mismatched scheme
// manifests as silent 401s.
const authScheme = "OAuth2"

// TokenSource is the token manager surface the client needs.
type TokenSource interface {
	EnsureAuthenticated(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Token() string
	RateLimitedFor(ctx context.Context) time.Duration
	RecordRateLimit(ctx context.Context, retryAfter time.Duration, endpoint string)
	RecordSuccess(ctx context.Context)
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// call is one in-flight request whose result is shared by deduplicated
// callers.
type call struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Client is the thin orchestration layer over the platform's item API.
// Byte-identical requests (same method, endpoint, and body) are
// deduplicated while one is in flight, so rapid duplicate submissions
// produce one upstream request. Requests that differ only in the body,
// such as filter calls scoped to different customers, are never shared.
type Client struct {
	baseURL string
	httpc   Doer
	tokens  TokenSource
	log     *slog.Logger
	maxBody int64

	mu       sync.Mutex
	inflight map[string]*call
}

// New creates a platform API client.
func New(baseURL string, tokens TokenSource, httpc Doer, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.podio.com"
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpc:    httpc,
		tokens:   tokens,
		log:      logutil.NoopIfNil(log),
		maxBody:  1 << 20,
		inflight: make(map[string]*call),
	}
}

// Call issues one authenticated request against the platform and returns
// the raw JSON body. body may be nil, json.RawMessage, or any marshalable
// value.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	if d := c.tokens.RateLimitedFor(ctx); d > 0 {
		return nil, &podio.RateLimitedError{RetryAfter: d, Endpoint: endpoint}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	key := flightKey(method, endpoint, payload)

	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.result, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.result, cl.err = c.do(ctx, method, endpoint, payload)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.result, cl.err
}

// flightKey identifies a request for in-flight dedup. The body is part of
// the identity because filter endpoints carry the selector in the body,
// not the path; only byte-identical requests may share a flight.
func flightKey(method, endpoint string, payload []byte) string {
	if len(payload) == 0 {
		return method + " " + endpoint
	}
	sum := sha256.Sum256(payload)
	return method + " " + endpoint + " " + hex.EncodeToString(sum[:])
}

// do runs the authenticated request with a bounded retry loop: at most one
// re-authentication and one retried request after a 401/403.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (json.RawMessage, error) {
	if err := c.tokens.EnsureAuthenticated(ctx); err != nil {
		// Rate-limit, configuration and cooldown failures keep their own
		// taxonomy kind; only genuine auth failures collapse.
		if podio.IsRateLimited(err) ||
			errors.Is(err, podio.ErrNotConfigured) ||
			errors.Is(err, podio.ErrAuthInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", podio.ErrNotAuthenticated, err)
	}

	for attempt := 0; attempt <= 1; attempt++ {
		result, retry, err := c.doOnce(ctx, method, endpoint, payload)
		if err == nil {
			return result, nil
		}
		if !retry || attempt == 1 {
			return nil, err
		}

		// 401/403: re-authenticate once, then retry the original call once.
		if authErr := c.tokens.Authenticate(ctx); authErr != nil {
			if podio.IsRateLimited(authErr) {
				return nil, authErr
			}
			return nil, fmt.Errorf("%w: re-authentication failed", podio.ErrNotAuthenticated)
		}
	}

	return nil, podio.ErrNotAuthenticated
}

// doOnce issues one HTTP request. retry is true only for auth failures
// that merit the single re-auth cycle.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte) (result json.RawMessage, retry bool, err error) {
	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, false, fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Authorization", authScheme+" "+c.tokens.Token())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, false, &podio.NetworkError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body, c.maxBody)
	if err != nil {
		return nil, false, &podio.NetworkError{Op: method + " " + endpoint, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 420:
		delay := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.tokens.RecordRateLimit(ctx, delay, endpoint)
		return nil, false, &podio.RateLimitedError{
			RetryAfter: c.tokens.RateLimitedFor(ctx),
			Endpoint:   endpoint,
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Debug("auth rejected by platform", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, true, podio.ErrNotAuthenticated

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, &podio.APIError{Status: resp.StatusCode, Endpoint: endpoint, Body: raw}
	}

	c.tokens.RecordSuccess(ctx)

	if len(raw) == 0 {
		return nil, false, nil
	}
	if !json.Valid(raw) {
		return nil, false, fmt.Errorf("%w: %s", podio.ErrMalformedResponse, endpoint)
	}
	return raw, false, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodGet, endpoint, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPost, endpoint, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPut, endpoint, body)
}

// parseRetryAfter parses a whole-seconds Retry-After header.
func parseRetryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(h, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
