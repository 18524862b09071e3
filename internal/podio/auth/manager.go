// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package auth implements the Podio token lifecycle: app-token acquisition,
// expiry tracking, refresh-before-expiry, and rate-limit bookkeeping with
// exponential backoff. State is persisted through the store port so a
// restart resumes with the same token and backoff position.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/podio"
	"github.com/prodflow/packportal/internal/store"
)

const (
	// validityMargin is the safety margin under which a stored token is
	// no longer considered usable.
	validityMargin = 5 * time.Minute

	// expiryBuffer is subtracted from the server's expires_in so refresh
	// happens well before real expiry.
	expiryBuffer = 30 * time.Minute

	// authCooldown rejects re-authentication attempts arriving too soon
	// after the previous one finished.
	authCooldown = 5 * time.Second

	// Local backoff schedule for rate-limit windows without a
	// server-supplied Retry-After.
	backoffInitial = 1 * time.Second
	backoffFactor  = 2
	backoffMax     = 60 * time.Second
)

// Grant types accepted by the platform's token endpoint.
const (
	GrantClientCredentials = "client_credentials"
	GrantApp               = "app"
	GrantRefreshToken      = "refresh_token"
)

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// oauthError is the token endpoint's error body.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Config holds the credentials and endpoint for token acquisition.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL is the platform's token endpoint.
	TokenURL string

	// GrantType is the primary grant: client_credentials (default) or app.
	GrantType string

	// AppID and AppToken are required for the app grant.
	AppID    int64
	AppToken string
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// authAttempt shares one in-flight authentication result between callers.
type authAttempt struct {
	done chan struct{}
	err  error
}

// Manager guarantees that outbound platform calls carry a non-expired
// token while minimizing redundant authentication calls and respecting
// server-imposed rate limits. Safe for concurrent use.
type Manager struct {
	cfg   Config
	creds store.CredentialStore
	httpc Doer
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	token    *store.TokenRecord
	rate     *store.RateLimitRecord
	backoff  *backoff.ExponentialBackOff
	inflight *authAttempt
	lastDone time.Time
}

// NewManager creates a token manager backed by the given credential store.
func NewManager(cfg Config, creds store.CredentialStore, httpc Doer, log *slog.Logger) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://api.podio.com/oauth/token"
	}
	if cfg.GrantType == "" {
		cfg.GrantType = GrantClientCredentials
	}

	return &Manager{
		cfg:     cfg,
		creds:   creds,
		httpc:   httpc,
		log:     logutil.NoopIfNil(log),
		now:     time.Now,
		backoff: newBackoff(),
	}
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.RandomizationFactor = 0
	b.Multiplier = backoffFactor
	b.MaxInterval = backoffMax
	return b
}

// Load restores persisted token and rate-limit state. The backoff position
// is fast-forwarded to the persisted retry count so a restart does not
// restart the schedule from the beginning.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.creds.LoadToken(ctx)
	switch {
	case err == nil:
		m.token = tok
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("load token: %w", err)
	}

	rate, err := m.creds.LoadRateLimit(ctx)
	switch {
	case err == nil:
		m.rate = rate
		for i := 0; i < rate.RetryCount; i++ {
			m.backoff.NextBackOff()
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("load rate limit: %w", err)
	}

	return nil
}

// HasValidToken reports whether a stored token exists and its expiry
// exceeds now plus the safety margin. No side effects.
func (m *Manager) HasValidToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenValidLocked()
}

func (m *Manager) tokenValidLocked() bool {
	return m.token != nil &&
		m.token.AccessToken != "" &&
		m.now().Add(validityMargin).Before(m.token.ExpiresAt)
}

// Token returns the current access token, or "" when none is stored.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.AccessToken
}

// Authenticate performs the configured grant against the token endpoint.
// Concurrent callers share one in-flight attempt; a caller arriving within
// the cooldown of a finished attempt gets ErrAuthInProgress.
func (m *Manager) Authenticate(ctx context.Context) error {
	return m.run(ctx, false)
}

// EnsureAuthenticated returns immediately when a valid token is stored;
// otherwise it attempts refresh-by-refresh-token, falling back to a full
// re-authentication.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if m.HasValidToken() {
		return nil
	}
	return m.run(ctx, true)
}

// run is the single-flight wrapper around one authentication attempt.
func (m *Manager) run(ctx context.Context, tryRefresh bool) error {
	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" {
		return podio.ErrNotConfigured
	}

	m.mu.Lock()
	if a := m.inflight; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !m.lastDone.IsZero() && m.now().Sub(m.lastDone) < authCooldown {
		m.mu.Unlock()
		return podio.ErrAuthInProgress
	}
	attempt := &authAttempt{done: make(chan struct{})}
	m.inflight = attempt
	m.mu.Unlock()

	err := m.attempt(ctx, tryRefresh)

	m.mu.Lock()
	attempt.err = err
	m.inflight = nil
	m.lastDone = m.now()
	m.mu.Unlock()
	close(attempt.done)

	return err
}

// attempt performs one refresh-or-grant cycle.
func (m *Manager) attempt(ctx context.Context, tryRefresh bool) error {
	if tryRefresh {
		m.mu.Lock()
		refresh := ""
		if m.token != nil {
			refresh = m.token.RefreshToken
		}
		m.mu.Unlock()

		if refresh != "" {
			if err := m.grant(ctx, refreshForm(m.cfg, refresh)); err == nil {
				return nil
			} else if podio.IsRateLimited(err) {
				return err
			}
			m.log.Debug("token refresh failed, falling back to full authentication")
		}
	}

	return m.grant(ctx, grantForm(m.cfg))
}

func grantForm(cfg Config) url.Values {
	form := url.Values{}
	form.Set("grant_type", cfg.GrantType)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	if cfg.GrantType == GrantApp {
		form.Set("app_id", strconv.FormatInt(cfg.AppID, 10))
		form.Set("app_token", cfg.AppToken)
	}
	return form
}

func refreshForm(cfg Config, refreshToken string) url.Values {
	form := url.Values{}
	form.Set("grant_type", GrantRefreshToken)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)
	return form
}

// grant posts one token request and stores the result.
func (m *Manager) grant(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", podio.ErrNotAuthenticated, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		// Network failure is treated the same as an authentication failure.
		m.log.Warn("token request failed", "error", err)
		return fmt.Errorf("%w: %v", podio.ErrNotAuthenticated,
			&podio.NetworkError{Op: "token request", Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", podio.ErrNotAuthenticated, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 420 {
		delay := retryAfterSeconds(resp.Header.Get("Retry-After"))
		m.RecordRateLimit(ctx, delay, "oauth/token")
		return &podio.RateLimitedError{RetryAfter: m.RateLimitedFor(ctx), Endpoint: "oauth/token"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oe oauthError
		if json.Unmarshal(body, &oe) == nil && oe.Error != "" {
			m.log.Warn("authentication rejected", "status", resp.StatusCode, "reason", oe.Error)
			return fmt.Errorf("%w: %s", podio.ErrNotAuthenticated, oe.Error)
		}
		m.log.Warn("authentication rejected", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", podio.ErrNotAuthenticated, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return fmt.Errorf("%w: malformed token response", podio.ErrNotAuthenticated)
	}

	rec := &store.TokenRecord{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryBuffer),
	}

	m.mu.Lock()
	m.token = rec
	m.mu.Unlock()

	if err := m.creds.SaveToken(ctx, rec); err != nil {
		m.log.Warn("failed to persist token", "error", err)
	}

	m.RecordSuccess(ctx)
	return nil
}

// Invalidate discards the stored token, e.g. on logout.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
	return m.creds.DeleteToken(ctx)
}

// RecordRateLimit marks a rate-limit window. A server-supplied Retry-After
// is authoritative; without one, the delay follows the local exponential
// schedule. The retry counter grows across consecutive limit events.
func (m *Manager) RecordRateLimit(ctx context.Context, retryAfter time.Duration, endpoint string) {
	m.mu.Lock()
	rec := m.rate
	if rec == nil {
		rec = &store.RateLimitRecord{}
		m.rate = rec
	}
	rec.RetryCount++

	delay := retryAfter
	if delay <= 0 {
		delay = m.backoff.NextBackOff()
	}

	rec.Limited = true
	rec.Until = m.now().Add(delay)
	rec.Endpoint = endpoint
	cp := *rec
	m.mu.Unlock()

	m.log.Info("rate limited", "endpoint", endpoint, "delay", delay, "retry_count", cp.RetryCount)

	if err := m.creds.SaveRateLimit(ctx, &cp); err != nil {
		m.log.Warn("failed to persist rate-limit state", "error", err)
	}
}

// IsRateLimited reports whether a backoff window is active. An expired
// window is cleared lazily here, avoiding a background timer.
func (m *Manager) IsRateLimited(ctx context.Context) bool {
	return m.RateLimitedFor(ctx) > 0
}

// RateLimitedFor returns the remaining backoff window, or 0 when none is
// active.
func (m *Manager) RateLimitedFor(ctx context.Context) time.Duration {
	m.mu.Lock()
	if m.rate == nil || !m.rate.Limited {
		m.mu.Unlock()
		return 0
	}

	remaining := m.rate.Until.Sub(m.now())
	if remaining > 0 {
		m.mu.Unlock()
		return remaining
	}

	// Window elapsed: clear the flag but keep the retry counter so a
	// consecutive limit event keeps climbing the schedule.
	m.rate.Limited = false
	m.rate.Until = time.Time{}
	cp := *m.rate
	m.mu.Unlock()

	if err := m.creds.SaveRateLimit(ctx, &cp); err != nil {
		m.log.Warn("failed to persist rate-limit state", "error", err)
	}
	return 0
}

// ClearRateLimit resets the backoff window, e.g. after a user-initiated
// "retry now".
func (m *Manager) ClearRateLimit(ctx context.Context) {
	m.mu.Lock()
	m.rate = nil
	m.backoff = newBackoff()
	m.mu.Unlock()

	if err := m.creds.ClearRateLimit(ctx); err != nil {
		m.log.Warn("failed to clear rate-limit state", "error", err)
	}
}

// RecordSuccess resets the retry counter after a successful platform call.
func (m *Manager) RecordSuccess(ctx context.Context) {
	m.mu.Lock()
	hadState := m.rate != nil
	m.rate = nil
	m.backoff = newBackoff()
	m.mu.Unlock()

	if !hadState {
		return
	}
	if err := m.creds.ClearRateLimit(ctx); err != nil {
		m.log.Warn("failed to clear rate-limit state", "error", err)
	}
}

// retryAfterSeconds parses a Retry-After header of whole seconds.
func retryAfterSeconds(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
