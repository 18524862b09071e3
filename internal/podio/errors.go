// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package podio holds the shared error taxonomy for the Podio client core.
// Every failure leaving the token manager or the API client is one of the
// errors below; raw transport errors never escape untranslated.
package podio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured indicates missing client credentials.
	ErrNotConfigured = errors.New("podio: credentials not configured")

	// ErrNotAuthenticated indicates authentication or refresh failed,
	// or a call still returned 401 after the single re-auth retry.
	ErrNotAuthenticated = errors.New("podio: not authenticated")

	// ErrMalformedResponse indicates a 2xx response whose body failed to parse.
	ErrMalformedResponse = errors.New("podio: malformed response")

	// ErrAuthInProgress indicates an authentication attempt was rejected
	// because a previous attempt finished less than the cooldown ago.
	ErrAuthInProgress = errors.New("podio: authentication attempted too soon")
)

// RateLimitedError indicates a local or server-declared backoff is active.
type RateLimitedError struct {
	// RetryAfter is how long callers should wait before the next attempt.
	RetryAfter time.Duration

	// Endpoint is the endpoint that triggered the limit, when known.
	Endpoint string
}

func (e *RateLimitedError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("podio: rate limited on %s, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("podio: rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// APIError indicates a non-2xx response that is not an auth or rate-limit signal.
type APIError struct {
	Status   int
	Endpoint string
	Body     []byte
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("podio: %s returned %d: %s", e.Endpoint, e.Status, body)
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("podio: network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
