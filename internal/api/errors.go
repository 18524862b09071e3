// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package api exposes the portal over HTTP: authentication, spec review
// and approval endpoints, plus common error handling.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prodflow/packportal/internal/podio"
	"github.com/prodflow/packportal/internal/portal"
)

// Deterministic reason codes for stable error classification.
// These codes should remain stable across versions for client compatibility.
const (
	// Authentication and sessions
	ReasonUnauthenticated    = "unauthenticated"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonSessionExpired     = "session_expired"

	// Upstream platform
	ReasonRateLimited       = "rate_limited"
	ReasonUpstreamError     = "upstream_error"
	ReasonMalformedResponse = "malformed_response"
	ReasonNotConfigured     = "not_configured"

	// Request validation
	ReasonBadRequest = "bad_request"
	ReasonNotFound   = "not_found"

	// Server errors
	ReasonInternalError = "internal_error"
)

// ErrorEnvelope is the standard error response format.
// All error responses should use this structure for consistency.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	envelope := ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	}

	json.NewEncoder(w).Encode(envelope)
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ReasonBadRequest, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// WritePlatformError maps an error from the portal or platform layers to
// an HTTP response. Rate limiting carries a Retry-After header so clients
// can honor the remaining window.
func WritePlatformError(w http.ResponseWriter, log *slog.Logger, err error) {
	var rl *podio.RateLimitedError
	var apiErr *podio.APIError
	switch {
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone):
		WriteNotFound(w, "no such item")
	case errors.Is(err, portal.ErrInvalidCredentials):
		WriteUnauthorized(w, ReasonInvalidCredentials, "invalid username or password")
	case errors.Is(err, portal.ErrSessionExpired):
		WriteUnauthorized(w, ReasonSessionExpired, "session expired, please log in again")
	case errors.Is(err, portal.ErrChangesRequired):
		WriteBadRequest(w, "a description of the requested changes is required")
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter/time.Second)))
		}
		WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, "the upstream platform is rate limiting requests")
	case errors.Is(err, podio.ErrNotConfigured):
		WriteError(w, http.StatusServiceUnavailable, ReasonNotConfigured, "platform credentials are not configured")
	case errors.Is(err, podio.ErrMalformedResponse):
		WriteError(w, http.StatusBadGateway, ReasonMalformedResponse, "the upstream platform returned an unreadable response")
	case errors.Is(err, podio.ErrNotAuthenticated), isUpstream(err):
		WriteError(w, http.StatusBadGateway, ReasonUpstreamError, "the upstream platform request failed")
	default:
		if log != nil {
			log.Error("unhandled error", "error", err)
		}
		WriteInternalError(w, "internal error")
	}
}

func isUpstream(err error) bool {
	var apiErr *podio.APIError
	var netErr *podio.NetworkError
	return errors.As(err, &apiErr) || errors.As(err, &netErr)
}
