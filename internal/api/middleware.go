// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/prodflow/packportal/internal/store"
)

type contextKey string

// SessionContextKey is the context key for the current session.
const SessionContextKey contextKey = "session"

// loggingMiddleware logs request information using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// sessionMiddleware enforces portal session authentication. Expired or
// unknown tokens get a 401 with a reason code the UI can act on.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractSessionToken(r)
		if token == "" {
			WriteUnauthorized(w, ReasonUnauthenticated, "authentication required")
			return
		}

		session, err := s.auth.ValidateSession(r.Context(), token)
		if err != nil {
			WritePlatformError(w, s.log, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractSessionToken gets the session token from cookie or Authorization header.
func extractSessionToken(r *http.Request) string {
	cookie, err := r.Cookie("session")
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return ""
}

// SessionFromContext returns the session from request context.
func SessionFromContext(ctx context.Context) *store.Session {
	session, _ := ctx.Value(SessionContextKey).(*store.Session)
	return session
}

// loginLimiter is an in-memory per-IP rate limiter for the login endpoint.
type loginLimiter struct {
	mu       sync.Mutex
	counters map[string]*limitCounter
	limit    int
	window   time.Duration
}

type limitCounter struct {
	count   int
	resetAt time.Time
}

func newLoginLimiter(perMinute int) *loginLimiter {
	return &loginLimiter{
		counters: make(map[string]*limitCounter),
		limit:    perMinute,
		window:   time.Minute,
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	counter, exists := l.counters[key]
	if !exists || now.After(counter.resetAt) {
		l.counters[key] = &limitCounter{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	if counter.count < l.limit {
		counter.count++
		return true
	}

	return false
}

// loginRateLimitMiddleware throttles credential guessing per client IP.
func (s *Server) loginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.loginLimiter.allow(ip) {
			s.log.Warn("login rate limit exceeded", "client_ip", ip)
			w.Header().Set("Retry-After", "60")
			WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, "too many login attempts, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
