// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/portal"
)

// ErrMissingDep indicates a required server dependency was nil.
var ErrMissingDep = errors.New("missing required dependency")

// loginAttemptsPerMinute throttles credential guessing per client IP.
const loginAttemptsPerMinute = 5

// Server wraps the HTTP server and its dependencies.
type Server struct {
	httpServer   *http.Server
	log          *slog.Logger
	auth         *portal.AuthService
	specs        *portal.SpecService
	loginLimiter *loginLimiter
}

// New creates the portal HTTP server.
func New(listenAddr string, auth *portal.AuthService, specs *portal.SpecService, log *slog.Logger) (*Server, error) {
	if auth == nil || specs == nil {
		return nil, ErrMissingDep
	}

	s := &Server{
		log:          logutil.NoopIfNil(log),
		auth:         auth,
		specs:        specs,
		loginLimiter: newLoginLimiter(loginAttemptsPerMinute),
	}

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Router builds the chi router with all portal routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// RequestID must come first so the access log can include it.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", HealthHandler)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.loginRateLimitMiddleware).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.With(s.sessionMiddleware).Get("/me", s.handleMe)
		})

		r.Route("/specs", func(r chi.Router) {
			r.Use(s.sessionMiddleware)
			r.Get("/", s.handleListSpecs)
			r.Route("/{specID}", func(r chi.Router) {
				r.Get("/", s.handleGetSpec)
				r.Post("/approve", s.handleApprove)
				r.Post("/request-changes", s.handleRequestChanges)
				r.Post("/comments", s.handleAddComment)
			})
		})
	})

	return r
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("starting server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
