// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prodflow/packportal/internal/domain"
	"github.com/prodflow/packportal/internal/store"
)

// maxRequestBody bounds inbound JSON bodies.
const maxRequestBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Contact   domain.Contact `json:"contact"`
}

// handleLogin authenticates a customer and issues a session token. The
// token is returned in the body and also set as a cookie for browser use.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, contact, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Contact:   *contact,
	})
}

// handleLogout deletes the session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := extractSessionToken(r); token != "" {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.log.Warn("logout failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the identity bound to the current session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"contact_id": session.ContactID,
		"name":       session.Name,
		"expires_at": session.ExpiresAt,
	})
}

type specListResponse struct {
	Specs []domain.PackingSpec `json:"specs"`
	Stale bool                 `json:"stale"`
}

// handleListSpecs lists the caller's packing specs. ?refresh=1 bypasses
// the snapshot cache; the "stale" flag tells the UI when it is looking at
// a cached snapshot because the platform was unavailable.
func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	forceRefresh := r.URL.Query().Get("refresh") == "1"

	specs, stale, err := s.specs.List(r.Context(), session.ContactID, forceRefresh)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}

	if specs == nil {
		specs = []domain.PackingSpec{}
	}
	writeJSON(w, http.StatusOK, specListResponse{Specs: specs, Stale: stale})
}

// handleGetSpec returns one spec with its comment thread.
func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	id, ok := specID(w, r)
	if !ok {
		return
	}

	spec, err := s.specs.Get(r.Context(), id)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}
	if !ownedBy(spec, session) {
		WriteNotFound(w, "no such item")
		return
	}

	writeJSON(w, http.StatusOK, spec)
}

// handleApprove approves a spec on behalf of the logged-in customer.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	id, ok := specID(w, r)
	if !ok {
		return
	}
	if !s.authorizeSpec(w, r, id, session) {
		return
	}

	spec, err := s.specs.Approve(r.Context(), session.ContactID, id, session.Name)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, spec)
}

type requestChangesRequest struct {
	Comment string `json:"comment"`
}

// handleRequestChanges flags a spec as needing changes, with a mandatory
// description of what should change.
func (s *Server) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	id, ok := specID(w, r)
	if !ok {
		return
	}
	if !s.authorizeSpec(w, r, id, session) {
		return
	}

	var req requestChangesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	spec, err := s.specs.RequestChanges(r.Context(), session.ContactID, id, session.Name, req.Comment)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, spec)
}

type commentRequest struct {
	Text string `json:"text"`
}

// handleAddComment posts a comment to the spec's thread.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	id, ok := specID(w, r)
	if !ok {
		return
	}
	if !s.authorizeSpec(w, r, id, session) {
		return
	}

	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		WriteBadRequest(w, "comment text is required")
		return
	}

	comment, err := s.specs.AddComment(r.Context(), id, req.Text)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func specID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "specID"), 10, 64)
	if err != nil || id <= 0 {
		WriteBadRequest(w, "invalid spec id")
		return 0, false
	}
	return id, true
}

// ownedBy reports whether the spec belongs to the session's customer.
// Specs without a customer reference are hidden rather than exposed.
func ownedBy(spec *domain.PackingSpec, session *store.Session) bool {
	return spec.CustomerID != 0 && spec.CustomerID == session.ContactID
}

// authorizeSpec fetches the spec and verifies ownership before a write.
// Failing reads surface as platform errors, foreign specs as not found.
func (s *Server) authorizeSpec(w http.ResponseWriter, r *http.Request, id int64, session *store.Session) bool {
	spec, err := s.specs.Get(r.Context(), id)
	if err != nil {
		WritePlatformError(w, s.log, err)
		return false
	}
	if !ownedBy(spec, session) {
		WriteNotFound(w, "no such item")
		return false
	}
	return true
}
