// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package portal implements the customer-facing services: login against
// the platform's Contacts dataset and review/approval of packing specs.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prodflow/packportal/internal/domain"
	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/podio"
	"github.com/prodflow/packportal/internal/podio/fields"
	"github.com/prodflow/packportal/internal/store"
)

var (
	// ErrInvalidCredentials is returned for any login failure caused by
	// the submitted credentials. It is deliberately generic: the caller
	// must not learn which of username/password was wrong.
	ErrInvalidCredentials = errors.New("portal: invalid credentials")

	// ErrSessionExpired is returned for unknown or expired session tokens.
	ErrSessionExpired = errors.New("portal: session expired")
)

// Caller issues authenticated platform calls. *client.Client satisfies it.
type Caller interface {
	Get(ctx context.Context, endpoint string) (json.RawMessage, error)
	Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error)
	Put(ctx context.Context, endpoint string, body any) (json.RawMessage, error)
}

// contactPageSize is the page size used when scanning the contact listing
// for login matching.
const contactPageSize = 500

// AuthService authenticates customers against the Contacts dataset and
// manages portal sessions.
type AuthService struct {
	api           Caller
	sessions      store.SessionStore
	contactsAppID int64
	sessionTTL    time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// NewAuthService creates the login/session service.
func NewAuthService(api Caller, sessions store.SessionStore, contactsAppID int64, sessionTTL time.Duration, log *slog.Logger) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 4 * time.Hour
	}
	return &AuthService{
		api:           api,
		sessions:      sessions,
		contactsAppID: contactsAppID,
		sessionTTL:    sessionTTL,
		log:           logutil.NoopIfNil(log),
		now:           time.Now,
	}
}

// Login matches the submitted credentials against the Contacts dataset and
// creates a session. The platform cannot filter on text fields, so the
// listing is paged through until the username matches or the dataset is
// exhausted. The password check is a plaintext equality against the
// contact's password field; the credential format is owned by the
// platform dataset and is preserved as-is.
func (s *AuthService) Login(ctx context.Context, username, password string) (*store.Session, *domain.Contact, error) {
	if username == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	match, err := s.findContact(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if match == nil || fields.Text(match.Fields, fields.ContactPasswordField) != password {
		s.log.Info("login rejected", "username", username)
		return nil, nil, ErrInvalidCredentials
	}

	contact := fields.BuildContact(match)

	session := &store.Session{
		Token:     uuid.NewString(),
		ContactID: contact.ID,
		Name:      contact.Name,
		ExpiresAt: s.now().Add(s.sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	// Housekeeping, best effort.
	if err := s.sessions.DeleteExpiredSessions(ctx, s.now()); err != nil {
		s.log.Warn("failed to prune expired sessions", "error", err)
	}

	s.log.Info("customer logged in", "contact_id", contact.ID)
	return session, &contact, nil
}

// findContact pages through the Contacts dataset looking for a
// case-insensitive username match. Returns nil without error when the
// dataset is exhausted.
func (s *AuthService) findContact(ctx context.Context, username string) (*fields.Item, error) {
	endpoint := fmt.Sprintf("/item/app/%d/filter/", s.contactsAppID)

	for offset := 0; ; offset += contactPageSize {
		raw, err := s.api.Post(ctx, endpoint, map[string]any{
			"limit":  contactPageSize,
			"offset": offset,
		})
		if err != nil {
			return nil, err
		}

		var resp fields.FilterResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: contact listing", podio.ErrMalformedResponse)
		}

		for i := range resp.Items {
			if strings.EqualFold(fields.Text(resp.Items[i].Fields, fields.ContactUsernameField), username) {
				return &resp.Items[i], nil
			}
		}

		if len(resp.Items) < contactPageSize {
			return nil, nil
		}
	}
}

// ValidateSession resolves a session token. Expired sessions are deleted
// and reported as ErrSessionExpired; the customer must log in again after
// the fixed session duration regardless of the platform token's state.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*store.Session, error) {
	if token == "" {
		return nil, ErrSessionExpired
	}

	session, err := s.sessions.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}

	if session.IsExpired(s.now()) {
		if err := s.sessions.DeleteSession(ctx, token); err != nil {
			s.log.Warn("failed to delete expired session", "error", err)
		}
		return nil, ErrSessionExpired
	}

	return session, nil
}

// Logout deletes the session.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}
