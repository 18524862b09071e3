// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package store provides the durable key-value storage port behind the
// token manager and the portal's sessions. Drivers register themselves by
// name; the platform remains the system of record for everything else.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Fixed keys for the credential blobs. Stable across versions so a
// process restart resumes with the same token and rate-limit state.
const (
	KeyToken     = "podio_token"
	KeyRateLimit = "podio_rate_limit"
)

// TokenRecord is the persisted OAuth token state.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RateLimitRecord is the persisted rate-limit bookkeeping.
type RateLimitRecord struct {
	Limited    bool      `json:"limited"`
	Until      time.Time `json:"until"`
	RetryCount int       `json:"retry_count"`
	Endpoint   string    `json:"endpoint,omitempty"`
}

// Session is a portal login session. Sessions expire after a fixed
// duration independent of the platform token's own expiry.
type Session struct {
	Token     string    `json:"token"`
	ContactID int64     `json:"contact_id"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true once the session has passed its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CredentialStore persists token and rate-limit state under fixed keys.
type CredentialStore interface {
	SaveToken(ctx context.Context, rec *TokenRecord) error
	// LoadToken returns ErrNotFound when no token is stored.
	LoadToken(ctx context.Context) (*TokenRecord, error)
	DeleteToken(ctx context.Context) error

	SaveRateLimit(ctx context.Context, rec *RateLimitRecord) error
	// LoadRateLimit returns ErrNotFound when no state is stored.
	LoadRateLimit(ctx context.Context) (*RateLimitRecord, error)
	ClearRateLimit(ctx context.Context) error
}

// SessionStore persists portal sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns ErrNotFound for unknown tokens. Expiry is the
	// caller's concern; expired sessions are still returned.
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// Driver is a persistence backend. Implementations must be safe for
// concurrent use.
type Driver interface {
	Init(ctx context.Context) error
	Close() error
	Name() string

	CredentialStore
	SessionStore
}

// DriverConfig selects and configures a driver.
type DriverConfig struct {
	// Driver is the driver name: json or sqlite.
	Driver string `json:"driver"`

	// DataDir is the directory for data files.
	DataDir string `json:"data_dir"`
}

// DriverFactory creates a driver instance.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name. Called from init() in
// driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates a driver instance based on the configuration.
func New(cfg *DriverConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}

	return factory(cfg)
}

// AvailableDrivers returns the registered driver names.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}
