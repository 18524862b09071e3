// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package json implements a JSON file-based persistence driver.
// It uses atomic writes (temp file + fsync + rename) and in-process locking.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prodflow/packportal/internal/store"
)

func init() {
	store.Register("json", NewDriver)
}

const (
	credentialsFile = "credentials.json"
	sessionsFile    = "sessions.json"
)

// credentials is the on-disk form of the fixed-key credential blobs.
type credentials struct {
	Token     *store.TokenRecord     `json:"token,omitempty"`
	RateLimit *store.RateLimitRecord `json:"rate_limit,omitempty"`
}

// Driver implements the store.Driver interface using JSON files.
type Driver struct {
	dataDir string
	mu      sync.RWMutex
	closed  bool

	creds    credentials
	sessions map[string]*store.Session // keyed by session token
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	return &Driver{
		dataDir:  cfg.DataDir,
		sessions: make(map[string]*store.Session),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads data from JSON files.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := d.loadFile(credentialsFile, &d.creds); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if err := d.loadFile(sessionsFile, &d.sessions); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	return nil
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) loadFile(name string, target any) error {
	data, err := os.ReadFile(filepath.Join(d.dataDir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// saveFile writes atomically: temp file + fsync + rename.
func (d *Driver) saveFile(name string, source any) error {
	data, err := json.MarshalIndent(source, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(d.dataDir, name)
	tmp, err := os.CreateTemp(d.dataDir, name+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// CredentialStore implementation

func (d *Driver) SaveToken(ctx context.Context, rec *store.TokenRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	cp := *rec
	d.creds.Token = &cp
	return d.saveFile(credentialsFile, &d.creds)
}

func (d *Driver) LoadToken(ctx context.Context) (*store.TokenRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, store.ErrClosed
	}

	if d.creds.Token == nil {
		return nil, store.ErrNotFound
	}
	cp := *d.creds.Token
	return &cp, nil
}

func (d *Driver) DeleteToken(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	d.creds.Token = nil
	return d.saveFile(credentialsFile, &d.creds)
}

func (d *Driver) SaveRateLimit(ctx context.Context, rec *store.RateLimitRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	cp := *rec
	d.creds.RateLimit = &cp
	return d.saveFile(credentialsFile, &d.creds)
}

func (d *Driver) LoadRateLimit(ctx context.Context) (*store.RateLimitRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, store.ErrClosed
	}

	if d.creds.RateLimit == nil {
		return nil, store.ErrNotFound
	}
	cp := *d.creds.RateLimit
	return &cp, nil
}

func (d *Driver) ClearRateLimit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	d.creds.RateLimit = nil
	return d.saveFile(credentialsFile, &d.creds)
}

// SessionStore implementation

func (d *Driver) CreateSession(ctx context.Context, s *store.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	cp := *s
	d.sessions[s.Token] = &cp
	return d.saveFile(sessionsFile, &d.sessions)
}

func (d *Driver) GetSession(ctx context.Context, token string) (*store.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, store.ErrClosed
	}

	s, ok := d.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) DeleteSession(ctx context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	delete(d.sessions, token)
	return d.saveFile(sessionsFile, &d.sessions)
}

func (d *Driver) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}

	changed := false
	for token, s := range d.sessions {
		if s.IsExpired(now) {
			delete(d.sessions, token)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.saveFile(sessionsFile, &d.sessions)
}
