// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prodflow/packportal/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// blobRow stores a credential blob under a fixed string key.
type blobRow struct {
	Key   string `gorm:"primaryKey"`
	Value []byte
}

func (blobRow) TableName() string { return "credential_blobs" }

// sessionRow stores a portal session.
type sessionRow struct {
	Token     string `gorm:"primaryKey"`
	ContactID int64  `gorm:"index"`
	Name      string
	ExpiresAt time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "sessions" }

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "portal.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(&blobRow{}, &sessionRow{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// blob helpers

func (d *Driver) saveBlob(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	row := blobRow{Key: key, Value: data}
	return d.db.WithContext(ctx).Save(&row).Error
}

func (d *Driver) loadBlob(ctx context.Context, key string, target any) error {
	var row blobRow
	err := d.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(row.Value, target)
}

func (d *Driver) deleteBlob(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Delete(&blobRow{}, "key = ?", key).Error
}

// CredentialStore implementation

func (d *Driver) SaveToken(ctx context.Context, rec *store.TokenRecord) error {
	return d.saveBlob(ctx, store.KeyToken, rec)
}

func (d *Driver) LoadToken(ctx context.Context) (*store.TokenRecord, error) {
	var rec store.TokenRecord
	if err := d.loadBlob(ctx, store.KeyToken, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *Driver) DeleteToken(ctx context.Context) error {
	return d.deleteBlob(ctx, store.KeyToken)
}

func (d *Driver) SaveRateLimit(ctx context.Context, rec *store.RateLimitRecord) error {
	return d.saveBlob(ctx, store.KeyRateLimit, rec)
}

func (d *Driver) LoadRateLimit(ctx context.Context) (*store.RateLimitRecord, error) {
	var rec store.RateLimitRecord
	if err := d.loadBlob(ctx, store.KeyRateLimit, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *Driver) ClearRateLimit(ctx context.Context) error {
	return d.deleteBlob(ctx, store.KeyRateLimit)
}

// SessionStore implementation

func (d *Driver) CreateSession(ctx context.Context, s *store.Session) error {
	row := sessionRow{
		Token:     s.Token,
		ContactID: s.ContactID,
		Name:      s.Name,
		ExpiresAt: s.ExpiresAt,
	}
	return d.db.WithContext(ctx).Create(&row).Error
}

func (d *Driver) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var row sessionRow
	err := d.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store.Session{
		Token:     row.Token,
		ContactID: row.ContactID,
		Name:      row.Name,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (d *Driver) DeleteSession(ctx context.Context, token string) error {
	return d.db.WithContext(ctx).Delete(&sessionRow{}, "token = ?", token).Error
}

func (d *Driver) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	return d.db.WithContext(ctx).Delete(&sessionRow{}, "expires_at < ?", now).Error
}
