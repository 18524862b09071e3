// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package config provides configuration loading and validation.
package config

import (
	"github.com/prodflow/packportal/internal/podio/client"
)

// Config holds the portal configuration.
type Config struct {
	// ListenAddr is the address to listen on.
	// Example: ":8680"
	ListenAddr string `toml:"listen_addr"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Podio holds the platform credentials and app identifiers.
	Podio PodioConfig `toml:"podio"`

	// OutboundHTTP bounds outbound platform calls.
	OutboundHTTP client.TransportConfig `toml:"outbound_http"`

	// Store selects the durable key-value storage driver.
	Store StoreConfig `toml:"store"`

	// Cache selects the snapshot cache driver.
	Cache CacheConfig `toml:"cache"`

	// Session holds portal session settings.
	Session SessionConfig `toml:"session"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, secrets).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// PodioConfig holds the platform credentials and dataset identifiers.
// Credentials are never hardcoded; the client secret and app token may
// also come from the environment (PODIO_CLIENT_SECRET, PODIO_APP_TOKEN).
type PodioConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`

	// TokenURL and APIBase default to the public platform endpoints.
	TokenURL string `toml:"token_url"`
	APIBase  string `toml:"api_base"`

	// GrantType is client_credentials (default) or app.
	GrantType string `toml:"grant_type"`
	AppToken  string `toml:"app_token"`

	// ContactsAppID is the Contacts dataset (customer identities).
	ContactsAppID int64 `toml:"contacts_app_id"`

	// PackingSpecAppID is the Packing Spec dataset.
	PackingSpecAppID int64 `toml:"packing_spec_app_id"`
}

// StoreConfig selects the durable storage driver.
type StoreConfig struct {
	// Driver is json (default) or sqlite.
	Driver string `toml:"driver"`

	// DataDir is the directory for data files.
	DataDir string `toml:"data_dir"`
}

// CacheConfig selects the snapshot cache driver.
type CacheConfig struct {
	// Driver is memory (default) or redis.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]map[string]any `toml:"drivers"`
}

// SessionConfig holds portal session settings.
type SessionConfig struct {
	// DurationMinutes forces re-login after this long, independent of the
	// platform token's own expiry. Default: 240 (4 hours).
	DurationMinutes int `toml:"duration_minutes"`
}

// Redacted returns a copy safe for logging, with secrets masked.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Podio.ClientSecret != "" {
		cp.Podio.ClientSecret = "***"
	}
	if cp.Podio.AppToken != "" {
		cp.Podio.AppToken = "***"
	}
	if cp.Cache.Drivers != nil {
		drivers := make(map[string]map[string]any, len(cp.Cache.Drivers))
		for name, conf := range cp.Cache.Drivers {
			masked := make(map[string]any, len(conf))
			for k, v := range conf {
				if k == "password" {
					masked[k] = "***"
					continue
				}
				masked[k] = v
			}
			drivers[name] = masked
		}
		cp.Cache.Drivers = drivers
	}
	return cp
}
