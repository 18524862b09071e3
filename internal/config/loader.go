// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr   *string
	LoggingLevel *string
	StoreDriver  *string
	DataDir      *string
	CacheDriver  *string
}

// Load builds the effective configuration with precedence:
// defaults -> TOML file -> environment -> CLI flags.
func Load(opts LoaderOptions) (*Config, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cfg := defaults()

	if opts.ConfigPath != "" {
		meta, err := toml.DecodeFile(opts.ConfigPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.ConfigPath, err)
		}
		for _, key := range meta.Undecoded() {
			log.Warn("unknown config key", "key", key.String())
		}
	}

	applyEnv(cfg)
	applyFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr: ":8680",
		Logging: LoggingConfig{
			Level: "info",
		},
		Podio: PodioConfig{
			TokenURL:  "https://api.podio.com/oauth/token",
			APIBase:   "https://api.podio.com",
			GrantType: "client_credentials",
		},
		Store: StoreConfig{
			Driver:  "json",
			DataDir: "data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Session: SessionConfig{
			DurationMinutes: 240,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PODIO_CLIENT_ID"); v != "" {
		cfg.Podio.ClientID = v
	}
	if v := os.Getenv("PODIO_CLIENT_SECRET"); v != "" {
		cfg.Podio.ClientSecret = v
	}
	if v := os.Getenv("PODIO_APP_TOKEN"); v != "" {
		cfg.Podio.AppToken = v
	}
}

func applyFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Store.DataDir = *f.DataDir
	}
	if f.CacheDriver != nil && *f.CacheDriver != "" {
		cfg.Cache.Driver = *f.CacheDriver
	}
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", cfg.Logging.Level)
	}

	switch cfg.Podio.GrantType {
	case "client_credentials", "app":
	default:
		return fmt.Errorf("invalid grant_type %q: must be client_credentials or app", cfg.Podio.GrantType)
	}

	if cfg.Session.DurationMinutes <= 0 {
		return fmt.Errorf("session duration_minutes must be positive")
	}

	// Missing credentials are not a startup error; calls fail with a
	// NotConfigured error so the portal can still serve cached reads.
	return nil
}
