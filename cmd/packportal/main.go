// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package main is the entrypoint for the packportal server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prodflow/packportal/internal/api"
	"github.com/prodflow/packportal/internal/config"
	"github.com/prodflow/packportal/internal/platform/cache"
	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/podio/auth"
	"github.com/prodflow/packportal/internal/podio/client"
	"github.com/prodflow/packportal/internal/portal"
	"github.com/prodflow/packportal/internal/store"

	// Register drivers
	_ "github.com/prodflow/packportal/internal/platform/cache/loader"
	_ "github.com/prodflow/packportal/internal/store/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: json or sqlite (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:   listenAddr,
			LoggingLevel: loggingLevel,
			StoreDriver:  storeDriver,
			DataDir:      dataDir,
			CacheDriver:  cacheDriver,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logutil.ParseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store for tokens, rate-limit state and sessions
	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err, "available", store.AvailableDrivers())
		os.Exit(1)
	}
	if err := st.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", st.Name(), "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Snapshot cache (defaults to in-memory if not configured)
	cacheName := cfg.Cache.Driver
	if cacheName == "" {
		cacheName = "memory"
	}
	snapshots, err := cache.New(cacheName, cfg.Cache.Drivers[cacheName])
	if err != nil {
		logger.Error("failed to create cache", "driver", cacheName, "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	// Outbound HTTP client, shared by token acquisition and API calls
	httpc := client.NewHTTPClient(&cfg.OutboundHTTP)

	// Token manager. The app grant authenticates against the Packing Spec
	// dataset; client_credentials covers both datasets.
	tokens := auth.NewManager(auth.Config{
		ClientID:     cfg.Podio.ClientID,
		ClientSecret: cfg.Podio.ClientSecret,
		TokenURL:     cfg.Podio.TokenURL,
		GrantType:    cfg.Podio.GrantType,
		AppID:        cfg.Podio.PackingSpecAppID,
		AppToken:     cfg.Podio.AppToken,
	}, st, httpc, logger)
	if err := tokens.Load(ctx); err != nil {
		logger.Warn("failed to restore token state", "error", err)
	}

	apiClient := client.New(cfg.Podio.APIBase, tokens, httpc, logger)

	sessionTTL := time.Duration(cfg.Session.DurationMinutes) * time.Minute
	authSvc := portal.NewAuthService(apiClient, st, cfg.Podio.ContactsAppID, sessionTTL, logger)
	specSvc := portal.NewSpecService(apiClient, snapshots, cfg.Podio.PackingSpecAppID, logger)

	srv, err := api.New(cfg.ListenAddr, authSvc, specSvc, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
