// Harrier - Rule authoring and evaluation for transaction decisioning.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()

	// Cluster mode via environment: PostgreSQL, Redis, NATS
	if os.Getenv("HARRIER_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
	}
	applyEnvOverrides(cfg)

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the field catalog and services
	catalog := domain.DefaultFieldCatalog()
	rules := service.NewRules(store, catalog, busImpl, logger)
	rulesets := service.NewRulesets(store, busImpl, cacheImpl, logger)
	executor := decision.NewExecutor(store, cacheImpl, logger)
	slog.Info("services initialized", "fields", len(catalog.Fields()))

	// Cache-coherence worker: invalidates active-version snapshots on
	// lifecycle events published by other nodes.
	coherenceWorker := worker.NewWorker(busImpl, cacheImpl, logger)
	if err := coherenceWorker.Start(); err != nil {
		slog.Error("failed to start cache worker", "error", err)
		os.Exit(1)
	}
	slog.Info("cache worker started")

	// Initialize Server
	srv := api.NewServer(cfg.Server, rules, rulesets, executor, catalog, store, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := coherenceWorker.Stop(); err != nil {
		slog.Error("failed to stop cache worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// newLogger builds the process logger from config.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("HARRIER_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// applyEnvOverrides layers environment settings over the base config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("HARRIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HARRIER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║    Rule Authoring & Evaluation Engine     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /fields                               - Field catalog")
	fmt.Println("    POST   /rules                                - Create a rule")
	fmt.Println("    POST   /rules/{id}/versions                  - Create a draft version")
	fmt.Println("    POST   /rule-versions/{id}/approve           - Approve a version")
	fmt.Println("    POST   /rule-versions/{id}/evaluate          - Dry-run a version")
	fmt.Println("    POST   /rulesets                             - Create a ruleset")
	fmt.Println("    GET    /ruleset-versions                     - Version table")
	fmt.Println("    POST   /ruleset-versions/{id}/activate       - Activate a version")
	fmt.Println("    POST   /rulesets/{id}/execute                - Execute the active version")
	fmt.Println("    GET    /health                               - Health check")
	fmt.Println()
}
