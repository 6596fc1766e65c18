// FraudGuard - Real-time transaction fraud scoring.
// Copyright (c) 2025 fraudguard.io
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/api"
	"github.com/fraudguard-io/fraudguard/internal/bus"
	"github.com/fraudguard-io/fraudguard/internal/cache"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/engine"
	"github.com/fraudguard-io/fraudguard/internal/locations"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/rules"
	"github.com/fraudguard-io/fraudguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("FRAUDGUARD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for distributed deployment via environment
	if os.Getenv("FRAUDGUARD_DISTRIBUTED") == "true" {
		cfg = domain.DistributedConfig()
		slog.Info("running in distributed mode")
	}

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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
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

	// Initialize location history backed by the repository with cache in front
	locationHistory := locations.NewHistory(repo, cacheImpl)
	slog.Info("location history initialized")

	// Initialize scoring engine
	eng, err := engine.New(engine.Options{
		Config:     cfg.Engine,
		Locations:  locationHistory,
		Repository: repo,
		Bus:        busImpl,
	})
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, eng); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized", "rules_count", eng.Rules().RulesCount())

	// Initialize async Worker for event-driven intake
	var asyncWorker *worker.Worker
	if cfg.EventBus.Type == "nats" || os.Getenv("FRAUDGUARD_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Flush write-behind persistence before closing the stores
	eng.Drain()

	slog.Info("fraudguard shutdown complete")
}

// loadRulesFromDatabase loads rules from the database into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, eng *engine.Engine) error {
	store := rules.NewRepositoryStore(repo)
	if err := eng.Rules().ReloadFromStore(ctx, store); err != nil {
		slog.Warn("failed to load rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if count := eng.Rules().RulesCount(); count > 0 {
		slog.Info("loaded rules from database", "count", count)
	} else {
		slog.Info("no rules in database - configure via POST /rules API")
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║             🛡  FRAUDGUARD                 ║")
	fmt.Println("  ║     Transaction Fraud Scoring Engine      ║")
	fmt.Println("  ║     Every transaction, every time.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions              - Score a transaction")
	fmt.Println("    GET  /transactions/{id}         - Get transaction by ID")
	fmt.Println("    GET  /transactions/{id}/score   - Get latest score result")
	fmt.Println("    GET  /alerts                    - List alerts")
	fmt.Println("    POST /alerts/{id}/investigate   - Start investigation")
	fmt.Println("    POST /alerts/{id}/escalate      - Escalate an alert")
	fmt.Println("    POST /alerts/{id}/resolve       - Resolve an alert")
	fmt.Println("    POST /alerts/{id}/false-positive - Close as false positive")
	fmt.Println("    POST /alerts/{id}/actions       - Record a remediation action")
	fmt.Println("    GET  /rules                     - List all rules")
	fmt.Println("    POST /rules                     - Create a new rule")
	fmt.Println("    POST /rules/reload              - Hot-reload rules from database")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
