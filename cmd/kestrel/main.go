// Kestrel - Rules-based ad campaign automation.
// Copyright (c) 2025 opensource.commerce
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

	"github.com/opensource-commerce/kestrel/internal/actions"
	"github.com/opensource-commerce/kestrel/internal/adplatform"
	"github.com/opensource-commerce/kestrel/internal/api"
	"github.com/opensource-commerce/kestrel/internal/bus"
	"github.com/opensource-commerce/kestrel/internal/cache"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/notify"
	"github.com/opensource-commerce/kestrel/internal/quota"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/resolution"
	"github.com/opensource-commerce/kestrel/internal/rules"
	"github.com/opensource-commerce/kestrel/internal/scheduler"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.FromEnv()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scheduler", cfg.Scheduler.Enabled,
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

	// Initialize platform gateway client with cached metric reads
	gateway := adplatform.NewClient(cfg.Gateway)
	metrics := adplatform.NewCachedMetricProvider(gateway, cacheImpl, 0)
	slog.Info("platform gateway initialized", "base_url", cfg.Gateway.BaseURL)

	// Initialize daily action quota. Community tier counts in the
	// repository so caps survive restarts; Pro counts in Redis, which
	// is both durable and shared across nodes.
	var quotaBackend quota.Backend
	if cfg.Tier == domain.TierPro {
		quotaBackend = quota.NewCacheBackend(cacheImpl)
	} else {
		quotaBackend = quota.NewStoreBackend(repo)
	}
	quotaCounter := quota.New(quotaBackend)

	// Initialize condition evaluator
	evaluator, err := rules.NewEvaluator(metrics)
	if err != nil {
		slog.Error("failed to initialize evaluator", "error", err)
		os.Exit(1)
	}
	slog.Info("evaluator initialized")

	// Initialize action executor
	notifier := notify.New(repo, busImpl)
	actionTimeout := time.Duration(cfg.Scheduler.ActionTimeoutSeconds) * time.Second
	executor := actions.NewExecutor(gateway, notifier, quotaCounter, repo, busImpl, actionTimeout)

	// Initialize scheduler
	runner := scheduler.New(repo, gateway, evaluator, executor, busImpl, cfg.Scheduler)
	if cfg.Scheduler.Enabled {
		runner.Start(ctx)
	} else {
		slog.Info("scheduler disabled, run passes via POST /rules/run")
	}

	// Initialize resolution service
	resolutionSvc := resolution.NewService(repo, busImpl)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, evaluator, executor, runner, resolutionSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the scheduler first so in-flight actions finish
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Ad Campaign Automation Engine        ║")
	fmt.Println("  ║      Rules that watch your spend.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules                  - List all rules")
	fmt.Println("    POST /rules                  - Create a new rule")
	fmt.Println("    POST /rules/run              - Trigger an evaluation pass")
	fmt.Println("    GET  /rules/{id}/executions  - Execution history")
	fmt.Println("    GET  /approvals              - Queued action approvals")
	fmt.Println("    POST /approvals/{id}/approve - Approve and apply an action")
	fmt.Println("    GET  /issues                 - List pre-shipment issues")
	fmt.Println("    POST /issues/{id}/resolve    - Resolve an issue")
	fmt.Println("    GET  /metrics                - Prometheus metrics")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
