// Kestrel - Decision support for fraud analysts.
// Copyright (c) 2026 Kestrel Insights
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kestrel-insights/kestrel/internal/alerts"
	"github.com/kestrel-insights/kestrel/internal/api"
	"github.com/kestrel-insights/kestrel/internal/bus"
	"github.com/kestrel-insights/kestrel/internal/cache"
	"github.com/kestrel-insights/kestrel/internal/cases"
	"github.com/kestrel-insights/kestrel/internal/config"
	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/metrics"
	"github.com/kestrel-insights/kestrel/internal/report"
	"github.com/kestrel-insights/kestrel/internal/repository"
	"github.com/kestrel-insights/kestrel/internal/scoring"
	"github.com/kestrel-insights/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "kestrel.yaml", "path to the configuration file")
	flag.Parse()

	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_worker", cfg.AsyncWorker,
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

	// Initialize Alert Engine
	engine, err := alerts.NewEngine()
	if err != nil {
		slog.Error("failed to initialize alert engine", "error", err)
		os.Exit(1)
	}
	slog.Info("alert engine initialized")

	// Optional remote scorer
	var scorer domain.Scorer
	if cfg.Scorer.URL != "" {
		scorer = scoring.NewHTTPScorer(cfg.Scorer)
		slog.Info("remote scorer configured", "url", cfg.Scorer.URL)
	}

	// Report pipeline and case service
	generator := report.NewGenerator(repo, engine, scorer, cacheImpl, busImpl)
	caseSvc := cases.NewService(repo, busImpl)

	// Sample DB stats into Prometheus gauges
	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, generator)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, caseSvc, generator, engine, cacheImpl, repo, Version)

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

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                KESTREL                    ║")
	fmt.Println("  ║    Fraud Analyst Decision Support         ║")
	fmt.Println("  ║     Every batch, a clear verdict.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /api/reports         - Evaluate a scored batch")
	fmt.Println("    GET    /api/reports/latest  - Latest cached report")
	fmt.Println("    GET    /api/alert-rules     - Current alert configuration")
	fmt.Println("    POST   /api/alert-rules     - Update alert configuration")
	fmt.Println("    GET    /api/cases           - List review cases")
	fmt.Println("    POST   /api/cases           - Create a review case")
	fmt.Println("    POST   /api/cases/sample    - Synthesize a case from a batch")
	fmt.Println("    PUT    /api/cases/{id}      - Update a case")
	fmt.Println("    DELETE /api/cases/{id}      - Delete a case")
	fmt.Println("    GET    /health              - Health check")
	fmt.Println("    GET    /metrics             - Prometheus metrics")
	fmt.Println()
}
