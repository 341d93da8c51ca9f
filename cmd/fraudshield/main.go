// FraudShield - Real-time fraud risk evaluation for e-commerce checkouts.
// Copyright (c) 2025 theomodesto
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

	"github.com/joho/godotenv"

	"github.com/theomodesto/fraudshield/internal/api"
	"github.com/theomodesto/fraudshield/internal/bus"
	"github.com/theomodesto/fraudshield/internal/cache"
	"github.com/theomodesto/fraudshield/internal/captcha"
	"github.com/theomodesto/fraudshield/internal/decision"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/enrich"
	"github.com/theomodesto/fraudshield/internal/evaluator"
	"github.com/theomodesto/fraudshield/internal/geo"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/repository"
	"github.com/theomodesto/fraudshield/internal/rules"
	"github.com/theomodesto/fraudshield/internal/scoring"
	"github.com/theomodesto/fraudshield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local development overrides; missing file is fine
	_ = godotenv.Load()

	cfg := domain.LoadFromEnv()
	setupLogger(cfg.Logging)

	slog.Info("starting fraudshield",
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

	// Initialize Geo provider. The service degrades to no geo signals when
	// the MaxMind databases are absent.
	var geoProvider domain.GeoProvider
	if maxmind, err := geo.NewMaxMindProvider(cfg.Geo); err != nil {
		slog.Warn("geo lookups disabled", "error", err)
	} else {
		defer maxmind.Close()
		geoProvider = geo.NewCachedProvider(maxmind, cacheImpl, cfg.Geo.CacheTTL)
		slog.Info("geo provider initialized", "city_db", cfg.Geo.CityDBPath)
	}

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// Seed the high-risk country set so scoring reads it from the cache
	if err := scoring.SeedHighRiskCountries(ctx, cacheImpl, cfg.Scoring.HighRiskCountries); err != nil {
		slog.Warn("failed to seed high-risk countries", "error", err)
	}

	// Initialize pipeline components
	store := merchant.New(repo, cacheImpl, 5*time.Minute)
	enricher := enrich.New(geoProvider, cacheImpl, *cfg)
	scorer := scoring.New(cfg.Scoring, cacheImpl, engine, nil)
	webhooks := decision.NewWebhookSender(cfg.Webhook)
	decisioner := decision.New(repo, store, engine, cacheImpl, webhooks)

	var captchaVerifier domain.CaptchaVerifier
	if cfg.Captcha.VerifyURL != "" {
		captchaVerifier, err = captcha.New(cfg.Captcha)
		if err != nil {
			slog.Error("failed to initialize captcha verifier", "error", err)
			os.Exit(1)
		}
		slog.Info("captcha verifier initialized")
	}

	ev := evaluator.New(enricher, scorer, store, repo, cacheImpl, busImpl, captchaVerifier, cfg.Scoring)

	// Start the bus consumers
	w := worker.NewWorker(busImpl, ev, decisioner, cfg.ConsumerGroup)
	w.Start()

	// Initialize Server
	srv := api.NewServer(cfg.Server, ev, decisioner, store, repo, cacheImpl, busImpl, engine, cfg.Captcha.SiteKey, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudshield is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Drain the consumers before closing the server
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudshield shutdown complete")
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
	fmt.Println("  ║             🛡  FRAUDSHIELD               ║")
	fmt.Println("  ║      E-commerce Fraud Risk Engine         ║")
	fmt.Println("  ║    Every checkout, scored in real time.   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                        - Evaluate a checkout session")
	fmt.Println("    POST /evaluate/captcha                - Verify a captcha challenge")
	fmt.Println("    POST /decisions                       - Decide a scored evaluation")
	fmt.Println("    GET  /decisions/{id}                  - Get decision by ID")
	fmt.Println("    GET  /merchants/{id}/settings         - Get merchant settings")
	fmt.Println("    PUT  /merchants/{id}/settings         - Update merchant settings")
	fmt.Println("    GET  /merchants/{id}/rules            - List merchant rules")
	fmt.Println("    POST /merchants/{id}/rules            - Create a merchant rule")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println("    GET  /metrics                         - Prometheus metrics")
	fmt.Println()
}
