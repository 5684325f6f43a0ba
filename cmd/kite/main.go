// Kite - Debt collection escalation that runs itself.
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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kite/internal/api"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/cache"
	"github.com/opensource-finance/kite/internal/cases"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/dispatch"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/installment"
	"github.com/opensource-finance/kite/internal/messaging"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/scheduler"
	"github.com/opensource-finance/kite/internal/telephony"
	"github.com/opensource-finance/kite/internal/tracker"
	"github.com/opensource-finance/kite/internal/velocity"
	"github.com/opensource-finance/kite/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// .env is optional and only used for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kite",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"messaging", cfg.Messaging.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Initialize outbound channels
	messenger, err := messaging.New(cfg.Messaging)
	if err != nil {
		slog.Error("failed to initialize messenger", "error", err)
		os.Exit(1)
	}
	defer messenger.Close()
	slog.Info("messenger initialized", "type", cfg.Messaging.Type)

	var caller domain.VoiceCaller
	if cfg.Telephony.APIKey != "" {
		caller = telephony.NewClient(cfg.Telephony)
		slog.Info("telephony client initialized", "base_url", cfg.Telephony.BaseURL)
	} else {
		slog.Warn("telephony api key not set - voice_call actions will fail")
	}

	// Core services
	caseSvc := cases.NewService(repo, busImpl)
	planSvc := installment.NewService(repo, caseSvc, busImpl)

	engine, err := rules.NewEngine(repo, cacheImpl, cfg.Cache.RuleTTL)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	limiter := velocity.NewService(cacheImpl, cfg.Dispatcher.ContactLimit, cfg.Dispatcher.ContactWindow)
	dispatcher := dispatch.New(repo, caseSvc, dispatch.Options{
		Messenger:     messenger,
		Caller:        caller,
		Limiter:       limiter,
		ActionTimeout: cfg.Dispatcher.ActionTimeout,
	})
	execTracker := tracker.New(repo, busImpl)
	pipeline := worker.NewPipeline(repo, engine, dispatcher, execTracker)
	slog.Info("escalation pipeline initialized",
		"contact_limit", cfg.Dispatcher.ContactLimit,
		"contact_window", cfg.Dispatcher.ContactWindow.String(),
	)

	// Async case worker
	var caseWorker *worker.Worker
	if cfg.Worker.Enabled {
		caseWorker = worker.NewWorker(busImpl, pipeline)
		if err := caseWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start case worker", "error", err)
		} else {
			slog.Info("case worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	// Background sweeps
	var sweeps *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobs := scheduler.NewJobs(repo, caseSvc, planSvc, logger)
		sweeps = scheduler.NewScheduler(jobs, logger, cfg.Scheduler)
		sweeps.Start()
	}

	// Voice webhooks
	verifier := telephony.NewVerifier(cfg.Telephony.WebhookSecret, cfg.Telephony.SignatureTolerance)
	if !verifier.Enabled() {
		slog.Warn("voice webhook secret not set - signatures are not verified")
	}
	reconciler := telephony.NewReconciler(repo, caseSvc, cacheImpl, busImpl)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, api.Services{
		Cases:      caseSvc,
		Plans:      planSvc,
		Engine:     engine,
		Pipeline:   pipeline,
		Tracker:    execTracker,
		Reconciler: reconciler,
		Verifier:   verifier,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kite is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop intake first so no new work starts during shutdown
	if caseWorker != nil {
		if err := caseWorker.Stop(); err != nil {
			slog.Error("failed to stop case worker", "error", err)
		}
	}
	if sweeps != nil {
		<-sweeps.Stop().Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kite shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  KITE                     |")
	fmt.Println("  |    Debt Collection Escalation Engine      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /cases                  - Open a debt case")
	fmt.Println("    GET  /cases/{id}             - Get case by ID")
	fmt.Println("    POST /cases/{id}/payments    - Record a payment")
	fmt.Println("    POST /cases/{id}/evaluate    - Run escalation rules now")
	fmt.Println("    GET  /rules                  - List escalation rules")
	fmt.Println("    POST /rules                  - Create a rule")
	fmt.Println("    POST /rules/{id}/reorder     - Move a rule")
	fmt.Println("    GET  /executions/summary     - Execution statistics")
	fmt.Println("    POST /plans                  - Propose an installment plan")
	fmt.Println("    POST /plans/{id}/payments    - Record a plan payment")
	fmt.Println("    POST /webhooks/voice         - Voice provider callbacks")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
