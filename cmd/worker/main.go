package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sablefin/mintd/service/config"
	"github.com/sablefin/mintd/service/db"
	"github.com/sablefin/mintd/service/metrics"
	"github.com/sablefin/mintd/service/mpt"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/temporal"
	"github.com/sablefin/mintd/service/xrpl"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize NATS publisher for reconcile events
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize ledger connection pool
	pool := xrpl.NewPool(xrpl.PoolConfig{
		Endpoints: cfg.Endpoints(),
		MaxIdle:   cfg.PoolMaxIdle,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	pool.StartSweeper(cfg.PoolSweepInterval)
	defer pool.Shutdown()

	submitter := xrpl.NewSubmitter(pool, xrpl.SubmitterConfig{
		PollInterval: cfg.SubmitPollInterval,
		MaxWait:      cfg.SubmitMaxWait,
		Metrics:      metricsCollector,
		Logger:       logger,
	})

	issuerSigner, err := mpt.NewLocalSignerFromHex(cfg.IssuerAddress, cfg.IssuerSeedHex)
	if err != nil {
		logger.Error("failed to load issuer signing key", "error", err)
		os.Exit(1)
	}
	keyring := mpt.StaticKeyring{}
	keyring.Add(issuerSigner)

	// The orchestrator doubles as the reconciler: the scheduled workflow
	// calls its stale-authorization pass.
	orchestrator := mpt.NewOrchestrator(mpt.Config{
		Store:           store,
		Submitter:       submitter,
		Pool:            pool,
		Keyring:         keyring,
		Publisher:       publisher,
		Metrics:         metricsCollector,
		Logger:          logger,
		Fee:             cfg.Fee,
		MaxLedgerOffset: uint32(cfg.MaxLedgerOffset),
	})

	// Ensure the reconcile schedule exists before the worker starts
	// consuming from the task queue.
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporalClient.UpsertReconcileSchedule(ctx, cfg.ReconcileSchedule, temporal.ReconcileInput{
		OlderThan: cfg.ReconcileOlderThan,
		BatchSize: int32(cfg.ReconcileBatchSize),
	}); err != nil {
		logger.Error("failed to upsert reconcile schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("reconcile schedule ensured", "interval", cfg.ReconcileSchedule)

	// Create and start the worker
	w, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Reconciler:        orchestrator,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("worker error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		w.Stop()
		logger.Info("worker shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
