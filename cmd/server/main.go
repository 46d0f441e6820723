package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sablefin/mintd/service/config"
	"github.com/sablefin/mintd/service/db"
	"github.com/sablefin/mintd/service/metrics"
	"github.com/sablefin/mintd/service/mpt"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/server"
	"github.com/sablefin/mintd/service/xrpl"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
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

	// Initialize NATS publisher for lifecycle events
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize ledger connection pool with per-network endpoint failover
	pool := xrpl.NewPool(xrpl.PoolConfig{
		Endpoints: cfg.Endpoints(),
		MaxIdle:   cfg.PoolMaxIdle,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	pool.StartSweeper(cfg.PoolSweepInterval)
	defer pool.Shutdown()

	// Initialize the reliable submission pipeline
	submitter := xrpl.NewSubmitter(pool, xrpl.SubmitterConfig{
		PollInterval: cfg.SubmitPollInterval,
		MaxWait:      cfg.SubmitMaxWait,
		Metrics:      metricsCollector,
		Logger:       logger,
	})

	// Custodial signing keys. The issuer is always custodied; additional
	// holder keys would be provisioned here.
	issuerSigner, err := mpt.NewLocalSignerFromHex(cfg.IssuerAddress, cfg.IssuerSeedHex)
	if err != nil {
		logger.Error("failed to load issuer signing key", "error", err)
		os.Exit(1)
	}
	keyring := mpt.StaticKeyring{}
	keyring.Add(issuerSigner)

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

	httpServer := server.New(cfg.ServerAddr, orchestrator, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"issuer", cfg.IssuerAddress,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
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
