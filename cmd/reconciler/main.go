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

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"sync_relay/internal/config"
	"sync_relay/internal/consumer"
	"sync_relay/internal/idempotency"
	"sync_relay/internal/locks"
	"sync_relay/internal/ops"
	"sync_relay/internal/retry"
	"sync_relay/internal/scheduler"
	"sync_relay/internal/service"
	"sync_relay/internal/storage/postgres"
	"sync_relay/internal/target/docstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Stores
	eventStore := postgres.NewSyncEventStore(db)
	fingerprintStore := postgres.NewFingerprintStore(db)
	mappingStore := postgres.NewEntityMappingStore(db)
	deadLetterStore := postgres.NewDeadLetterStore(db)
	txManager := postgres.NewTransactionManager(db)

	checker := idempotency.NewChecker(eventStore, fingerprintStore, txManager, idempotency.Config{
		Window:   cfg.Dedup.Window,
		CacheTTL: cfg.Dedup.CacheTTL,
		FailOpen: cfg.Dedup.FailOpen(),
	}, logger)

	writer := docstore.New(docstore.Config{
		BaseURL:         cfg.Target.BaseURL,
		Token:           cfg.Target.Token,
		Timeout:         cfg.Target.Timeout,
		MarkerNamespace: cfg.Sync.MarkerNamespace,
	}, logger)

	retrier := retry.NewCoordinator(logger)

	reconciler := service.NewReconciler(
		checker,
		mappingStore,
		deadLetterStore,
		writer,
		locks.NewRegistry(),
		retrier,
		policyFromConfig(cfg.Retry.Remote),
		policyFromConfig(cfg.Retry.Store),
		cfg.Sync,
		logger,
	)

	rabbitMQ, err := consumer.NewRabbitMQ(consumer.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, reconciler, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	replay := scheduler.NewReplayScheduler(
		reconciler,
		deadLetterStore,
		[]scheduler.RetentionStore{eventStore, fingerprintStore},
		scheduler.Config{
			Interval:   cfg.Replay.Interval,
			BatchSize:  cfg.Replay.BatchSize,
			RunTimeout: cfg.Replay.RunTimeout,
			Retention:  cfg.Dedup.Retention,
		},
		logger,
	)

	if cfg.Ops.AuthToken == "" {
		logger.Warn("ops auth token is not set, replay and dead letter endpoints will refuse all requests")
	}
	opsServer := &http.Server{
		Addr:    cfg.Ops.ListenAddr,
		Handler: ops.NewServer(replay, deadLetterStore, cfg.Ops.AuthToken, logger).Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 3)

	go func() {
		errCh <- rabbitMQ.Run(ctx)
	}()

	go func() {
		errCh <- replay.Start(ctx)
	}()

	go func() {
		logger.Info("ops server listening", "addr", cfg.Ops.ListenAddr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("reconciler started",
		"target", cfg.Sync.TargetPlatform,
		"dedup_window", cfg.Dedup.Window,
		"replay_interval", cfg.Replay.Interval,
	)

	err = <-errCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = opsServer.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reconciler stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("reconciler stopped")
}

func policyFromConfig(p config.PolicyConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    p.MaxAttempts,
		BaseDelay:      p.BaseDelay,
		MaxDelay:       p.MaxDelay,
		Multiplier:     p.Multiplier,
		JitterFraction: p.JitterFraction,
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
