package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/handler"
	"github.com/streme-leaderboard/internal/kafka"
	"github.com/streme-leaderboard/internal/postgres"
	"github.com/streme-leaderboard/internal/redis"
	"github.com/streme-leaderboard/internal/service"
	"github.com/streme-leaderboard/internal/store"
	"github.com/streme-leaderboard/internal/websocket"
	"github.com/streme-leaderboard/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("invalid config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
		logger.Warn("config file not found, using defaults", "path", *configPath)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL serves as the primary store, the snapshot archive and the
	// session event log; it is only needed when one of those is in use.
	var postgresRepo *postgres.Repository
	if cfg.Storage.Backend == config.BackendPostgres || cfg.Sync.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to PostgreSQL")
	}

	primary, closePrimary, err := openPrimaryStore(cfg, postgresRepo, logger)
	if err != nil {
		logger.Error("failed to open storage backend", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closePrimary()
	logger.Info("storage backend ready", "backend", cfg.Storage.Backend)

	// Snapshot worker: only meaningful when the primary is not the archive itself
	var syncWorker *worker.SyncWorker
	if cfg.Sync.Enabled && cfg.Storage.Backend != config.BackendPostgres {
		syncWorker = worker.NewSyncWorker(primary, postgresRepo, &cfg.Sync, logger)

		logger.Info("restoring sessions from archive if the primary store is empty")
		if _, err := syncWorker.RestoreIfEmpty(ctx); err != nil {
			logger.Warn("failed to restore from archive on startup", "error", err)
		}

		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	leaderboardService := service.NewLeaderboardService(primary, &cfg.Leaderboard, logger)
	leaderboardService.SetHub(wsHub, cfg.WebSocket.TopN)
	if postgresRepo != nil {
		leaderboardService.SetRecorder(postgresRepo)
	}

	// Initialize Kafka consumer for score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, cfg.CORS, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting submissions before flushing the last snapshot
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	wsHub.Stop()

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
		syncWorker.RunOnce(shutdownCtx)
	}

	logger.Info("server stopped")
}

// openPrimaryStore builds the configured backend. The returned func releases it.
func openPrimaryStore(cfg *config.Config, repo *postgres.Repository, logger *slog.Logger) (store.Store, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage, sessions are lost on restart")
		return store.NewMemory(), noop, nil

	case config.BackendFile:
		fileStore, err := store.NewFile(cfg.Storage.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return fileStore, noop, nil

	case config.BackendRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisStore, err := redis.NewStore(&cfg.Redis, cfg.Storage.Namespace, logger)
		if err != nil {
			return nil, nil, err
		}
		return redisStore, func() { redisStore.Close() }, nil

	case config.BackendPostgres:
		return repo, noop, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
