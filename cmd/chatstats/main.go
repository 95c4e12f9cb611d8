package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/cathay-lab/chatstats/internal/config"
	"github.com/cathay-lab/chatstats/internal/core/storage/postgres"
	"github.com/cathay-lab/chatstats/internal/ephemeral"
	"github.com/cathay-lab/chatstats/internal/httpapi"
	"github.com/cathay-lab/chatstats/internal/migrations"
	"github.com/cathay-lab/chatstats/internal/query"
	"github.com/cathay-lab/chatstats/internal/reconciler"
	"github.com/cathay-lab/chatstats/internal/recorder"
	"github.com/cathay-lab/chatstats/internal/server"
)

func main() {
	configPath := flag.String("config", "chatstats.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	syncInterval, messageTTL, commandTTL, err := cfg.Stats.Durations()
	if err != nil {
		slog.Error("Invalid stats configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Durable Store (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Ephemeral Store (Redis, or in-process when disabled)
	ephStore, err := newEphemeralStore(cfg.Redis)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer ephStore.Close()

	// 4. Initialize Recorder
	rec := recorder.New(ephStore, recorder.Config{
		TrackMessages:   cfg.Stats.TrackMessages,
		TrackCommands:   cfg.Stats.TrackCommands,
		SaveChatHistory: cfg.Stats.SaveChatHistory,
		MessageTTL:      messageTTL,
		CommandTTL:      commandTTL,
	})

	// 5. Initialize Reconciler and its scheduler
	rc := reconciler.New(ephStore, dbAdapter, reconciler.Config{
		BufferCapacity: cfg.Stats.BufferCapacity,
		MessageTTL:     messageTTL,
		CommandTTL:     commandTTL,
		RetentionDays:  cfg.Stats.RetentionDays,
	})
	scheduler := reconciler.NewScheduler(syncInterval, rc)

	slog.Info("Reconciler initialized",
		"interval", syncInterval,
		"buffer_capacity", cfg.Stats.BufferCapacity,
		"retention_days", cfg.Stats.RetentionDays,
	)

	// 6. Initialize Query Engine and HTTP API
	querySvc := query.New(ephStore, dbAdapter)
	apiSvc := httpapi.NewService(rec, querySvc, cfg.Stats.TopLimit)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), ephStore, cfg.Server.Mode)
	apiSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("Scheduler stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Wait for the final reconciliation pass before closing the stores.
	<-schedulerDone

	slog.Info("Shutdown complete")
}

func newEphemeralStore(cfg config.RedisConfig) (ephemeral.Store, error) {
	if !cfg.Enabled {
		slog.Info("Redis disabled, using in-process counter store")
		return ephemeral.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return ephemeral.NewRedisStore(client, cfg.KeyPrefix), nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
