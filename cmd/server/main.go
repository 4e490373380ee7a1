// Package main provides the API server entry point for the tender ingestion service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tender-ingest/internal/api"
	"github.com/tender-ingest/internal/config"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/metrics"
	"github.com/tender-ingest/internal/orchestrator"
	"github.com/tender-ingest/internal/realtime"
	"github.com/tender-ingest/internal/retry"
	"github.com/tender-ingest/internal/scheduler"
	"github.com/tender-ingest/internal/scraper"
	"github.com/tender-ingest/internal/storage"
	"github.com/tender-ingest/internal/transform"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	tenderRepo := storage.NewTenderRepository(postgres)
	jobLogRepo := storage.NewJobLogRepository(clickhouse)
	scheduleStore := storage.NewScheduleStore(redis)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobLogRepo.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure job run log schema")
	}

	// Initialize pipeline components
	logger.Info("Initializing pipeline...")

	classifier, err := transform.LoadClassifier(cfg.Transform.CategoryRulesPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load category rules")
	}

	rates := transform.NewExchangeClient(&cfg.Exchange, redis.Client(), logger)

	transformer := transform.NewTransformer(
		tenderRepo,
		classifier,
		rates,
		cfg.Transform.TitlePrefixLen,
		logger,
	)

	hub := realtime.NewHub(logger)
	defer hub.Close()

	collector := metrics.NewCollector(cfg.Metrics, hub, logger)
	collector.Start(ctx)
	defer collector.Stop()

	runner := scraper.NewRunner(&cfg.Scraper, logger)

	retryCfg := &retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}

	jobs := orchestrator.NewJobStore()
	orch := orchestrator.New(
		jobs,
		runner,
		transformer,
		collector,
		retryCfg,
		cfg.Scraper,
		logger,
		orchestrator.WithBroadcaster(hub),
		orchestrator.WithRunLog(jobLogRepo),
	)
	orch.StartSweeper(ctx, time.Hour, 24*time.Hour)
	defer orch.Stop()

	sched := scheduler.New(cfg.Scheduler, scheduleStore, orch, logger)
	if err := sched.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer sched.Stop()

	logger.Info("Pipeline initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       cfg.RateLimit,
	}

	server := api.NewServer(serverConfig, orch, sched, collector, jobLogRepo, tenderRepo, hub, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("Server stopped")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
