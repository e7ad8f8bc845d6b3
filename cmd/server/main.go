// Package main provides the API server entry point: it serves the dashboard
// API and runs the polling engine in the same process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/emoki/snipr/internal/api"
	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/service"
	"github.com/emoki/snipr/internal/storage"
)

func main() {
	fmt.Println("snipr API server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging; the broadcaster feeds /api/logs/stream
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logger := logging.InitGlobalLogger(logLevel, logFormat)
	broadcaster := logging.NewBroadcaster(logging.DefaultSubscriberBuffer)
	logger.AddSink(broadcaster)

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	stores, err := storage.OpenStores(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer stores.Close()

	poller, err := service.NewPoller(cfg, stores, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build poller")
	}
	tracking := poller.Tracking

	if err := tracking.WarmUp(ctx); err != nil {
		logger.WithError(err).Fatal("Fetcher warm-up failed")
	}
	if _, err := tracking.SeedFromConfig(cfg.Items); err != nil {
		logger.WithError(err).Fatal("Invalid static item list")
	}
	if err := tracking.Sync(ctx); err != nil {
		logger.WithError(err).Warn("Initial registry sync failed")
	}
	if err := tracking.StartSync(ctx, cfg.Registry.SyncInterval); err != nil {
		logger.WithError(err).Fatal("Failed to start registry sync")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}
	server := api.NewServer(serverConfig, tracking, stores.Bids, poller.Fetchers, broadcaster, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
		"jobs": poller.Scheduler.Len(),
	}).Info("Server started successfully")

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	tracking.Stop()
	if err := poller.Scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Polling jobs did not stop in time")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
