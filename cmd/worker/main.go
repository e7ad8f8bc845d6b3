// Package main provides the headless poller: it polls the static item list
// and the active registry items and exits once no jobs remain.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/service"
	"github.com/emoki/snipr/internal/storage"
)

func main() {
	fmt.Println("snipr poller")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logger := logging.InitGlobalLogger(logLevel, logFormat)

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
		logger.WithError(err).Warn("Registry sync failed, polling static items only")
	}

	logger.WithField("jobs", poller.Scheduler.Len()).Info("Poller started")

	select {
	case <-poller.Scheduler.Idle():
		logger.Info("No jobs remain, exiting")
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping jobs...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := poller.Scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Polling jobs did not stop in time")
	}

	logger.Info("Poller stopped. Goodbye!")
}
