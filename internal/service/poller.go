package service

import (
	"github.com/emoki/snipr/internal/circuitbreaker"
	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/fetcher"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/ratelimit"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/worker"
)

// Poller is the polling engine wired from configuration
type Poller struct {
	Fetchers  *fetcher.Registry
	Scheduler *worker.Scheduler
	Breakers  *circuitbreaker.Manager
	Tracking  *TrackingService
}

// NewPoller wires fetchers, scheduler and tracking service over stores
func NewPoller(cfg *config.Config, stores *storage.Stores, logger *logging.Logger) (*Poller, error) {
	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{
		MinInterval: cfg.Polling.MinInterval,
		MaxInterval: cfg.Polling.MaxInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	fetchers := fetcher.DefaultRegistry(cfg.Network)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures:      cfg.Network.BreakerMaxFailures,
		Timeout:          cfg.Network.BreakerResetTimeout,
		HalfOpenMaxCalls: 1,
	})

	tasks := &worker.PollTaskFactory{
		Fetchers: fetchers,
		Store:    stores.Bids,
		Rotation: config.NewRotator(cfg.Network),
		Limiter:  ratelimit.NewSiteLimiter(cfg.Network.SiteRequestsPerSecond, 1),
		Breakers: breakers,
		Config: worker.PollTaskConfig{
			EndGrace:     cfg.Polling.EndGrace,
			RetryBackoff: cfg.Network.RetryBackoff,
			FetchTimeout: cfg.Network.FetchTimeout,
		},
		Logger: logger,
	}

	return &Poller{
		Fetchers:  fetchers,
		Scheduler: scheduler,
		Breakers:  breakers,
		Tracking:  NewTrackingService(stores.Items, fetchers, scheduler, tasks, logger),
	}, nil
}
