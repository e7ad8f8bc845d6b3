package storage

import (
	"context"
	"fmt"

	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/retry"
)

// Stores bundles the stores a process needs
type Stores struct {
	Bids  BidStore
	Items TrackedItemStore

	closers []func()
}

// Close releases every connection opened by OpenStores
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores builds the configured stores. Connections are retried with
// exponential backoff; Postgres is migrated first when AutoMigrate is set.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	logger := logging.FromContext(ctx)

	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage, snapshots are lost on exit")
		return &Stores{Bids: NewMemoryBidStore(), Items: NewMemoryTrackedItemStore()}, nil
	}

	stores := &Stores{}

	pgCfg := &cfg.Database.Postgres
	if pgCfg.AutoMigrate {
		logger.WithField("path", pgCfg.MigrationsPath).Info("Running Postgres migrations...")
		if err := RunMigrations(DatabaseURL(pgCfg), pgCfg.MigrationsPath); err != nil {
			return nil, err
		}
	}

	var db *PostgresDB
	err := retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		var err error
		db, err = NewPostgresDB(pgCfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	stores.closers = append(stores.closers, db.Close)
	stores.Items = NewTrackedItemRepository(db)
	stores.Bids = NewBidRepository(db)

	if cfg.Storage.CacheEnabled {
		redis, err := NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			// the cache is optional; snapshots still reach Postgres
			logger.WithError(err).Warn("Redis unavailable, continuing without the latest-bid cache")
		} else {
			stores.closers = append(stores.closers, func() { _ = redis.Close() })
			stores.Bids = NewCachedBidStore(stores.Bids, NewCacheService(redis, cfg.Storage.CacheTTL))
		}
	}

	logger.WithFields(map[string]interface{}{
		"driver": cfg.Storage.Driver,
		"cache":  cfg.Storage.CacheEnabled,
	}).Info("Storage ready")
	return stores, nil
}
