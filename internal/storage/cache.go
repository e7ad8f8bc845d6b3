package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/job"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// CacheService stores JSON values in Redis with a default TTL
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get retrieves a value from cache into dest and reports whether it was present
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// latestKey is the cache key of an item's newest row
func latestKey(site types.SiteCode, url string) string {
	return "bid:latest:" + job.ID(site, url)
}

// CachedBidStore keeps each item's newest row in Redis in front of another
// BidStore. Cache failures are logged and never fail the call.
type CachedBidStore struct {
	inner BidStore
	cache *CacheService
}

// NewCachedBidStore wraps inner with cache
func NewCachedBidStore(inner BidStore, cache *CacheService) *CachedBidStore {
	return &CachedBidStore{inner: inner, cache: cache}
}

// Append implements BidStore; the stored row replaces the cached latest when it is newer
func (s *CachedBidStore) Append(ctx context.Context, site types.SiteCode, url string, snap *models.BidSnapshot) (*models.StoredBid, error) {
	bid, err := s.inner.Append(ctx, site, url, snap)
	if err != nil {
		return nil, err
	}

	key := latestKey(site, url)
	var cached models.StoredBid
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logCacheError(ctx, "read latest", err)
		_ = s.cache.Invalidate(ctx, key)
		return bid, nil
	}
	if !found || !bid.Timestamp.Before(cached.Timestamp) {
		if err := s.cache.Set(ctx, key, bid); err != nil {
			s.logCacheError(ctx, "write latest", err)
		}
	}
	return bid, nil
}

// Latest implements BidStore
func (s *CachedBidStore) Latest(ctx context.Context, site types.SiteCode, url string) (*models.StoredBid, error) {
	key := latestKey(site, url)

	var cached models.StoredBid
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logCacheError(ctx, "read latest", err)
	} else if found {
		return &cached, nil
	}

	bid, err := s.inner.Latest(ctx, site, url)
	if err != nil || bid == nil {
		return bid, err
	}
	if err := s.cache.Set(ctx, key, bid); err != nil {
		s.logCacheError(ctx, "write latest", err)
	}
	return bid, nil
}

// History implements BidStore
func (s *CachedBidStore) History(ctx context.Context, site types.SiteCode, url string, limit int) ([]*models.StoredBid, error) {
	return s.inner.History(ctx, site, url, limit)
}

// Recent implements BidStore
func (s *CachedBidStore) Recent(ctx context.Context, site types.SiteCode, limitPerItem, maxItems int) ([]*models.StoredBid, error) {
	return s.inner.Recent(ctx, site, limitPerItem, maxItems)
}

func (s *CachedBidStore) logCacheError(ctx context.Context, operation string, err error) {
	logging.FromContext(ctx).WithError(errors.NewCacheError(operation, err)).Warn("Bid cache unavailable, using store")
}
