// Package ratelimit paces outbound requests per auction site so many tracked
// items on one site never turn into a burst against that site.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// SiteLimiter hands out one token bucket per site
type SiteLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewSiteLimiter creates a registry where each site may send requestsPerSecond
// requests with the given burst. requestsPerSecond <= 0 disables pacing.
func NewSiteLimiter(requestsPerSecond float64, burst int) *SiteLimiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &SiteLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until site may send one request or ctx is done
func (s *SiteLimiter) Wait(ctx context.Context, site string) error {
	return s.get(site).Wait(ctx)
}

// Allow reports whether site may send a request right now, consuming a token if so
func (s *SiteLimiter) Allow(site string) bool {
	return s.get(site).Allow()
}

func (s *SiteLimiter) get(site string) *rate.Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[site]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, ok := s.limiters[site]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(s.limit, s.burst)
	s.limiters[site] = limiter
	return limiter
}
