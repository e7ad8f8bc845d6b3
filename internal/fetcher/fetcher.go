// Package fetcher turns an auction listing URL into a BidSnapshot.
// Each supported site registers one Fetcher; callers look it up by site code
// and never branch on the site themselves.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// RequestOptions carries the per-request rotation choices
type RequestOptions struct {
	Headers map[string]string
	Proxy   string // empty means direct
}

// Fetcher retrieves and parses one listing page.
//
// Fetch returns a NetworkFailure when the page cannot be retrieved (with the
// upstream status when one was received) and a ParseFailure when a mandatory
// field cannot be extracted.
type Fetcher interface {
	Site() types.SiteCode
	Fetch(ctx context.Context, itemURL string, opts RequestOptions) (*models.BidSnapshot, error)
	// WarmUp runs once before the first fetch, for sites that need a login or
	// a challenge solved first.
	WarmUp(ctx context.Context) error
}

// Base provides the default no-op WarmUp
type Base struct{}

// WarmUp does nothing
func (Base) WarmUp(context.Context) error { return nil }

// Registry maps site codes to fetchers
type Registry struct {
	mu       sync.RWMutex
	fetchers map[types.SiteCode]Fetcher
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[types.SiteCode]Fetcher)}
}

// DefaultRegistry registers every built-in site
func DefaultRegistry(cfg config.NetworkConfig) *Registry {
	r := NewRegistry()
	r.Register(NewASI3(cfg.FetchTimeout))
	return r
}

// Register adds f under its site code, replacing any previous fetcher
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.Site()] = f
}

// Get returns the fetcher for site
func (r *Registry) Get(site types.SiteCode) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[site]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for site %q", site)
	}
	return f, nil
}

// Has reports whether site has a fetcher
func (r *Registry) Has(site types.SiteCode) bool {
	_, err := r.Get(site)
	return err == nil
}

// Sites returns the registered site codes, sorted
func (r *Registry) Sites() []types.SiteCode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sites := make([]types.SiteCode, 0, len(r.fetchers))
	for site := range r.fetchers {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i] < sites[j] })
	return sites
}
