package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

type itemKey struct {
	site types.SiteCode
	url  string
}

// MemoryBidStore keeps snapshots in process memory. It follows the same
// rules as BidRepository and backs STORAGE_DRIVER=memory and tests.
type MemoryBidStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[itemKey][]*models.StoredBid // ascending by timestamp
	now    func() time.Time
}

// NewMemoryBidStore creates an empty store
func NewMemoryBidStore() *MemoryBidStore {
	return &MemoryBidStore{
		items: make(map[itemKey][]*models.StoredBid),
		now:   time.Now,
	}
}

// Append implements BidStore
func (s *MemoryBidStore) Append(_ context.Context, site types.SiteCode, url string, snap *models.BidSnapshot) (*models.StoredBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bid := models.NewStoredBid(site, url, snap)
	bid.Timestamp = bid.Timestamp.UTC().Truncate(time.Microsecond)

	key := itemKey{site, url}
	rows := s.items[key]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Timestamp.Before(bid.Timestamp) })
	if i < len(rows) && rows[i].Timestamp.Equal(bid.Timestamp) {
		return copyBid(rows[i]), nil
	}

	s.nextID++
	bid.ID = s.nextID
	bid.CreatedAt = s.now().UTC()

	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = bid
	s.items[key] = rows

	return copyBid(bid), nil
}

// Latest implements BidStore
func (s *MemoryBidStore) Latest(_ context.Context, site types.SiteCode, url string) (*models.StoredBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.items[itemKey{site, url}]
	if len(rows) == 0 {
		return nil, nil
	}
	return copyBid(rows[len(rows)-1]), nil
}

// History implements BidStore
func (s *MemoryBidStore) History(_ context.Context, site types.SiteCode, url string, limit int) ([]*models.StoredBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newestFirst(s.items[itemKey{site, url}], limit), nil
}

// Recent implements BidStore
func (s *MemoryBidStore) Recent(_ context.Context, site types.SiteCode, limitPerItem, maxItems int) ([]*models.StoredBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]itemKey, 0, len(s.items))
	for key, rows := range s.items {
		if len(rows) == 0 || (site != "" && key.site != site) {
			continue
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a := s.items[keys[i]]
		b := s.items[keys[j]]
		ta, tb := a[len(a)-1].Timestamp, b[len(b)-1].Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		if keys[i].site != keys[j].site {
			return keys[i].site < keys[j].site
		}
		return keys[i].url < keys[j].url
	})

	if maxItems >= 0 && len(keys) > maxItems {
		keys = keys[:maxItems]
	}

	out := make([]*models.StoredBid, 0)
	for _, key := range keys {
		out = append(out, newestFirst(s.items[key], limitPerItem)...)
	}
	return out, nil
}

func newestFirst(rows []*models.StoredBid, limit int) []*models.StoredBid {
	out := make([]*models.StoredBid, 0)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyBid(rows[i]))
	}
	return out
}

func copyBid(b *models.StoredBid) *models.StoredBid {
	c := *b
	return &c
}

// MemoryTrackedItemStore keeps the tracking registry in process memory
type MemoryTrackedItemStore struct {
	mu    sync.RWMutex
	items map[itemKey]*models.TrackedItem
	now   func() time.Time
}

// NewMemoryTrackedItemStore creates an empty registry
func NewMemoryTrackedItemStore() *MemoryTrackedItemStore {
	return &MemoryTrackedItemStore{
		items: make(map[itemKey]*models.TrackedItem),
		now:   time.Now,
	}
}

// Track implements TrackedItemStore
func (s *MemoryTrackedItemStore) Track(_ context.Context, site types.SiteCode, url string, title *string) (*models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := itemKey{site, url}
	item, ok := s.items[key]
	if !ok {
		item = &models.TrackedItem{Site: site, URL: url, CreatedAt: now}
		s.items[key] = item
	}
	item.Active = true
	item.UpdatedAt = now
	if title != nil {
		t := *title
		item.Title = &t
	}

	c := *item
	return &c, nil
}

// Untrack implements TrackedItemStore
func (s *MemoryTrackedItemStore) Untrack(_ context.Context, site types.SiteCode, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemKey{site, url}]
	if !ok || !item.Active {
		return false, nil
	}
	item.Active = false
	item.UpdatedAt = s.now().UTC()
	return true, nil
}

// List implements TrackedItemStore
func (s *MemoryTrackedItemStore) List(_ context.Context, activeOnly bool) ([]*models.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TrackedItem, 0, len(s.items))
	for _, item := range s.items {
		if activeOnly && !item.Active {
			continue
		}
		c := *item
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}
