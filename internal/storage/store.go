package storage

import (
	"context"

	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// Query bounds shared by every BidStore implementation and the API
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// BidStore persists bid snapshots
type BidStore interface {
	// Append stores snap for (site, url). Storing the same (site, url,
	// timestamp) twice returns the row stored first instead of failing.
	Append(ctx context.Context, site types.SiteCode, url string, snap *models.BidSnapshot) (*models.StoredBid, error)

	// Latest returns the newest row for the item, or nil when there is none
	Latest(ctx context.Context, site types.SiteCode, url string) (*models.StoredBid, error)

	// History returns up to limit rows for the item, newest first
	History(ctx context.Context, site types.SiteCode, url string, limit int) ([]*models.StoredBid, error)

	// Recent returns the newest rows grouped by item. Items are ordered by
	// their newest snapshot, at most maxItems items and limitPerItem rows
	// each. An empty site means every site.
	Recent(ctx context.Context, site types.SiteCode, limitPerItem, maxItems int) ([]*models.StoredBid, error)
}

// TrackedItemStore persists the tracking registry
type TrackedItemStore interface {
	// Track inserts the item or reactivates it. A nil title keeps the stored one.
	Track(ctx context.Context, site types.SiteCode, url string, title *string) (*models.TrackedItem, error)

	// Untrack deactivates the item and reports whether it was active
	Untrack(ctx context.Context, site types.SiteCode, url string) (bool, error)

	// List returns tracked items ordered by creation time
	List(ctx context.Context, activeOnly bool) ([]*models.TrackedItem, error)
}
