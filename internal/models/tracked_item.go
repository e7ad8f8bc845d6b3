package models

import (
	"time"

	"github.com/emoki/snipr/internal/types"
)

// TrackedItem is an auction listing the registry wants polled.
// Identity is (Site, URL); untracking only clears Active so history survives.
type TrackedItem struct {
	Site      types.SiteCode `json:"site" db:"site"`
	URL       string         `json:"url" db:"url"`
	Title     *string        `json:"title,omitempty" db:"title"`
	Active    bool           `json:"active" db:"active"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// Ref returns the scheduling reference for the item
func (t *TrackedItem) Ref() ItemRef {
	return ItemRef{Site: t.Site, URL: t.URL, Title: t.Title}
}

// ItemRef is the (site, url, title?) triple exchanged between the static
// configuration list, the tracking registry and the scheduler.
type ItemRef struct {
	Site  types.SiteCode `json:"site"`
	URL   string         `json:"url"`
	Title *string        `json:"title,omitempty"`
}
