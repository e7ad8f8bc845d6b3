package models

import (
	"time"

	"github.com/emoki/snipr/internal/types"
	"github.com/shopspring/decimal"
)

// BidSnapshot is one observation of an auction listing at a point in time.
// Fetchers produce it; nothing mutates it afterwards.
type BidSnapshot struct {
	Timestamp     time.Time       `json:"timestamp"`
	ItemTitle     string          `json:"itemTitle"`
	LotNumber     string          `json:"lotNumber"`
	Currency      string          `json:"currency"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	SalesTax      decimal.Decimal `json:"salesTax"`      // percent, e.g. 7.5
	BuyersPremium decimal.Decimal `json:"buyersPremium"` // percent, e.g. 18
	TotalBids     int             `json:"totalBids"`
}

// StoredBid is a persisted snapshot. (site, item_url, timestamp) is unique.
type StoredBid struct {
	ID      int64          `json:"id" db:"id"`
	Site    types.SiteCode `json:"site" db:"site"`
	ItemURL string         `json:"itemUrl" db:"item_url"`
	BidSnapshot
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// NewStoredBid binds a snapshot to its owning item
func NewStoredBid(site types.SiteCode, itemURL string, snap *BidSnapshot) *StoredBid {
	return &StoredBid{
		Site:        site,
		ItemURL:     itemURL,
		BidSnapshot: *snap,
	}
}
