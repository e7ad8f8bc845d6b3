package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

const bidColumns = `id, site, item_url, ts, item_title, lot_number, currency,
	current_price, sales_tax, buyers_premium, total_bids, created_at`

// BidRepository stores bid snapshots in Postgres
type BidRepository struct {
	db *PostgresDB
}

// NewBidRepository creates a new bid repository
func NewBidRepository(db *PostgresDB) *BidRepository {
	return &BidRepository{db: db}
}

// Append implements BidStore
func (r *BidRepository) Append(ctx context.Context, site types.SiteCode, url string, snap *models.BidSnapshot) (*models.StoredBid, error) {
	bid := models.NewStoredBid(site, url, snap)
	bid.Timestamp = bid.Timestamp.UTC().Truncate(time.Microsecond)

	query := `
		INSERT INTO bids (site, item_url, ts, item_title, lot_number, currency,
			current_price, sales_tax, buyers_premium, total_bids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT uq_bids_site_url_ts DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		string(site),
		url,
		bid.Timestamp,
		bid.ItemTitle,
		bid.LotNumber,
		bid.Currency,
		bid.CurrentPrice,
		bid.SalesTax,
		bid.BuyersPremium,
		bid.TotalBids,
	).Scan(&bid.ID, &bid.CreatedAt)

	if stderrors.Is(err, pgx.ErrNoRows) {
		// the row already exists; hand back the stored one
		existing, lookupErr := r.byTimestamp(ctx, site, url, bid.Timestamp)
		if lookupErr != nil {
			return nil, errors.NewPersistenceConflict(site, url, lookupErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("append bid", err)
	}

	bid.CreatedAt = bid.CreatedAt.UTC()
	return bid, nil
}

func (r *BidRepository) byTimestamp(ctx context.Context, site types.SiteCode, url string, ts time.Time) (*models.StoredBid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE site = $1 AND item_url = $2 AND ts = $3`
	return scanBid(r.db.Pool().QueryRow(ctx, query, string(site), url, ts))
}

// Latest implements BidStore
func (r *BidRepository) Latest(ctx context.Context, site types.SiteCode, url string) (*models.StoredBid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE site = $1 AND item_url = $2
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	bid, err := scanBid(r.db.Pool().QueryRow(ctx, query, string(site), url))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("latest bid", err)
	}
	return bid, nil
}

// History implements BidStore
func (r *BidRepository) History(ctx context.Context, site types.SiteCode, url string, limit int) ([]*models.StoredBid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE site = $1 AND item_url = $2
		ORDER BY ts DESC, id DESC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, string(site), url, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("bid history", err)
	}
	return collectBids(rows, "bid history")
}

// Recent implements BidStore
func (r *BidRepository) Recent(ctx context.Context, site types.SiteCode, limitPerItem, maxItems int) ([]*models.StoredBid, error) {
	query := `
		WITH items AS (
			SELECT site, item_url, MAX(ts) AS newest
			FROM bids
			WHERE $1::text = '' OR site = $1::text
			GROUP BY site, item_url
			ORDER BY newest DESC
			LIMIT $3
		), ranked AS (
			SELECT b.*, i.newest,
				ROW_NUMBER() OVER (PARTITION BY b.site, b.item_url ORDER BY b.ts DESC, b.id DESC) AS rn
			FROM bids b
			JOIN items i ON b.site = i.site AND b.item_url = i.item_url
		)
		SELECT ` + bidColumns + `
		FROM ranked
		WHERE rn <= $2
		ORDER BY newest DESC, site, item_url, ts DESC, id DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, string(site), limitPerItem, maxItems)
	if err != nil {
		return nil, errors.NewDatabaseError("recent bids", err)
	}
	return collectBids(rows, "recent bids")
}

func collectBids(rows pgx.Rows, operation string) ([]*models.StoredBid, error) {
	defer rows.Close()

	bids := make([]*models.StoredBid, 0)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, errors.NewDatabaseError(operation, err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError(operation, err)
	}
	return bids, nil
}

func scanBid(row pgx.Row) (*models.StoredBid, error) {
	var bid models.StoredBid
	var site string

	err := row.Scan(
		&bid.ID,
		&site,
		&bid.ItemURL,
		&bid.Timestamp,
		&bid.ItemTitle,
		&bid.LotNumber,
		&bid.Currency,
		&bid.CurrentPrice,
		&bid.SalesTax,
		&bid.BuyersPremium,
		&bid.TotalBids,
		&bid.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	bid.Site = types.SiteCode(site)
	bid.Timestamp = bid.Timestamp.UTC()
	bid.CreatedAt = bid.CreatedAt.UTC()
	return &bid, nil
}
