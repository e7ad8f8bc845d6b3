package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// TrackedItemRepository stores the tracking registry in Postgres
type TrackedItemRepository struct {
	db *PostgresDB
}

// NewTrackedItemRepository creates a new tracked item repository
func NewTrackedItemRepository(db *PostgresDB) *TrackedItemRepository {
	return &TrackedItemRepository{db: db}
}

// Track implements TrackedItemStore
func (r *TrackedItemRepository) Track(ctx context.Context, site types.SiteCode, url string, title *string) (*models.TrackedItem, error) {
	query := `
		INSERT INTO tracked_items (site, url, title, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (site, url) DO UPDATE SET
			active = TRUE,
			title = COALESCE(EXCLUDED.title, tracked_items.title),
			updated_at = NOW()
		RETURNING site, url, title, active, created_at, updated_at
	`

	item, err := scanTrackedItem(r.db.Pool().QueryRow(ctx, query, string(site), url, title))
	if err != nil {
		return nil, errors.NewDatabaseError("track item", err)
	}
	return item, nil
}

// Untrack implements TrackedItemStore
func (r *TrackedItemRepository) Untrack(ctx context.Context, site types.SiteCode, url string) (bool, error) {
	query := `
		UPDATE tracked_items
		SET active = FALSE, updated_at = NOW()
		WHERE site = $1 AND url = $2 AND active
	`

	tag, err := r.db.Pool().Exec(ctx, query, string(site), url)
	if err != nil {
		return false, errors.NewDatabaseError("untrack item", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List implements TrackedItemStore
func (r *TrackedItemRepository) List(ctx context.Context, activeOnly bool) ([]*models.TrackedItem, error) {
	query := `
		SELECT site, url, title, active, created_at, updated_at
		FROM tracked_items
		WHERE active OR NOT $1
		ORDER BY created_at, site, url
	`

	rows, err := r.db.Pool().Query(ctx, query, activeOnly)
	if err != nil {
		return nil, errors.NewDatabaseError("list tracked items", err)
	}
	defer rows.Close()

	items := make([]*models.TrackedItem, 0)
	for rows.Next() {
		item, err := scanTrackedItem(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("list tracked items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list tracked items", err)
	}
	return items, nil
}

func scanTrackedItem(row pgx.Row) (*models.TrackedItem, error) {
	var item models.TrackedItem
	var site string

	if err := row.Scan(&site, &item.URL, &item.Title, &item.Active, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}

	item.Site = types.SiteCode(site)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}
