package storage

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/types"
)

func testPostgresConfig() *config.PostgresConfig {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	return &config.PostgresConfig{
		Host:           host,
		Port:           "5432",
		Database:       "snipr_test",
		User:           "snipr",
		Password:       "snipr_dev_password",
		MaxConnections: 5,
	}
}

func migrationsDir(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", "postgres")
}

// setupPostgres connects and migrates a clean schema, skipping when Postgres is unavailable
func setupPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(DatabaseURL(cfg), migrationsDir(t)))

	ctx := testContext(t)
	_, err = db.Pool().Exec(ctx, `TRUNCATE bids, tracked_items RESTART IDENTITY`)
	require.NoError(t, err)
	return db
}

func TestDatabaseURL(t *testing.T) {
	url := DatabaseURL(&config.PostgresConfig{
		Host: "db", Port: "5432", Database: "snipr", User: "snipr", Password: "p@ss word",
	})
	assert.Equal(t, "postgres://snipr:p%40ss%20word@db:5432/snipr?sslmode=disable", url)
}

func TestBidRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	bidStoreContract(t, NewBidRepository(db))
}

func TestTrackedItemRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	repo := NewTrackedItemRepository(db)
	ctx := testContext(t)
	title := "Bronco"

	item, err := repo.Track(ctx, types.SiteASI3, "http://x/lot/1", &title)
	require.NoError(t, err)
	assert.True(t, item.Active)

	removed, err := repo.Untrack(ctx, types.SiteASI3, "http://x/lot/1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Untrack(ctx, types.SiteASI3, "http://x/lot/1")
	require.NoError(t, err)
	assert.False(t, removed)

	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	item, err = repo.Track(ctx, types.SiteASI3, "http://x/lot/1", nil)
	require.NoError(t, err)
	assert.True(t, item.Active)
	require.NotNil(t, item.Title)
	assert.Equal(t, "Bronco", *item.Title)

	all, err := repo.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
