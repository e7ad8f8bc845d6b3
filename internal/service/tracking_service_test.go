package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/fetcher"
	"github.com/emoki/snipr/internal/job"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
	"github.com/emoki/snipr/internal/worker"
)

type stubFetcher struct {
	fetcher.Base
	warmUps   atomic.Int32
	warmUpErr error
}

func (f *stubFetcher) Site() types.SiteCode { return types.SiteASI3 }

func (f *stubFetcher) Fetch(_ context.Context, _ string, _ fetcher.RequestOptions) (*models.BidSnapshot, error) {
	return &models.BidSnapshot{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ItemTitle:    "2023 FORD BRONCO",
		LotNumber:    "10020",
		Currency:     "USD",
		CurrentPrice: decimal.NewFromInt(500),
	}, nil
}

func (f *stubFetcher) WarmUp(context.Context) error {
	f.warmUps.Add(1)
	return f.warmUpErr
}

type noRotation struct{}

func (noRotation) Headers() map[string]string { return nil }
func (noRotation) Proxy() (string, error)     { return "", nil }

type serviceFixture struct {
	svc       *TrackingService
	items     *storage.MemoryTrackedItemStore
	bids      *storage.MemoryBidStore
	scheduler *worker.Scheduler
	fetch     *stubFetcher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	logger := logging.NewDiscardLogger()
	fetch := &stubFetcher{}
	registry := fetcher.NewRegistry()
	registry.Register(fetch)

	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{MinInterval: time.Hour, MaxInterval: time.Hour}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = scheduler.Stop(context.Background()) })

	items := storage.NewMemoryTrackedItemStore()
	bids := storage.NewMemoryBidStore()
	factory := &worker.PollTaskFactory{
		Fetchers: registry,
		Store:    bids,
		Rotation: noRotation{},
		Config:   worker.PollTaskConfig{EndGrace: time.Minute, RetryBackoff: time.Second, FetchTimeout: time.Second},
		Logger:   logger,
	}

	return &serviceFixture{
		svc:       NewTrackingService(items, registry, scheduler, factory, logger),
		items:     items,
		bids:      bids,
		scheduler: scheduler,
		fetch:     fetch,
	}
}

func ref(url string) models.ItemRef {
	return models.ItemRef{Site: types.SiteASI3, URL: url}
}

func TestTrackingService_SeedFromConfig(t *testing.T) {
	fx := newServiceFixture(t)

	added, err := fx.svc.SeedFromConfig([]models.ItemRef{ref("https://a/1"), ref("https://a/2"), ref("https://a/1")})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, fx.scheduler.Len())

	list := fx.svc.List()
	require.Len(t, list, 2)
	assert.True(t, list[0].Static)
	assert.Equal(t, types.JobStatusActive, list[0].Status)
}

func TestTrackingService_SeedRejectsUnknownSite(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.SeedFromConfig([]models.ItemRef{{Site: "ebay", URL: "https://e/1"}})
	require.Error(t, err)
	assert.True(t, errors.IsUserError(err))
	assert.Equal(t, 0, fx.scheduler.Len())
}

func TestTrackingService_TrackIsIdempotent(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	title := "Bronco"

	first, err := fx.svc.Track(ctx, "ASI3", "https://a/lot/1", &title, false)
	require.NoError(t, err)
	assert.Equal(t, TrackStatusScheduled, first.Status)
	assert.Equal(t, job.ID(types.SiteASI3, "https://a/lot/1"), first.JobID)

	second, err := fx.svc.Track(ctx, "asi3", "https://a/lot/1", nil, false)
	require.NoError(t, err)
	assert.Equal(t, TrackStatusAlreadyTracked, second.Status)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 1, fx.scheduler.Len())

	active, err := fx.items.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bronco", *active[0].Title)
}

func TestTrackingService_TrackValidates(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Track(ctx, "nowhere", "https://a/1", nil, false)
	assert.True(t, errors.IsUserError(err))

	for _, bad := range []string{"", "not a url", "ftp://a/1", "/relative/path"} {
		_, err := fx.svc.Track(ctx, "asi3", bad, nil, false)
		assert.True(t, errors.IsUserError(err), bad)
	}
	assert.Equal(t, 0, fx.scheduler.Len())
}

func TestTrackingService_TrackFetchNow(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	result, err := fx.svc.Track(ctx, "asi3", "https://a/lot/7", nil, true)
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Empty(t, result.FetchError)
	assert.True(t, result.Snapshot.CurrentPrice.Equal(decimal.NewFromInt(500)))

	latest, err := fx.bids.Latest(ctx, types.SiteASI3, "https://a/lot/7")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, result.Snapshot.ID, latest.ID)
}

// slowFetcher holds every fetch for delay and records the peak concurrency
type slowFetcher struct {
	fetcher.Base
	delay time.Duration

	calls, inFlight, maxInFlight atomic.Int32
}

func (f *slowFetcher) Site() types.SiteCode { return types.SiteASI3 }

func (f *slowFetcher) Fetch(_ context.Context, _ string, _ fetcher.RequestOptions) (*models.BidSnapshot, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return &models.BidSnapshot{
		Timestamp:    time.Now(),
		ItemTitle:    "2023 FORD BRONCO",
		LotNumber:    "10020",
		Currency:     "USD",
		CurrentPrice: decimal.NewFromInt(500),
	}, nil
}

func TestTrackingService_FetchNowNeverOverlapsScheduledRun(t *testing.T) {
	logger := logging.NewDiscardLogger()
	fetch := &slowFetcher{delay: 200 * time.Millisecond}
	registry := fetcher.NewRegistry()
	registry.Register(fetch)

	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{MinInterval: 10 * time.Millisecond, MaxInterval: 10 * time.Millisecond}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = scheduler.Stop(ctx)
	})

	factory := &worker.PollTaskFactory{
		Fetchers: registry,
		Store:    storage.NewMemoryBidStore(),
		Rotation: noRotation{},
		Config:   worker.PollTaskConfig{EndGrace: time.Hour, RetryBackoff: time.Second, FetchTimeout: time.Second},
		Logger:   logger,
	}
	svc := NewTrackingService(storage.NewMemoryTrackedItemStore(), registry, scheduler, factory, logger)
	ctx := context.Background()

	first, err := svc.Track(ctx, "asi3", "https://a/lot/1", nil, false)
	require.NoError(t, err)
	require.Equal(t, TrackStatusScheduled, first.Status)
	require.Eventually(t, func() bool { return fetch.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	results := make([]*TrackResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Track(ctx, "asi3", "https://a/lot/1", nil, true)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, TrackStatusAlreadyTracked, r.Status)
		assert.Nil(t, r.Snapshot)
	}

	assert.Eventually(t, func() bool { return fetch.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fetch.maxInFlight.Load())
}

func TestTrackingService_Untrack(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Track(ctx, "asi3", "https://a/lot/1", nil, false)
	require.NoError(t, err)

	removed, err := fx.svc.Untrack(ctx, "asi3", "https://a/lot/1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, fx.scheduler.Len())
	assert.Empty(t, fx.svc.List())

	removed, err = fx.svc.Untrack(ctx, "asi3", "https://a/lot/1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTrackingService_ReconcileLeavesStaticItems(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.SeedFromConfig([]models.ItemRef{ref("https://a/static")})
	require.NoError(t, err)

	added, removed := fx.svc.Reconcile([]models.ItemRef{ref("https://a/1"), ref("https://a/2")})
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 3, fx.scheduler.Len())

	added, removed = fx.svc.Reconcile([]models.ItemRef{ref("https://a/2"), ref("https://a/3")})
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	assert.ElementsMatch(t, []string{
		job.ID(types.SiteASI3, "https://a/static"),
		job.ID(types.SiteASI3, "https://a/2"),
		job.ID(types.SiteASI3, "https://a/3"),
	}, fx.scheduler.Jobs())

	added, removed = fx.svc.Reconcile(nil)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{job.ID(types.SiteASI3, "https://a/static")}, fx.scheduler.Jobs())
}

func TestTrackingService_SyncFromRegistry(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.items.Track(ctx, types.SiteASI3, "https://a/1", nil)
	require.NoError(t, err)
	_, err = fx.items.Track(ctx, types.SiteASI3, "https://a/2", nil)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Sync(ctx))
	assert.Equal(t, 2, fx.scheduler.Len())

	_, err = fx.items.Untrack(ctx, types.SiteASI3, "https://a/1")
	require.NoError(t, err)
	require.NoError(t, fx.svc.Sync(ctx))
	assert.Equal(t, []string{job.ID(types.SiteASI3, "https://a/2")}, fx.scheduler.Jobs())
}

func TestTrackingService_StartSyncAndStop(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.StartSync(ctx, 5*time.Millisecond))
	assert.Error(t, fx.svc.StartSync(ctx, 5*time.Millisecond))

	_, err := fx.items.Track(ctx, types.SiteASI3, "https://a/1", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return fx.scheduler.Len() == 1 }, time.Second, 5*time.Millisecond)

	fx.svc.Stop()
	fx.svc.Stop()
}

func TestTrackingService_WarmUp(t *testing.T) {
	fx := newServiceFixture(t)

	require.NoError(t, fx.svc.WarmUp(context.Background()))
	assert.Equal(t, int32(1), fx.fetch.warmUps.Load())
}
