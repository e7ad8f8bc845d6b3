package worker

import (
	"context"
	"sync"
	"time"

	"github.com/emoki/snipr/internal/circuitbreaker"
	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/fetcher"
	"github.com/emoki/snipr/internal/job"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/ratelimit"
	"github.com/emoki/snipr/internal/retry"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
)

// Rotation supplies per-request headers and proxy
type Rotation interface {
	Headers() map[string]string
	Proxy() (string, error)
}

// PollTaskConfig holds the timings shared by every poll task
type PollTaskConfig struct {
	EndGrace     time.Duration
	RetryBackoff time.Duration
	FetchTimeout time.Duration
}

// Outcome reports what one poll did
type Outcome struct {
	Snapshot   *models.BidSnapshot
	Stored     *models.StoredBid
	Transition *job.Transition
	Err        error
	Backoff    time.Duration
	Skipped    bool // circuit open, nothing fetched
	Discarded  bool // job removed while the poll was in flight
}

// Ended reports whether the item's job is finished after this poll
func (o Outcome) Ended() bool {
	return o.Transition != nil && o.Transition.To == types.JobStatusFinished
}

// PollTask fetches one item, stores the snapshot and advances its state
type PollTask struct {
	JobID string
	Item  models.ItemRef

	fetcher  fetcher.Fetcher
	store    storage.BidStore
	rotation Rotation
	limiter  *ratelimit.SiteLimiter
	breaker  *circuitbreaker.CircuitBreaker
	cfg      PollTaskConfig
	logger   *logging.Logger

	now    func() time.Time
	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error

	mu    sync.Mutex
	state *job.State
}

// Run is the TaskFunc handed to the scheduler
func (t *PollTask) Run(ctx context.Context) TaskResult {
	if t.RunOnce(ctx).Ended() {
		return TaskStop
	}
	return TaskContinue
}

// Status returns the current job status
func (t *PollTask) Status() types.JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status
}

// RunOnce performs a single poll. ctx is the job context: cancelling it
// aborts the rate-limit wait and the backoff sleep, while a fetch already
// under way completes and is stored but no longer evaluated.
func (t *PollTask) RunOnce(ctx context.Context) Outcome {
	log := t.logger

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, t.Item.Site.String()); err != nil {
			return Outcome{Err: err, Discarded: true}
		}
	}

	opts := fetcher.RequestOptions{Headers: t.rotation.Headers()}
	proxy, err := t.rotation.Proxy()
	if err != nil {
		log.WithEvent("fetch_failed").WithError(err).Warn("Could not pick a proxy, skipping poll")
		return Outcome{Err: err}
	}
	opts.Proxy = proxy

	if t.breaker != nil {
		if err := t.breaker.Allow(); err != nil {
			log.WithField("site", t.Item.Site).Debug("Circuit open for site, skipping poll")
			return Outcome{Err: err, Skipped: true}
		}
	}

	detached := context.WithoutCancel(ctx)
	fetchCtx, cancel := context.WithTimeout(detached, t.cfg.FetchTimeout)
	snap, err := t.fetcher.Fetch(fetchCtx, t.Item.URL, opts)
	cancel()

	if t.breaker != nil {
		t.breaker.Record(errors.IsNetworkFailure(err))
	}

	if err != nil {
		entry := log.WithEvent("fetch_failed").WithError(err)
		if errors.IsRetriable(err) {
			backoff := t.jitter(t.cfg.RetryBackoff)
			entry.WithFields(map[string]interface{}{
				"upstreamStatus": errors.UpstreamStatus(err),
				"backoff":        backoff.String(),
			}).Warn("Site is throttling, backing off")
			if sleepErr := t.sleep(ctx, backoff); sleepErr != nil {
				return Outcome{Err: err, Backoff: backoff, Discarded: true}
			}
			return Outcome{Err: err, Backoff: backoff}
		}
		entry.Warn("Fetch failed")
		return Outcome{Err: err}
	}

	storeCtx, cancel := context.WithTimeout(detached, t.cfg.FetchTimeout)
	stored, err := t.store.Append(storeCtx, t.Item.Site, t.Item.URL, snap)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to store bid snapshot")
		return Outcome{Snapshot: snap, Err: err}
	}

	if ctx.Err() != nil {
		log.Debug("Job removed while polling, result not evaluated")
		return Outcome{Snapshot: snap, Stored: stored, Discarded: true}
	}

	observedAt := snap.Timestamp
	if observedAt.IsZero() {
		observedAt = t.now()
	}

	t.mu.Lock()
	tr := t.state.Evaluate(snap.CurrentPrice, observedAt, t.cfg.EndGrace)
	t.mu.Unlock()

	if tr.PriceChanged {
		log.WithEvent("price_changed").WithFields(map[string]interface{}{
			"price":     snap.CurrentPrice.StringFixed(2),
			"currency":  snap.Currency,
			"totalBids": snap.TotalBids,
		}).Info("Price changed")
	} else {
		log.WithField("stagnantFor", tr.StagnantFor.String()).Debug("Price unchanged")
	}
	if tr.Finished() {
		log.WithEvent("auction_finished").WithFields(map[string]interface{}{
			"finalPrice":  snap.CurrentPrice.StringFixed(2),
			"stagnantFor": tr.StagnantFor.String(),
		}).Info("Auction finished")
	}

	return Outcome{Snapshot: snap, Stored: stored, Transition: &tr}
}

// PollTaskFactory builds poll tasks that share one set of dependencies
type PollTaskFactory struct {
	Fetchers *fetcher.Registry
	Store    storage.BidStore
	Rotation Rotation
	Limiter  *ratelimit.SiteLimiter
	Breakers *circuitbreaker.Manager
	Config   PollTaskConfig
	Logger   *logging.Logger
}

// New creates the task for item. It fails when no fetcher serves the site.
func (f *PollTaskFactory) New(item models.ItemRef) (*PollTask, error) {
	fetch, err := f.Fetchers.Get(item.Site)
	if err != nil {
		return nil, errors.NewUnknownSiteError(item.Site.String())
	}

	logger := f.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	id := job.ID(item.Site, item.URL)
	task := &PollTask{
		JobID:    id,
		Item:     item,
		fetcher:  fetch,
		store:    f.Store,
		rotation: f.Rotation,
		limiter:  f.Limiter,
		cfg:      f.Config,
		logger: logger.WithFields(map[string]interface{}{
			"jobId": id,
			"site":  item.Site.String(),
			"url":   item.URL,
		}),
		now:    time.Now,
		jitter: retry.Jittered,
		sleep:  retry.Sleep,
		state:  job.NewState(time.Now()),
	}
	if f.Breakers != nil {
		task.breaker = f.Breakers.Get(item.Site.String())
	}
	if task.cfg.FetchTimeout <= 0 {
		task.cfg.FetchTimeout = 30 * time.Second
	}
	return task, nil
}
