package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emoki/snipr/internal/errors"
	"github.com/emoki/snipr/internal/fetcher"
	"github.com/emoki/snipr/internal/job"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/retry"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
	"github.com/emoki/snipr/internal/worker"
)

// TrackStatus says whether Track created a job
type TrackStatus string

const (
	TrackStatusScheduled      TrackStatus = "scheduled"
	TrackStatusAlreadyTracked TrackStatus = "already-tracked"
)

// TrackResult is returned by Track
type TrackResult struct {
	JobID      string            `json:"jobId"`
	Status     TrackStatus       `json:"status"`
	Snapshot   *models.StoredBid `json:"snapshot,omitempty"`
	FetchError string            `json:"fetchError,omitempty"`
}

// ScheduledItem describes one item known to the service
type ScheduledItem struct {
	JobID  string          `json:"jobId"`
	Site   types.SiteCode  `json:"site"`
	URL    string          `json:"url"`
	Title  *string         `json:"title,omitempty"`
	Static bool            `json:"static"`
	Status types.JobStatus `json:"status"`
}

type trackedJob struct {
	item   models.ItemRef
	task   *worker.PollTask
	static bool
}

// TrackingService keeps the scheduler's job set in line with the static item
// list and the tracking registry.
//
// Finished jobs stay known to the service so that a registry sync does not
// schedule them again; they are forgotten once the item leaves the registry
// or is untracked.
type TrackingService struct {
	items     storage.TrackedItemStore
	fetchers  *fetcher.Registry
	scheduler *worker.Scheduler
	tasks     *worker.PollTaskFactory
	logger    *logging.Logger

	mu   sync.Mutex
	jobs map[string]*trackedJob

	syncMu   sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

// NewTrackingService creates a tracking service
func NewTrackingService(
	items storage.TrackedItemStore,
	fetchers *fetcher.Registry,
	scheduler *worker.Scheduler,
	tasks *worker.PollTaskFactory,
	logger *logging.Logger,
) *TrackingService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TrackingService{
		items:     items,
		fetchers:  fetchers,
		scheduler: scheduler,
		tasks:     tasks,
		logger:    logger.WithField("component", "tracking"),
		jobs:      make(map[string]*trackedJob),
	}
}

// SeedFromConfig schedules the static item list and returns how many jobs
// were added
func (s *TrackingService) SeedFromConfig(items []models.ItemRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, item := range items {
		if err := s.validate(item.Site, item.URL); err != nil {
			return added, err
		}
		ok, err := s.scheduleLocked(item, true)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}

	s.logger.WithField("count", added).Info("Static items scheduled")
	return added, nil
}

// Track registers an item and schedules its job. With fetchNow a newly
// scheduled item is also polled once before returning; an item that was
// already tracked is left to its timer.
func (s *TrackingService) Track(ctx context.Context, site, itemURL string, title *string, fetchNow bool) (*TrackResult, error) {
	code := types.NormalizeSite(site)
	itemURL = strings.TrimSpace(itemURL)
	if err := s.validate(code, itemURL); err != nil {
		return nil, err
	}

	stored, err := s.items.Track(ctx, code, itemURL, title)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := job.ID(code, itemURL)
	status := TrackStatusAlreadyTracked
	if tj, ok := s.jobs[id]; !ok || !s.scheduler.Has(id) {
		if ok {
			// the previous job finished; start over with a fresh state
			delete(s.jobs, id)
		}
		if _, err := s.scheduleLocked(stored.Ref(), false); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		status = TrackStatusScheduled
	} else if tj.item.Title == nil && title != nil {
		tj.item.Title = title
	}
	tj, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NewInternalError("scheduler is not accepting jobs", nil)
	}

	result := &TrackResult{JobID: id, Status: status}
	if fetchNow && status == TrackStatusScheduled {
		s.pollNow(id, tj.task, result)
	}
	return result, nil
}

// pollNow runs one poll of a freshly scheduled job through the scheduler so
// it never overlaps a timed execution of the same job
func (s *TrackingService) pollNow(id string, task *worker.PollTask, result *TrackResult) {
	var out worker.Outcome
	ran := s.scheduler.RunNow(id, func(ctx context.Context) worker.TaskResult {
		out = task.RunOnce(ctx)
		if out.Ended() {
			return worker.TaskStop
		}
		return worker.TaskContinue
	})
	if !ran {
		result.FetchError = "a poll of this item is already in progress"
		return
	}
	result.Snapshot = out.Stored
	if out.Err != nil {
		result.FetchError = out.Err.Error()
	}
}

// Untrack deactivates an item and removes its job. It reports whether the
// item was tracked at all.
func (s *TrackingService) Untrack(ctx context.Context, site, itemURL string) (bool, error) {
	code := types.NormalizeSite(site)
	itemURL = strings.TrimSpace(itemURL)

	deactivated, err := s.items.Untrack(ctx, code, itemURL)
	if err != nil {
		return false, err
	}

	id := job.ID(code, itemURL)
	s.mu.Lock()
	_, known := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	removed := s.scheduler.RemoveJob(id)

	return deactivated || known || removed, nil
}

// Reconcile applies the registry's active item set: new items get a job,
// registry items that are no longer present lose theirs. Static items are
// left alone.
func (s *TrackingService) Reconcile(items []models.ItemRef) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := job.ID(item.Site, item.URL)
		want[id] = struct{}{}
		if _, ok := s.jobs[id]; ok {
			continue
		}
		ok, err := s.scheduleLocked(item, false)
		if err != nil {
			s.logger.WithError(err).WithField("url", item.URL).Warn("Skipping registry item")
			continue
		}
		if ok {
			added++
		}
	}

	for id, tj := range s.jobs {
		if tj.static {
			continue
		}
		if _, ok := want[id]; ok {
			continue
		}
		delete(s.jobs, id)
		s.scheduler.RemoveJob(id)
		removed++
	}

	if added > 0 || removed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"added":   added,
			"removed": removed,
		}).Info("Tracked items changed")
	}
	return added, removed
}

// Sync reloads the active registry items and reconciles the job set
func (s *TrackingService) Sync(ctx context.Context) error {
	items, err := s.items.List(ctx, true)
	if err != nil {
		return err
	}

	refs := make([]models.ItemRef, 0, len(items))
	for _, item := range items {
		refs = append(refs, item.Ref())
	}
	s.Reconcile(refs)
	return nil
}

// StartSync runs Sync every interval until Stop is called
func (s *TrackingService) StartSync(ctx context.Context, interval time.Duration) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.running {
		return fmt.Errorf("registry sync is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	go func() {
		defer close(s.doneChan)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil {
					s.logger.WithError(err).Warn("Registry sync failed")
				}
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop ends the periodic sync started by StartSync
func (s *TrackingService) Stop() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if !s.running {
		return
	}
	close(s.stopChan)
	<-s.doneChan
	s.running = false
}

// List returns every item known to the service, sorted by job id
func (s *TrackingService) List() []ScheduledItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledItem, 0, len(s.jobs))
	for id, tj := range s.jobs {
		out = append(out, ScheduledItem{
			JobID:  id,
			Site:   tj.item.Site,
			URL:    tj.item.URL,
			Title:  tj.item.Title,
			Static: tj.static,
			Status: tj.task.Status(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// WarmUp prepares every registered fetcher, retrying with exponential backoff
func (s *TrackingService) WarmUp(ctx context.Context) error {
	cfg := retry.DefaultRetryConfig()
	cfg.MaxAttempts = 3

	for _, site := range s.fetchers.Sites() {
		f, err := s.fetchers.Get(site)
		if err != nil {
			return err
		}
		err = retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				s.logger.WithField("site", site.String()).WithField("attempt", attempt).Warn("Retrying fetcher warm-up")
			}
			return f.WarmUp(ctx)
		})
		if err != nil {
			return fmt.Errorf("warm-up for site %s: %w", site, err)
		}
	}
	return nil
}

func (s *TrackingService) validate(site types.SiteCode, itemURL string) error {
	if !s.fetchers.Has(site) {
		return errors.NewUnknownSiteError(site.String())
	}
	u, err := url.Parse(itemURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewInvalidParameterError("url", "must be an absolute http(s) URL")
	}
	return nil
}

// scheduleLocked creates the poll task for item and hands it to the
// scheduler. It returns false when the job already exists.
func (s *TrackingService) scheduleLocked(item models.ItemRef, static bool) (bool, error) {
	id := job.ID(item.Site, item.URL)
	if _, ok := s.jobs[id]; ok {
		return false, nil
	}

	task, err := s.tasks.New(item)
	if err != nil {
		return false, err
	}
	if !s.scheduler.AddJob(id, task.Run) {
		return false, nil
	}
	s.jobs[id] = &trackedJob{item: item, task: task, static: static}
	return true, nil
}
