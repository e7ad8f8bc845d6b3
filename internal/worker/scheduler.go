// Package worker runs the per-item polling jobs.
package worker

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/emoki/snipr/internal/logging"
)

// TaskResult tells the scheduler what to do with a job after one execution
type TaskResult int

const (
	// TaskContinue keeps the job scheduled
	TaskContinue TaskResult = iota
	// TaskStop deregisters the job
	TaskStop
)

// TaskFunc is one execution of a job. ctx is cancelled when the job is
// removed or the scheduler stops.
type TaskFunc func(ctx context.Context) TaskResult

// SchedulerConfig bounds the gap between two fires of the same job
type SchedulerConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

type scheduledJob struct {
	id      string
	run     TaskFunc
	next    time.Time
	index   int
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// jobHeap orders jobs by next fire time
type jobHeap []*scheduledJob

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*scheduledJob)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// Scheduler fires each registered job at jittered intervals.
//
// A single clock goroutine owns the timing; every execution runs in its own
// goroutine. A job never overlaps itself: a fire that arrives while the
// previous execution is still running is dropped. When the last job is
// removed the clock goroutine exits and the channel returned by Idle closes;
// adding a job afterwards starts a new clock.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *logging.Logger
	int64n func(n int64) int64

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	wake       chan struct{}

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	queue   jobHeap
	running bool
	stopped bool
	idle    chan struct{}
}

// NewScheduler creates a scheduler with no jobs
func NewScheduler(cfg SchedulerConfig, logger *logging.Logger) (*Scheduler, error) {
	if cfg.MinInterval <= 0 {
		return nil, fmt.Errorf("min interval must be positive, got %s", cfg.MinInterval)
	}
	if cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("max interval %s is below min interval %s", cfg.MaxInterval, cfg.MinInterval)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		logger:     logger.WithField("component", "scheduler"),
		int64n:     rand.Int63n,
		baseCtx:    ctx,
		baseCancel: cancel,
		wake:       make(chan struct{}, 1),
		jobs:       make(map[string]*scheduledJob),
		idle:       idle,
	}, nil
}

// NextDelay draws the gap before a job's next fire, uniform in [min, max]
func (s *Scheduler) NextDelay() time.Duration {
	return s.cfg.MinInterval + s.uniform(s.cfg.MaxInterval-s.cfg.MinInterval)
}

// firstDelay spreads first fires uniformly over [0, min]
func (s *Scheduler) firstDelay() time.Duration {
	return s.uniform(s.cfg.MinInterval)
}

func (s *Scheduler) uniform(upTo time.Duration) time.Duration {
	if upTo <= 0 {
		return 0
	}
	return time.Duration(s.int64n(int64(upTo) + 1))
}

// AddJob registers run under id. It returns false when id is already
// scheduled or the scheduler has been stopped.
func (s *Scheduler) AddJob(id string, run TaskFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.jobs[id]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	j := &scheduledJob{
		id:     id,
		run:    run,
		next:   time.Now().Add(s.firstDelay()),
		ctx:    ctx,
		cancel: cancel,
	}
	s.jobs[id] = j
	heap.Push(&s.queue, j)

	s.logger.WithEvent("job_scheduled").WithFields(map[string]interface{}{
		"jobId":    id,
		"firstRun": j.next.UTC().Format(time.RFC3339Nano),
	}).Info("Job scheduled")

	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.clock(s.idle)
		s.logger.WithEvent("scheduler_started").Info("Scheduler clock started")
	}
	s.signal()
	return true
}

// RemoveJob deregisters id and cancels its context. Removing an unknown id
// is a no-op and returns false.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.removeLocked(j, "removed")
	return true
}

func (s *Scheduler) removeLocked(j *scheduledJob, reason string) {
	delete(s.jobs, j.id)
	if j.index >= 0 {
		heap.Remove(&s.queue, j.index)
	}
	j.cancel()
	s.signal()

	s.logger.WithEvent("job_deregistered").WithFields(map[string]interface{}{
		"jobId":  j.id,
		"reason": reason,
	}).Info("Job deregistered")
}

// Has reports whether id is scheduled
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Jobs returns the scheduled job ids, sorted
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of scheduled jobs
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Idle returns a channel that is closed once the current clock run has
// exited because no jobs remain. Call it again after adding jobs.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Stop deregisters every job, cancels running executions and waits for them
// to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for _, j := range s.jobs {
			s.removeLocked(j, "shutdown")
		}
		s.baseCancel()
		s.signal()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// clock fires due jobs until no jobs remain
func (s *Scheduler) clock(idle chan struct{}) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.running = false
			close(idle)
			s.mu.Unlock()
			s.logger.WithEvent("scheduler_stopped").Info("No jobs remain, scheduler clock stopped")
			return
		}

		now := time.Now()
		for s.queue.Len() > 0 && !s.queue[0].next.After(now) {
			j := s.queue[0]
			j.next = now.Add(s.NextDelay())
			heap.Fix(&s.queue, 0)
			s.fireLocked(j)
		}
		wait := s.queue[0].next.Sub(now)
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		}
	}
}

func (s *Scheduler) fireLocked(j *scheduledJob) {
	if j.running {
		s.logger.WithEvent("job_coalesced").WithField("jobId", j.id).Debug("Previous run still in flight, skipping fire")
		return
	}

	j.running = true
	s.wg.Add(1)
	go s.execute(j)
}

// RunNow executes id's job on the calling goroutine, outside its timer. run
// replaces the registered TaskFunc for this execution when non-nil and gets
// the job's context. It returns false without running anything when id is
// not scheduled or an execution of it is already in flight.
func (s *Scheduler) RunNow(id string, run TaskFunc) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if j.running {
		s.mu.Unlock()
		s.logger.WithEvent("job_coalesced").WithField("jobId", id).Debug("Run requested while already in flight, skipping")
		return false
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	if run == nil {
		run = j.run
	}
	defer s.wg.Done()
	s.finish(j, s.runSafely(j, run))
	return true
}

func (s *Scheduler) execute(j *scheduledJob) {
	defer s.wg.Done()
	s.finish(j, s.runSafely(j, j.run))
}

func (s *Scheduler) finish(j *scheduledJob, result TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.running = false
	if result == TaskStop && s.jobs[j.id] == j {
		s.removeLocked(j, "finished")
	}
}

func (s *Scheduler) runSafely(j *scheduledJob, run TaskFunc) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("jobId", j.id).WithField("panic", fmt.Sprint(r)).Error("Job panicked")
			result = TaskContinue
		}
	}()
	return run(j.ctx)
}
