package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emoki/snipr/internal/logging"
)

func newTestScheduler(t *testing.T, min, max time.Duration) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerConfig{MinInterval: min, MaxInterval: max}, logging.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestNewScheduler_RejectsBadIntervals(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{MinInterval: 0, MaxInterval: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{MinInterval: 2 * time.Second, MaxInterval: time.Second}, nil)
	assert.Error(t, err)
}

func TestScheduler_DelayBounds(t *testing.T) {
	min, max := 30*time.Second, 60*time.Second
	s := newTestScheduler(t, min, max)

	for i := 0; i < 1000; i++ {
		d := s.NextDelay()
		require.GreaterOrEqual(t, d, min)
		require.LessOrEqual(t, d, max)

		first := s.firstDelay()
		require.GreaterOrEqual(t, first, time.Duration(0))
		require.LessOrEqual(t, first, min)
	}
}

func TestScheduler_DelayBoundsWithFixedDraws(t *testing.T) {
	s := newTestScheduler(t, 30*time.Second, 60*time.Second)

	s.int64n = func(n int64) int64 { return 0 }
	assert.Equal(t, 30*time.Second, s.NextDelay())
	assert.Equal(t, time.Duration(0), s.firstDelay())

	s.int64n = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 60*time.Second, s.NextDelay())
	assert.Equal(t, 30*time.Second, s.firstDelay())
}

func TestScheduler_EqualBoundsGiveFixedInterval(t *testing.T) {
	s := newTestScheduler(t, time.Minute, time.Minute)
	assert.Equal(t, time.Minute, s.NextDelay())
}

func TestScheduler_AddJobRejectsDuplicate(t *testing.T) {
	s := newTestScheduler(t, time.Hour, time.Hour)
	noop := func(context.Context) TaskResult { return TaskContinue }

	assert.True(t, s.AddJob("asi3:a", noop))
	assert.False(t, s.AddJob("asi3:a", noop))
	assert.Equal(t, []string{"asi3:a"}, s.Jobs())
	assert.True(t, s.Has("asi3:a"))
}

func TestScheduler_RemoveJobIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, time.Hour, time.Hour)

	assert.False(t, s.RemoveJob("missing"))
	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult { return TaskContinue }))
	assert.True(t, s.RemoveJob("asi3:a"))
	assert.False(t, s.RemoveJob("asi3:a"))
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_FiresRepeatedly(t *testing.T) {
	s := newTestScheduler(t, 5*time.Millisecond, 10*time.Millisecond)

	var runs atomic.Int32
	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult {
		runs.Add(1)
		return TaskContinue
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_NeverOverlapsAJob(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, 2*time.Millisecond)

	var inFlight, maxInFlight, runs atomic.Int32
	require.True(t, s.AddJob("asi3:slow", func(context.Context) TaskResult {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		runs.Add(1)
		return TaskContinue
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestScheduler_TaskStopDeregisters(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, 2*time.Millisecond)

	var runs atomic.Int32
	require.True(t, s.AddJob("asi3:done", func(context.Context) TaskResult {
		runs.Add(1)
		return TaskStop
	}))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return isClosed(s.Idle()) }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_IdleThenRestart(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, 2*time.Millisecond)
	assert.True(t, isClosed(s.Idle()), "a scheduler without jobs is idle")

	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult { return TaskContinue }))
	idle := s.Idle()
	assert.False(t, isClosed(idle))

	require.True(t, s.RemoveJob("asi3:a"))
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not go idle after its last job was removed")
	}

	var runs atomic.Int32
	require.True(t, s.AddJob("asi3:b", func(context.Context) TaskResult {
		runs.Add(1)
		return TaskContinue
	}))
	assert.False(t, isClosed(s.Idle()))
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestScheduler_RemoveCancelsRunningJob(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, time.Millisecond)

	started := make(chan struct{})
	returned := make(chan struct{})
	require.True(t, s.AddJob("asi3:a", func(ctx context.Context) TaskResult {
		close(started)
		<-ctx.Done()
		close(returned)
		return TaskContinue
	}))

	<-started
	require.True(t, s.RemoveJob("asi3:a"))

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestScheduler_StopWaitsAndRejectsNewJobs(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, time.Millisecond)

	started := make(chan struct{})
	var finished atomic.Bool
	require.True(t, s.AddJob("asi3:a", func(ctx context.Context) TaskResult {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return TaskContinue
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, finished.Load())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.AddJob("asi3:b", func(context.Context) TaskResult { return TaskContinue }))
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, 2*time.Millisecond)

	var runs atomic.Int32
	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return TaskContinue
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	assert.True(t, s.Has("asi3:a"))
}

func TestScheduler_RunNowUnknownJob(t *testing.T) {
	s := newTestScheduler(t, time.Hour, time.Hour)
	assert.False(t, s.RunNow("missing", nil))
}

func TestScheduler_RunNowUsesJobContextAndStop(t *testing.T) {
	s := newTestScheduler(t, time.Hour, time.Hour)
	s.int64n = func(n int64) int64 { return n - 1 }

	var timed atomic.Int32
	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult {
		timed.Add(1)
		return TaskContinue
	}))

	ran := s.RunNow("asi3:a", func(ctx context.Context) TaskResult {
		assert.NoError(t, ctx.Err())
		return TaskStop
	})
	assert.True(t, ran)
	assert.False(t, s.Has("asi3:a"))
	assert.Equal(t, int32(0), timed.Load())
}

func TestScheduler_RunNowSkipsJobInFlight(t *testing.T) {
	s := newTestScheduler(t, time.Millisecond, time.Millisecond)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	track := func() func() {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		return func() { inFlight.Add(-1) }
	}

	require.True(t, s.AddJob("asi3:a", func(context.Context) TaskResult {
		defer track()()
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return TaskContinue
	}))
	<-started

	var manual atomic.Int32
	for i := 0; i < 3; i++ {
		assert.False(t, s.RunNow("asi3:a", func(context.Context) TaskResult {
			defer track()()
			manual.Add(1)
			return TaskContinue
		}))
	}
	close(release)

	assert.Equal(t, int32(0), manual.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}
