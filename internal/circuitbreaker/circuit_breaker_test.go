package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(&Config{Name: "asi3", MaxFailures: maxFailures, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cb.now = clock.now
	cb.lastStateChange = clock.now()
	return cb, clock
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(true)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	// a success in between resets the streak
	require.NoError(t, cb.Allow())
	cb.Record(false)
	for i := 0; i < 2; i++ {
		cb.Record(true)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	cb.Record(true)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Record(true)
	require.Equal(t, StateOpen, cb.GetState())

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	clock.advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())
	// probe budget spent
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.Record(false)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Record(true)
	clock.advance(2 * time.Minute)
	require.NoError(t, cb.Allow())

	cb.Record(true)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(0)
	for i := 0; i < 100; i++ {
		cb.Record(true)
	}
	assert.NoError(t, cb.Allow())
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestManager_OneBreakerPerName(t *testing.T) {
	m := NewManager(*DefaultConfig(""))
	a := m.Get("asi3")
	assert.Same(t, a, m.Get("asi3"))
	assert.NotSame(t, a, m.Get("other"))

	states := m.States()
	assert.Len(t, states, 2)
	assert.Equal(t, StateClosed, states["asi3"])
}
