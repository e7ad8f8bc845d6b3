// Package job holds the per-item polling state and its identity.
package job

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/emoki/snipr/internal/types"
)

// State tracks the last observed price of one item and when it last moved.
//
// Ending is a price-stagnation heuristic: an auction is treated as over once
// its price has not changed for the end grace period. It does not know the
// real close time, so a quiet auction with a long gap between bids can be
// declared finished early.
type State struct {
	LastPrice    *decimal.Decimal
	LastChangeAt time.Time
	Status       types.JobStatus
}

// Transition describes the effect of one Evaluate call
type Transition struct {
	From         types.JobStatus
	To           types.JobStatus
	PriceChanged bool
	StagnantFor  time.Duration
}

// Finished reports whether this evaluation ended the job
func (t Transition) Finished() bool {
	return t.From == types.JobStatusActive && t.To == types.JobStatusFinished
}

// NewState creates an active state whose stagnation clock starts at now
func NewState(now time.Time) *State {
	return &State{
		LastChangeAt: now,
		Status:       types.JobStatusActive,
	}
}

// Evaluate feeds a freshly observed price into the state machine.
// A first observation or a different price resets the stagnation clock;
// an unchanged price held for at least grace finishes the job. Finished is
// terminal: later calls change nothing.
func (s *State) Evaluate(price decimal.Decimal, now time.Time, grace time.Duration) Transition {
	tr := Transition{From: s.Status, To: s.Status}
	if s.Status == types.JobStatusFinished {
		tr.StagnantFor = now.Sub(s.LastChangeAt)
		return tr
	}

	if s.LastPrice == nil || !s.LastPrice.Equal(price) {
		p := price
		s.LastPrice = &p
		s.LastChangeAt = now
		tr.PriceChanged = true
		return tr
	}

	tr.StagnantFor = now.Sub(s.LastChangeAt)
	if tr.StagnantFor >= grace {
		s.Status = types.JobStatusFinished
		tr.To = types.JobStatusFinished
	}
	return tr
}
