package consensus

import (
	"context"
	"time"
)

// Event types emitted over a run's lifetime.
const (
	EventRunStarted     = "run_started"
	EventBackendResult  = "backend_result"
	EventBackendFailure = "backend_failure"
	EventRoundFused     = "round_fused"
	EventRoundJudged    = "round_judged"
	EventRunCompleted   = "run_completed"
)

// Event is one audit/streaming record of the round loop. Events are data
// for observers; they never influence the run's outcome.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Round     int       `json:"round"`
	ModelID   string    `json:"model_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter receives run events. Implementations must be cheap and must not
// block the round loop; anything slow belongs behind a buffer.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}
