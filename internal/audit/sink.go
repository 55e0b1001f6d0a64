// Package audit persists run events and terminal results for later review.
// Persistence is a side effect performed outside the orchestrator's logic:
// sinks receive data, and a sink error never fails the run that produced it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/metrics"
)

// RunRecord is the persisted summary of one finished run.
type RunRecord struct {
	RunID          string    `json:"run_id" db:"run_id"`
	Prompt         string    `json:"prompt" db:"prompt"`
	FinalText      string    `json:"final_text" db:"final_text"`
	Converged      bool      `json:"converged" db:"converged"`
	TotalFailure   bool      `json:"total_failure" db:"total_failure"`
	RoundsExecuted int       `json:"rounds_executed" db:"rounds_executed"`
	Provenance     string    `json:"provenance" db:"provenance"`
	Candidates     string    `json:"candidates" db:"candidates"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Sink receives audit data. Implementations must be safe for concurrent
// use.
type Sink interface {
	RecordEvent(ctx context.Context, ev consensus.Event) error
	RecordRun(ctx context.Context, rec RunRecord) error
}

// RecordFromResult flattens a terminal result into a persistable record.
func RecordFromResult(prompt string, res *consensus.Result) RunRecord {
	prov, _ := json.Marshal(res.Provenance)
	cands, _ := json.Marshal(res.RankedCandidates)
	return RunRecord{
		RunID:          res.RunID,
		Prompt:         prompt,
		FinalText:      res.FinalText,
		Converged:      res.Converged,
		TotalFailure:   res.TotalFailure,
		RoundsExecuted: res.RoundsExecuted,
		Provenance:     string(prov),
		Candidates:     string(cands),
		CreatedAt:      time.Now(),
	}
}

// LogSink writes audit data to the structured log. The default sink when no
// database is configured.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) RecordEvent(_ context.Context, ev consensus.Event) error {
	s.Logger.Info("audit event",
		zap.String("run_id", ev.RunID),
		zap.String("type", ev.Type),
		zap.Int("round", ev.Round),
		zap.String("model", ev.ModelID),
	)
	metrics.AuditEventsRecorded.WithLabelValues("log", "ok").Inc()
	return nil
}

func (s *LogSink) RecordRun(_ context.Context, rec RunRecord) error {
	s.Logger.Info("audit run",
		zap.String("run_id", rec.RunID),
		zap.Bool("converged", rec.Converged),
		zap.Bool("total_failure", rec.TotalFailure),
		zap.Int("rounds", rec.RoundsExecuted),
	)
	return nil
}

// Multi fans audit data out to several sinks. Errors are logged per sink
// and never propagated; auditing is best-effort by design of the caller.
type Multi struct {
	Sinks  []Sink
	Logger *zap.Logger
}

func (m *Multi) RecordEvent(ctx context.Context, ev consensus.Event) error {
	for _, s := range m.Sinks {
		if err := s.RecordEvent(ctx, ev); err != nil {
			m.Logger.Warn("audit sink rejected event", zap.Error(err))
		}
	}
	return nil
}

func (m *Multi) RecordRun(ctx context.Context, rec RunRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordRun(ctx, rec); err != nil {
			m.Logger.Warn("audit sink rejected run record", zap.Error(err))
		}
	}
	return nil
}
