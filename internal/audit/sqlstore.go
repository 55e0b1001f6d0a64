package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/metrics"
)

// SQLStore persists audit rows through database/sql. The driver is
// configurable: "sqlite3" for a local file, "postgres" for a shared server.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS consensus_events (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    type        TEXT NOT NULL,
    round       INTEGER NOT NULL,
    model_id    TEXT,
    message     TEXT,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consensus_events_run ON consensus_events (run_id);

CREATE TABLE IF NOT EXISTS consensus_runs (
    run_id          TEXT PRIMARY KEY,
    prompt          TEXT NOT NULL,
    final_text      TEXT NOT NULL,
    converged       BOOLEAN NOT NULL,
    total_failure   BOOLEAN NOT NULL,
    rounds_executed INTEGER NOT NULL,
    provenance      TEXT NOT NULL,
    candidates      TEXT NOT NULL,
    created_at      TIMESTAMP NOT NULL
);
`

// OpenSQLStore connects, pings, and ensures the schema exists.
func OpenSQLStore(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit store (%s): %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	logger.Info("Audit store ready", zap.String("driver", driver))
	return &SQLStore{db: db, logger: logger}, nil
}

// NewSQLStore wraps an existing connection; the caller owns the schema.
// Used by tests with sqlmock.
func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping reports store reachability for health checks.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RecordEvent inserts one event row.
func (s *SQLStore) RecordEvent(ctx context.Context, ev consensus.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	query := s.db.Rebind(`INSERT INTO consensus_events
        (id, run_id, type, round, model_id, message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), ev.RunID, ev.Type, ev.Round, ev.ModelID, ev.Message, ts)
	if err != nil {
		metrics.AuditEventsRecorded.WithLabelValues("sql", "error").Inc()
		return fmt.Errorf("insert audit event: %w", err)
	}
	metrics.AuditEventsRecorded.WithLabelValues("sql", "ok").Inc()
	return nil
}

// RecordRun inserts the terminal run record.
func (s *SQLStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := s.db.Rebind(`INSERT INTO consensus_runs
        (run_id, prompt, final_text, converged, total_failure, rounds_executed, provenance, candidates, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.RunID, rec.Prompt, rec.FinalText, rec.Converged, rec.TotalFailure,
		rec.RoundsExecuted, rec.Provenance, rec.Candidates, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit run: %w", err)
	}
	return nil
}
