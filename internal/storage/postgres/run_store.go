package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultRunTable holds one row per ingest run.
const DefaultRunTable = "ingest_runs"

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunCanceled  = "canceled"
	RunFailed    = "failed"
)

// RunTotals are the per-run counters persisted when a run completes.
type RunTotals struct {
	Points    int
	Processed int
	Stored    int
	Skipped   int
	Failed    int
}

// Run is one row of the run table.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	Totals       RunTotals
	ErrorMessage *string
}

// RunStore records the lifecycle of ingest runs.
type RunStore struct {
	db    querier
	table string
}

// NewRunStore constructs a RunStore. An empty table selects DefaultRunTable.
func NewRunStore(db querier, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// EnsureSchema creates the run table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	stored INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a run in running status.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING;`, s.table)
	if _, err := s.db.Exec(ctx, query, id, startedAt, RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun stamps the final status and totals on a run.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status string,
	totals RunTotals,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, points = $3, processed = $4,
	stored = $5, skipped = $6, failed = $7, error_message = $8
WHERE id = $9;`, s.table)
	tag, err := s.db.Exec(ctx, query,
		finishedAt,
		status,
		totals.Points,
		totals.Processed,
		totals.Stored,
		totals.Skipped,
		totals.Failed,
		errMsg,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, points, processed, stored, skipped, failed, error_message
FROM %s
WHERE id = $1;`, s.table)
	var run Run
	err := s.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Totals.Points,
		&run.Totals.Processed,
		&run.Totals.Stored,
		&run.Totals.Skipped,
		&run.Totals.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}
