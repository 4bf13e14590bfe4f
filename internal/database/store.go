package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the journal operations. Methods accept a context for
// cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveRun inserts a journal entry.
	SaveRun(ctx context.Context, run *PipelineRun) error

	// RunStats aggregates runs created at or after since.
	RunStats(ctx context.Context, since time.Time) (RunStats, error)

	// PruneRuns deletes runs created before cutoff and returns how many were removed.
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance (VACUUM, ANALYZE).
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const insertRunQuery = `
INSERT INTO pipeline_runs (
    id, chat_id, message_id, outcome, stage, error_kind, buttons, dropped,
    model, instruction_version, duration_ms, created_at
) VALUES (
    :id, :chat_id, :message_id, :outcome, :stage, :error_kind, :buttons, :dropped,
    :model, :instruction_version, :duration_ms, :created_at
)`

func (s *sqlxStore) SaveRun(ctx context.Context, run *PipelineRun) error {
	if run == nil {
		return fmt.Errorf("cannot save nil run")
	}
	if run.ID == "" {
		return fmt.Errorf("run must have an id")
	}
	if run.ChatID == 0 {
		return fmt.Errorf("run must have a non-zero chat_id")
	}
	if run.Outcome == "" {
		return fmt.Errorf("run must have an outcome")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()

	if _, err := s.db.NamedExecContext(ctx, insertRunQuery, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save pipeline run", "run_id", run.ID, "chat_id", run.ChatID, "error", err)
		return fmt.Errorf("failed to insert pipeline run: %w", err)
	}
	return nil
}

func (s *sqlxStore) RunStats(ctx context.Context, since time.Time) (RunStats, error) {
	stats := RunStats{ByOutcome: make(map[string]int64)}

	var rows []struct {
		Outcome string `db:"outcome"`
		Count   int64  `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT outcome, COUNT(*) AS count FROM pipeline_runs WHERE created_at >= ? GROUP BY outcome`,
		since.UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to count runs: %w", err)
	}
	for _, r := range rows {
		stats.ByOutcome[r.Outcome] = r.Count
		stats.Total += r.Count
	}

	var avg sql.NullFloat64
	err = s.db.GetContext(ctx, &avg,
		`SELECT AVG(duration_ms) FROM pipeline_runs WHERE created_at >= ?`, since.UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to average run duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}
	return stats, nil
}

func (s *sqlxStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Pruned pipeline runs", "count", n, "cutoff", cutoff.UTC())
	}
	return n, nil
}

// RunSQLMaintenance runs VACUUM, which SQLite refuses inside a transaction,
// followed by ANALYZE.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "VACUUM failed", "error", err)
		return fmt.Errorf("vacuum failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE;"); err != nil {
		s.logger.WarnContext(ctx, "ANALYZE failed", "error", err)
		return fmt.Errorf("analyze failed: %w", err)
	}
	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}
