package database

import "time"

// Outcomes recorded for a pipeline run.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// PipelineRun is one journaled pipeline execution. It carries identifiers
// and counters only, never message text.
type PipelineRun struct {
	ID                 string    `db:"id"`
	ChatID             int64     `db:"chat_id"`
	MessageID          int       `db:"message_id"`
	Outcome            string    `db:"outcome"`
	Stage              string    `db:"stage"`
	ErrorKind          string    `db:"error_kind"`
	Buttons            int       `db:"buttons"`
	Dropped            int       `db:"dropped"`
	Model              string    `db:"model"`
	InstructionVersion uint64    `db:"instruction_version"`
	DurationMS         int64     `db:"duration_ms"`
	CreatedAt          time.Time `db:"created_at"`
}

// RunStats aggregates journaled runs.
type RunStats struct {
	Total         int64
	ByOutcome     map[string]int64
	AvgDurationMS float64
}
