package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobResult is one row of the audit trail: the terminal outcome of a job in a run.
type JobResult struct {
	RunID  uuid.UUID
	JobID  string
	URL    string
	Path   string
	Status string
	// Score is nil for failed jobs.
	Score      *float64
	Attempts   int
	Duration   time.Duration
	Note       *string
	FinishedAt time.Time
}

// ResultRepository persists terminal job outcomes. It is write-only; runs are
// never resumed from it.
type ResultRepository interface {
	// UpsertJobResult inserts or replaces the row keyed by (run, job).
	UpsertJobResult(ctx context.Context, result JobResult) error
}
