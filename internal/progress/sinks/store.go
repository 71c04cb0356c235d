package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/store"
)

// StoreSink persists terminal job outcomes via a store.ResultRepository.
// Non-terminal events are ignored; the repository only keeps final rows.
type StoreSink struct {
	repo   store.ResultRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ResultRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses the batch to the last terminal event per job and forwards
// each one to the repository. It returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[resultKey]progress.Event)
	order := make([]resultKey, 0, len(batch))
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		key := resultKey{run: evt.RunID.String(), job: evt.JobID}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = evt
	}

	for _, key := range order {
		evt := latest[key]
		if err := s.repo.UpsertJobResult(ctx, toResult(evt)); err != nil {
			return fmt.Errorf("persist job %s: %w", evt.JobID, err)
		}
		s.logger.Debug("job result persisted", zap.String("job_id", evt.JobID), zap.String("status", string(evt.Status)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type resultKey struct {
	run string
	job string
}

func toResult(evt progress.Event) store.JobResult {
	result := store.JobResult{
		RunID:      evt.RunID,
		JobID:      evt.JobID,
		URL:        evt.URL,
		Path:       evt.Path,
		Status:     string(evt.Status),
		Score:      evt.Score,
		Attempts:   evt.Attempt,
		Duration:   evt.Dur,
		FinishedAt: evt.TS,
	}
	if evt.Note != "" {
		note := evt.Note
		result.Note = &note
	}
	return result
}
