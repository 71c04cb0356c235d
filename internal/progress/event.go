// Package progress defines the lifecycle events emitted by the scheduler.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

// Type names a lifecycle transition.
type Type string

// Supported event types.
const (
	TypeJobAdded       Type = "job-added"
	TypeJobStarted     Type = "job-started"
	TypeJobCompleted   Type = "job-completed"
	TypeJobFailed      Type = "job-failed"
	TypeJobRetry       Type = "job-retry"
	TypeWorkerFinished Type = "worker-finished"
)

// Event captures a single lifecycle transition of an audit run.
type Event struct {
	// RunID identifies the process-wide run that emitted the event.
	RunID uuid.UUID `json:"runId"`
	// Type is the transition that occurred.
	Type Type `json:"type"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// JobID is empty only for worker-finished.
	JobID string `json:"jobId,omitempty"`
	// Path is the canonical route path of the job.
	Path string `json:"path,omitempty"`
	// URL is the audited URL; it should not contain credentials.
	URL    string       `json:"url,omitempty"`
	Status audit.Status `json:"status,omitempty"`
	// Score is the normalized report score for job-completed.
	Score *float64 `json:"score,omitempty"`
	// Dur is the job runtime for terminal events.
	Dur time.Duration `json:"dur,omitempty"`
	// Attempt counts retries already consumed by the job.
	Attempt int `json:"attempt,omitempty"`
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeJobAdded, TypeJobStarted, TypeJobCompleted, TypeJobFailed, TypeJobRetry:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Type)
		}
	case TypeWorkerFinished:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Type == TypeJobCompleted || e.Type == TypeJobFailed
}

// ForJob builds an event of type t describing job.
func ForJob(runID uuid.UUID, t Type, job audit.Job) Event {
	return Event{
		RunID:  runID,
		Type:   t,
		TS:     time.Now().UTC(),
		JobID:  job.ID,
		Path:   job.Route.Path,
		URL:    job.Route.URL,
		Status: job.Status,
		Dur:    job.Duration(),
	}
}
