package audit

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/JakeFAU/siteaudit/internal/lhr"
	"github.com/JakeFAU/siteaudit/internal/route"
)

// Status represents the lifecycle state of an audit job.
type Status string

// Job status values.
const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusFailedRetry Status = "failed-retry"
)

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one scheduled audit of a single route.
type Job struct {
	ID         string      `json:"id"`
	Route      route.Route `json:"route"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ExecutedAt *time.Time  `json:"executedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

// NewJob builds a pending job for r.
func NewJob(r route.Route, now time.Time) Job {
	return Job{
		ID:        r.ID(),
		Route:     r,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Duration returns FinishedAt minus CreatedAt, or zero when the job has not finished.
func (j Job) Duration() time.Duration {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// Report references the artifacts of a job and, on success, its normalized data.
type Report struct {
	// ArtifactPath is the directory on disk holding the job's artifacts.
	ArtifactPath string `json:"artifactPath"`
	// ArtifactKey is ArtifactPath relative to the artifacts root ("<host>/<slug>").
	ArtifactKey string      `json:"artifactKey"`
	Data        *ReportData `json:"data,omitempty"`
}

// ReportData is the normalized view of one audit document.
type ReportData struct {
	Score        float64              `json:"score"`
	FetchTime    string               `json:"fetchTime,omitempty"`
	RequestedURL string               `json:"requestedUrl,omitempty"`
	FinalURL     string               `json:"finalUrl,omitempty"`
	Categories   []CategoryScore      `json:"categories"`
	Audits       map[string]lhr.Audit `json:"audits"`
	Computed     Computed             `json:"computed"`
}

// CategoryScore is the per-category summary kept in a report.
type CategoryScore struct {
	Key   string   `json:"key"`
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Score *float64 `json:"score"`
}

// Computed holds audits synthesized from several raw audits.
type Computed struct {
	ImageIssues ComputedAudit `json:"imageIssues"`
	AriaIssues  ComputedAudit `json:"ariaIssues"`
}

// ComputedAudit aggregates items; Score is 0 when any item is present, else 1.
type ComputedAudit struct {
	Details      ComputedDetails `json:"details"`
	DisplayValue int             `json:"displayValue"`
	Score        float64         `json:"score"`
}

// ComputedDetails carries the raw items of the contributing audits.
type ComputedDetails struct {
	Items []json.RawMessage `json:"items"`
}

// JobReturn is the executor's output for one job.
type JobReturn struct {
	Job    Job    `json:"job"`
	Report Report `json:"report"`
}

// ArtifactStore persists job artifacts under slash-separated keys.
type ArtifactStore interface {
	// Dir returns (creating it if needed) the local directory for key.
	Dir(key string) (string, error)
	PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	// Remove deletes key and anything below it; missing keys are not an error.
	Remove(ctx context.Context, key string) error
	// Sync pushes files already on disk under key to any configured mirror.
	Sync(ctx context.Context, key string) error
}
