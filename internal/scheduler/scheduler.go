// Package scheduler owns the job registry. It submits jobs to the pool,
// interprets executor outcomes, requeues transient failures with a fixed
// backoff and reports every transition on the progress bus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/monitor"
	"github.com/JakeFAU/siteaudit/internal/pool"
	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/route"
)

// Retry policy defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 3500 * time.Millisecond
)

var (
	// ErrJobNotFound is returned for ids the registry does not know.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobActive is returned when a rescan targets a job that is still pending or running.
	ErrJobActive = errors.New("job is still active")
)

// Pool is the bounded executor the scheduler submits to.
type Pool interface {
	Execute(ctx context.Context, job audit.Job, runner pool.Runner) (audit.JobReturn, error)
	Stats() pool.Stats
	SystemUsage() (float64, float64)
	// RecordFailure counts a terminal failure decided outside the runner.
	RecordFailure()
	Close()
}

// Runner builds the pool runner that audits job.
type Runner interface {
	Runner(job audit.Job) pool.Runner
}

// ArtifactCleaner removes artifacts by key. Missing keys are not an error.
type ArtifactCleaner interface {
	Remove(ctx context.Context, key string) error
}

// Config tunes the retry policy.
type Config struct {
	RunID      uuid.UUID
	MaxRetries int
	RetryDelay time.Duration
}

type pendingRetry struct {
	job   audit.Job
	timer *time.Timer
}

// Scheduler coordinates the audit of a set of routes.
type Scheduler struct {
	cfg       Config
	pool      Pool
	exec      Runner
	emitter   progress.Emitter
	artifacts ArtifactCleaner
	logger    *zap.Logger
	monitor   *monitor.Monitor
	now       func() time.Time
	start     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*audit.Job
	order   []string
	known   map[string]bool
	reports map[string]audit.Report
	retries map[string]int
	timers  map[string]pendingRetry
	current string
	idle    chan struct{}
	drained bool
	closed  bool
}

// New wires a scheduler. A nil emitter discards events; a nil cleaner skips artifact cleanup.
func New(cfg Config, p Pool, exec Runner, emitter progress.Emitter, artifacts ArtifactCleaner, logger *zap.Logger) (*Scheduler, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	s := &Scheduler{
		cfg:       cfg,
		pool:      p,
		exec:      exec,
		emitter:   emitter,
		artifacts: artifacts,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*audit.Job),
		known:     make(map[string]bool),
		reports:   make(map[string]audit.Report),
		retries:   make(map[string]int),
		timers:    make(map[string]pendingRetry),
		idle:      idle,
		drained:   true,
	}
	s.start = s.now()
	s.monitor = monitor.New(s, p, func() time.Time { return s.now() })
	return s, nil
}

// RunID identifies this scheduler's run on the bus.
func (s *Scheduler) RunID() uuid.UUID {
	return s.cfg.RunID
}

// QueueRoute registers and submits a job for r. It reports false when a job
// with the same id is already registered.
func (s *Scheduler) QueueRoute(r route.Route) bool {
	job := audit.NewJob(r, s.now())
	if !s.register(job) {
		return false
	}
	s.emit(progress.ForJob(s.cfg.RunID, progress.TypeJobAdded, job))
	s.submit(job)
	return true
}

// QueueRoutes deduplicates routes by URL, first wins, and queues each one.
// It returns how many jobs were newly registered.
func (s *Scheduler) QueueRoutes(routes []route.Route) int {
	queued := 0
	for _, r := range route.UniqueByURL(routes) {
		if s.QueueRoute(r) {
			queued++
		}
	}
	return queued
}

// Rescan requeues a finished job. Retry counters are kept.
func (s *Scheduler) Rescan(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		_, pending := s.timers[id]
		s.mu.Unlock()
		if pending {
			return ErrJobActive
		}
		return ErrJobNotFound
	}
	if !j.Status.Terminal() {
		s.mu.Unlock()
		return ErrJobActive
	}
	r := j.Route
	delete(s.jobs, id)
	delete(s.reports, id)
	s.mu.Unlock()

	s.cleanArtifacts(r)
	if !s.QueueRoute(r) {
		return fmt.Errorf("requeue job %s: %w", id, ErrJobActive)
	}
	return nil
}

func (s *Scheduler) register(job audit.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, exists := s.jobs[job.ID]; exists {
		return false
	}
	j := job
	s.jobs[job.ID] = &j
	if !s.known[job.ID] {
		s.known[job.ID] = true
		s.order = append(s.order, job.ID)
	}
	s.markBusyLocked()
	return true
}

func (s *Scheduler) submit(job audit.Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ret, err := s.pool.Execute(s.ctx, job, s.runner(job))
		s.handle(job, ret, err)
	}()
}

func (s *Scheduler) runner(job audit.Job) pool.Runner {
	run := s.exec.Runner(job)
	return func(ctx context.Context, surface pool.Surface) (audit.JobReturn, error) {
		s.markStarted(job)
		return run(ctx, surface)
	}
}

func (s *Scheduler) markStarted(job audit.Job) {
	now := s.now()
	s.mu.Lock()
	if j, ok := s.jobs[job.ID]; ok {
		j.Status = audit.StatusRunning
		j.ExecutedAt = &now
		job = *j
	}
	s.current = fmt.Sprintf("Audit Job - %s - %s", job.Route.Host(), job.Route.Path)
	s.mu.Unlock()
	s.logger.Debug("job started", zap.String("job_id", job.ID), zap.String("url", job.Route.URL))
	s.emit(progress.ForJob(s.cfg.RunID, progress.TypeJobStarted, job))
}

func (s *Scheduler) handle(job audit.Job, ret audit.JobReturn, err error) {
	if ret.Job.ID == "" {
		ret.Job = job
	}
	if err != nil {
		s.logger.Warn("job execution failed", zap.String("job_id", job.ID), zap.Error(err))
		ret.Job = s.finalize(ret.Job, audit.StatusFailed)
	}
	if ret.Report.ArtifactKey == "" {
		ret.Report.ArtifactKey = audit.ArtifactKey(ret.Job.Route)
	}

	switch ret.Job.Status {
	case audit.StatusCompleted:
		s.complete(ret)
	case audit.StatusFailedRetry:
		s.retry(ret)
	default:
		if !ret.Job.Status.Terminal() {
			ret.Job = s.finalize(ret.Job, audit.StatusFailed)
		}
		s.fail(ret.Job, "")
	}
	s.checkIdle()
}

func (s *Scheduler) complete(ret audit.JobReturn) {
	s.mu.Lock()
	s.store(ret.Job)
	s.reports[ret.Job.ID] = ret.Report
	s.mu.Unlock()

	evt := progress.ForJob(s.cfg.RunID, progress.TypeJobCompleted, ret.Job)
	if ret.Report.Data != nil {
		score := ret.Report.Data.Score
		evt.Score = &score
	}
	s.logger.Info("job completed",
		zap.String("job_id", ret.Job.ID),
		zap.String("url", ret.Job.Route.URL),
		zap.Duration("duration", ret.Job.Duration()),
	)
	s.emit(evt)
}

func (s *Scheduler) fail(job audit.Job, note string) {
	s.mu.Lock()
	s.store(job)
	attempts := s.retries[job.ID]
	s.mu.Unlock()

	s.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("url", job.Route.URL), zap.Int("retries", attempts))
	evt := progress.ForJob(s.cfg.RunID, progress.TypeJobFailed, job)
	evt.Attempt = attempts
	evt.Note = note
	s.emit(evt)
}

func (s *Scheduler) retry(ret audit.JobReturn) {
	job := ret.Job
	s.mu.Lock()
	attempts := s.retries[job.ID]
	if attempts >= s.cfg.MaxRetries || s.closed {
		s.mu.Unlock()
		s.pool.RecordFailure()
		s.fail(s.finalize(job, audit.StatusFailed), fmt.Sprintf("retries exhausted after %d attempts", attempts))
		return
	}
	attempts++
	s.retries[job.ID] = attempts
	delete(s.jobs, job.ID)
	s.timers[job.ID] = pendingRetry{
		job:   job,
		timer: time.AfterFunc(s.cfg.RetryDelay, func() { s.requeue(job) }),
	}
	s.mu.Unlock()

	s.logger.Info("requeueing job",
		zap.String("job_id", job.ID),
		zap.String("url", job.Route.URL),
		zap.Int("attempt", attempts),
		zap.Int("max_retries", s.cfg.MaxRetries),
	)
	s.cleanArtifacts(job.Route)
	evt := progress.ForJob(s.cfg.RunID, progress.TypeJobRetry, job)
	evt.Attempt = attempts
	s.emit(evt)
}

func (s *Scheduler) requeue(job audit.Job) {
	s.mu.Lock()
	delete(s.timers, job.ID)
	if s.closed {
		s.store(s.finalize(job, audit.StatusFailed))
		s.mu.Unlock()
		s.pool.RecordFailure()
		s.checkIdle()
		return
	}
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		s.checkIdle()
		return
	}
	job.Status = audit.StatusPending
	job.ExecutedAt = nil
	job.FinishedAt = nil
	j := job
	s.jobs[job.ID] = &j
	s.mu.Unlock()
	s.submit(job)
}

// cleanArtifacts removes every known artifact of r, best-effort.
func (s *Scheduler) cleanArtifacts(r route.Route) {
	if s.artifacts == nil {
		return
	}
	key := audit.ArtifactKey(r)
	for _, name := range audit.KnownArtifacts {
		if err := s.artifacts.Remove(s.ctx, path.Join(key, name)); err != nil {
			s.logger.Debug("remove artifact", zap.String("artifact", path.Join(key, name)), zap.Error(err))
		}
	}
}

func (s *Scheduler) finalize(job audit.Job, status audit.Status) audit.Job {
	job.Status = status
	if job.FinishedAt == nil {
		now := s.now()
		job.FinishedAt = &now
	}
	return job
}

// store writes job into the registry; callers hold mu.
func (s *Scheduler) store(job audit.Job) {
	j := job
	s.jobs[job.ID] = &j
}

func (s *Scheduler) emit(evt progress.Event) {
	s.emitter.Emit(evt)
}
