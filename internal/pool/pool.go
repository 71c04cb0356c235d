// Package pool bounds how many isolated browser surfaces run audits at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

// ErrClosed is returned by Execute once the pool has been closed.
var ErrClosed = errors.New("pool closed")

// Defaults applied by New.
const (
	DefaultTaskTimeout    = 15 * time.Minute
	DefaultLaunchInterval = 500 * time.Millisecond
)

// Surface is the exclusive browser a task drives.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	// Port is the remote debugging port the audit engine attaches to.
	Port() int
	URL() string
}

// Launcher starts a fresh surface. The returned release func tears it down.
type Launcher interface {
	Launch(ctx context.Context) (Surface, func(), error)
}

// Runner performs one job on a surface.
type Runner func(ctx context.Context, surface Surface) (audit.JobReturn, error)

// Config controls pool sizing and pacing.
type Config struct {
	MaxConcurrency int
	TaskTimeout    time.Duration
	// LaunchInterval is the minimum spacing between browser launches.
	LaunchInterval time.Duration
}

// DefaultConcurrency returns half the available cores, at least one.
func DefaultConcurrency() int {
	return max(runtime.NumCPU()/2, 1)
}

// Stats is a point-in-time snapshot of the pool counters.
type Stats struct {
	Queued       int       `json:"queued"`
	Busy         int       `json:"busy"`
	Started      int       `json:"started"`
	TotalTargets int       `json:"totalTargets"`
	ErrorCount   int       `json:"errorCount"`
	StartTime    time.Time `json:"startTime"`
	Workers      int       `json:"workers"`
}

// Pool runs tasks with bounded concurrency, one surface per task.
type Pool struct {
	cfg      Config
	launcher Launcher
	logger   *zap.Logger
	slots    chan struct{}
	launches *rate.Limiter
	start    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool

	queued  atomic.Int64
	busy    atomic.Int64
	started atomic.Int64
	total   atomic.Int64
	errors  atomic.Int64
	workers atomic.Int64
}

// New validates cfg and constructs a pool.
func New(cfg Config, launcher Launcher, logger *zap.Logger) (*Pool, error) {
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must be >= 0")
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultConcurrency()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.LaunchInterval < 0 {
		cfg.LaunchInterval = 0
	}
	if cfg.LaunchInterval == 0 && cfg.MaxConcurrency > 1 {
		cfg.LaunchInterval = DefaultLaunchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.LaunchInterval > 0 {
		limit = rate.Every(cfg.LaunchInterval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConcurrency),
		launches: rate.NewLimiter(limit, 1),
		start:    time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Concurrency returns the configured slot count.
func (p *Pool) Concurrency() int {
	return p.cfg.MaxConcurrency
}

// Execute runs runner for job on a dedicated surface. The pool never retries;
// the returned error reports pool-level failures (closed, launch, timeout, panic).
func (p *Pool) Execute(ctx context.Context, job audit.Job, runner Runner) (ret audit.JobReturn, err error) {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return audit.JobReturn{Job: job}, ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()
	p.total.Add(1)
	p.queued.Add(1)

	// Close cancels every in-flight task through this context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.acquire(ctx); err != nil {
		p.queued.Add(-1)
		p.errors.Add(1)
		return audit.JobReturn{Job: job}, err
	}
	p.queued.Add(-1)
	p.busy.Add(1)
	p.started.Add(1)
	defer func() {
		p.busy.Add(-1)
		<-p.slots
	}()
	defer func() {
		if err != nil || ret.Job.Status == audit.StatusFailed {
			p.errors.Add(1)
		}
	}()

	if err := p.launches.Wait(ctx); err != nil {
		return audit.JobReturn{Job: job}, fmt.Errorf("wait for launch: %w", err)
	}

	taskCtx, taskCancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer taskCancel()

	surface, release, err := p.launcher.Launch(taskCtx)
	if err != nil {
		return audit.JobReturn{Job: job}, fmt.Errorf("launch browser: %w", err)
	}
	p.workers.Add(1)
	defer func() {
		release()
		p.workers.Add(-1)
	}()

	ret, err = p.run(taskCtx, job, surface, runner)
	if err == nil && taskCtx.Err() != nil {
		err = fmt.Errorf("task %s: %w", job.ID, taskCtx.Err())
	}
	return ret, err
}

func (p *Pool) run(ctx context.Context, job audit.Job, surface Surface, runner Runner) (ret audit.JobReturn, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			ret = audit.JobReturn{Job: job}
			err = fmt.Errorf("task %s panicked: %v", job.ID, r)
		}
	}()
	return runner(ctx, surface)
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		if p.closed.Load() {
			<-p.slots
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		if p.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("pool slot wait canceled: %w", ctx.Err())
	}
}

// RecordFailure counts a job that its owner finalized as failed after the
// runner returned, such as when retries run out.
func (p *Pool) RecordFailure() {
	p.errors.Add(1)
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:       int(p.queued.Load()),
		Busy:         int(p.busy.Load()),
		Started:      int(p.started.Load()),
		TotalTargets: int(p.total.Load()),
		ErrorCount:   int(p.errors.Load()),
		StartTime:    p.start,
		Workers:      int(p.workers.Load()),
	}
}

// Close cancels in-flight tasks, rejects new ones and waits for surfaces to be released.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
