// Package executor runs a single audit job on an isolated browser surface and
// classifies its outcome.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/engine"
	"github.com/JakeFAU/siteaudit/internal/lhr"
	"github.com/JakeFAU/siteaudit/internal/pool"
)

// Config controls sampling.
type Config struct {
	// Samples is the number of engine runs per job. Values below one mean one.
	Samples int
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

const tracerName = "github.com/JakeFAU/siteaudit/internal/executor"

// Executor turns a job into a JobReturn. It never touches scheduler state.
type Executor struct {
	engine  engine.Engine
	store   audit.ArtifactStore
	samples int
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs an executor.
func New(eng engine.Engine, store audit.ArtifactStore, cfg Config, logger *zap.Logger) (*Executor, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Executor{
		engine:  eng,
		store:   store,
		samples: max(cfg.Samples, 1),
		tracer:  tp.Tracer(tracerName),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Execute runs job on surface. Failures are reported through the job status,
// never as an error.
func (e *Executor) Execute(ctx context.Context, surface pool.Surface, job audit.Job) audit.JobReturn {
	ctx, span := e.tracer.Start(ctx, "audit.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.url", job.Route.URL),
		attribute.Int("job.samples", e.samples),
	))
	defer span.End()

	ret := e.execute(ctx, surface, job)
	span.SetAttributes(attribute.String("job.status", string(ret.Job.Status)))
	if ret.Job.Status != audit.StatusCompleted {
		span.SetStatus(codes.Error, string(ret.Job.Status))
	}
	return ret
}

func (e *Executor) execute(ctx context.Context, surface pool.Surface, job audit.Job) audit.JobReturn {
	logger := e.logger.With(zap.String("job_id", job.ID), zap.String("url", job.Route.URL))
	executed := e.now()
	job.Status = audit.StatusRunning
	job.ExecutedAt = &executed

	key := audit.ArtifactKey(job.Route)
	ret := audit.JobReturn{Report: audit.Report{ArtifactKey: key}}

	dir, err := e.store.Dir(key)
	if err != nil {
		logger.Error("prepare artifact dir", zap.Error(err))
		ret.Job = e.finish(job, audit.StatusFailed)
		return ret
	}
	ret.Report.ArtifactPath = dir

	if job.Route.SiteDomainRotation {
		if err := surface.Navigate(ctx, job.Route.SiteURL); err != nil {
			logger.Error("establish site session", zap.Error(err))
			ret.Job = e.finish(job, audit.StatusFailed)
			return ret
		}
	}

	samples := make([]*lhr.Result, 0, e.samples)
	for i := 0; i < e.samples; i++ {
		result, err := e.engine.Run(ctx, engine.Invocation{
			URL:       job.Route.URL,
			Port:      surface.Port(),
			OutputDir: dir,
		})
		if err != nil {
			logger.Error("audit sample failed", zap.Int("sample", i), zap.Error(err))
			ret.Job = e.finish(job, audit.StatusFailed)
			return ret
		}
		samples = append(samples, result)
	}

	if len(samples) == 0 {
		logger.Error("no audit samples collected")
		ret.Job = e.finish(job, audit.StatusFailed)
		return ret
	}
	result := samples[0]
	if result.PerformanceUnscored() {
		logger.Warn("performance audit produced no score, retrying", zap.String("path", job.Route.Path))
		ret.Job = e.finish(job, audit.StatusFailedRetry)
		return ret
	}
	if len(samples) > 1 {
		median, err := lhr.MedianRun(samples)
		if err != nil {
			logger.Warn("compute median run, using first sample", zap.Error(err))
		} else {
			result = median
		}
	}

	e.writeArtifacts(ctx, logger, key, result)
	ret.Report.Data = Normalize(key, result)
	ret.Job = e.finish(job, audit.StatusCompleted)
	return ret
}

// Runner adapts Execute to the pool's runner signature for job.
func (e *Executor) Runner(job audit.Job) pool.Runner {
	return func(ctx context.Context, surface pool.Surface) (audit.JobReturn, error) {
		return e.Execute(ctx, surface, job), nil
	}
}

func (e *Executor) finish(job audit.Job, status audit.Status) audit.Job {
	finished := e.now()
	job.Status = status
	job.FinishedAt = &finished
	return job
}
