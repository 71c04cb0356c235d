package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/siteaudit/internal/progress"
)

// PrometheusSink exports audit progress metrics via Prometheus. It owns the
// collectors for queued, started, finished and retried jobs plus score and runtime.
type PrometheusSink struct {
	jobsAdded    prometheus.Counter
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsRetried  prometheus.Counter
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec
	jobScore     prometheus.Histogram
	runsFinished prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_jobs_added_total",
			Help: "Total jobs registered by the scheduler.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_jobs_started_total",
			Help: "Total job executions that acquired a browser.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteaudit_jobs_finished_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_jobs_retried_total",
			Help: "Total requeues after a transient audit failure.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siteaudit_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteaudit_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		jobScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siteaudit_job_score",
			Help:    "Normalized report score of completed jobs.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		runsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteaudit_runs_finished_total",
			Help: "Times the scheduler drained every tracked job.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsAdded,
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRetried,
		s.jobsRunning,
		s.jobRuntime,
		s.jobScore,
		s.runsFinished,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypeJobAdded:
		s.jobsAdded.Inc()
	case progress.TypeJobStarted:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.TypeJobCompleted:
		s.jobsFinished.WithLabelValues("completed").Inc()
		s.observeRuntime(evt, "completed")
		if evt.Score != nil {
			s.jobScore.Observe(*evt.Score)
		}
	case progress.TypeJobFailed:
		s.jobsFinished.WithLabelValues("failed").Inc()
		s.observeRuntime(evt, "failed")
	case progress.TypeJobRetry:
		s.jobsRetried.Inc()
	case progress.TypeWorkerFinished:
		s.runsFinished.Inc()
	}
	switch evt.Type {
	case progress.TypeJobCompleted, progress.TypeJobFailed, progress.TypeJobRetry:
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
