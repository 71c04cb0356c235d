package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/monitor"
	"github.com/JakeFAU/siteaudit/internal/progress"
)

// ProgressSnapshot feeds progress observers such as the terminal box.
// AverageScore is the mean normalized score (0..1) of completed reports.
type ProgressSnapshot struct {
	CurrentJobLabel string   `json:"currentJobLabel"`
	CompletedJobs   int      `json:"completedJobs"`
	TotalJobs       int      `json:"totalJobs"`
	AverageScore    *float64 `json:"averageScore,omitempty"`
	ElapsedMillis   int64    `json:"elapsedMillis"`
	RemainingMillis *int64   `json:"remainingMillis,omitempty"`
}

// Jobs returns a copy of the registry in registration order.
func (s *Scheduler) Jobs() []audit.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Job, 0, len(s.jobs))
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out
}

// Job returns the registered job with id.
func (s *Scheduler) Job(id string) (audit.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, false
	}
	return *j, true
}

// Reports returns a copy of the stored reports keyed by job id.
func (s *Scheduler) Reports() map[string]audit.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]audit.Report, len(s.reports))
	for id, r := range s.reports {
		out[id] = r
	}
	return out
}

// Report returns the stored report of a completed job.
func (s *Scheduler) Report(id string) (audit.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

// Retries returns how many times id has been requeued.
func (s *Scheduler) Retries(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries[id]
}

// Stats returns the monitor snapshot for this run.
func (s *Scheduler) Stats() monitor.Stats {
	return s.monitor.Stats()
}

// Progress summarizes the run for observers.
func (s *Scheduler) Progress() ProgressSnapshot {
	stats := s.monitor.Stats()

	s.mu.Lock()
	snap := ProgressSnapshot{
		CurrentJobLabel: s.current,
		CompletedJobs:   stats.DoneTargets,
		TotalJobs:       stats.AllTargets,
		ElapsedMillis:   s.now().Sub(s.start).Milliseconds(),
	}
	var sum float64
	var n int
	for id, r := range s.reports {
		j, ok := s.jobs[id]
		if !ok || j.Status != audit.StatusCompleted || r.Data == nil {
			continue
		}
		sum += r.Data.Score
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		avg := sum / float64(n)
		snap.AverageScore = &avg
	}
	if stats.TimeRemaining > 0 {
		remaining := stats.TimeRemaining
		snap.RemainingMillis = &remaining
	}
	return snap
}

// Wait blocks until every tracked job is terminal or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// Close stops pending requeues, cancels in-flight jobs and tears down the pool.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	abandoned := 0
	for id, p := range s.timers {
		if p.timer.Stop() {
			delete(s.timers, id)
			s.store(s.finalize(p.job, audit.StatusFailed))
			abandoned++
		}
	}
	s.mu.Unlock()

	for range abandoned {
		s.pool.RecordFailure()
	}

	s.cancel()
	s.pool.Close()
	s.wg.Wait()
	s.checkIdle()
	s.logger.Info("scheduler closed", zap.Duration("elapsed", s.now().Sub(s.start)))
}

// markBusyLocked re-arms the idle signal; callers hold mu.
func (s *Scheduler) markBusyLocked() {
	if s.drained {
		s.idle = make(chan struct{})
		s.drained = false
	}
}

// checkIdle emits worker-finished once when the last tracked job turns terminal.
func (s *Scheduler) checkIdle() {
	s.mu.Lock()
	if s.drained || s.activeLocked() > 0 {
		s.mu.Unlock()
		return
	}
	s.drained = true
	close(s.idle)
	s.mu.Unlock()

	s.logger.Info("all jobs finished")
	s.emit(progress.Event{
		RunID: s.cfg.RunID,
		Type:  progress.TypeWorkerFinished,
		TS:    time.Now().UTC(),
	})
}

func (s *Scheduler) activeLocked() int {
	active := len(s.timers)
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			active++
		}
	}
	return active
}
