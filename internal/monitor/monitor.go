// Package monitor derives run statistics and a remaining-time estimate from
// the job registry and the pool counters. It never mutates either.
package monitor

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/pool"
)

// DefaultJobDuration is assumed per remaining job until one has completed.
const DefaultJobDuration = 15 * time.Second

// Run status values.
const (
	StatusWorking   = "working"
	StatusCompleted = "completed"
)

// JobSource lists the jobs currently tracked by the scheduler.
type JobSource interface {
	Jobs() []audit.Job
}

// StatsSource exposes the pool counters and host usage.
type StatsSource interface {
	Stats() pool.Stats
	SystemUsage() (cpu float64, mem float64)
}

// Stats is a derived snapshot; it is never stored.
type Stats struct {
	Status         string `json:"status"`
	TimeRunning    int64  `json:"timeRunning"`
	DoneTargets    int    `json:"doneTargets"`
	AllTargets     int    `json:"allTargets"`
	DonePercStr    string `json:"donePercStr"`
	ErrorPerc      string `json:"errorPerc"`
	TimeRemaining  int64  `json:"timeRemaining"`
	PagesPerSecond string `json:"pagesPerSecond"`
	CPUUsage       string `json:"cpuUsage"`
	MemoryUsage    string `json:"memoryUsage"`
	Workers        int    `json:"workers"`
}

// Monitor computes Stats on demand.
type Monitor struct {
	jobs JobSource
	pool StatsSource
	now  func() time.Time
}

// New builds a monitor. A nil now defaults to time.Now.
func New(jobs JobSource, p StatsSource, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{jobs: jobs, pool: p, now: now}
}

// Stats computes the current snapshot.
func (m *Monitor) Stats() Stats {
	ps := m.pool.Stats()
	elapsed := m.now().Sub(ps.StartTime).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	done := ps.TotalTargets - ps.Queued - ps.Busy
	if done < 0 {
		done = 0
	}
	pct := DonePercentage(done, ps.TotalTargets)

	errorPerc := "0.00"
	if done > 0 {
		errorPerc = strconv.FormatFloat(100*float64(ps.ErrorCount)/float64(done), 'f', 2, 64)
	}
	pagesPerSecond := "0"
	if done > 0 && elapsed > 0 {
		pagesPerSecond = strconv.FormatFloat(float64(done)*1000/float64(elapsed), 'f', 2, 64)
	}

	status := StatusWorking
	if done == ps.TotalTargets {
		status = StatusCompleted
	}

	cpu, mem := m.pool.SystemUsage()
	return Stats{
		Status:         status,
		TimeRunning:    elapsed,
		DoneTargets:    done,
		AllTargets:     ps.TotalTargets,
		DonePercStr:    strconv.FormatFloat(100*pct, 'f', 0, 64),
		ErrorPerc:      errorPerc,
		TimeRemaining:  m.remaining(pct, elapsed),
		PagesPerSecond: pagesPerSecond,
		CPUUsage:       fmt.Sprintf("%.1f%%", cpu),
		MemoryUsage:    fmt.Sprintf("%.1f%%", mem),
		Workers:        ps.Workers,
	}
}

// DonePercentage returns done/all clamped to [0,1], or 1 when there are no targets.
func DonePercentage(done, all int) float64 {
	if all == 0 {
		return 1
	}
	return math.Min(math.Max(float64(done)/float64(all), 0), 1)
}

// remaining estimates milliseconds left, or -1 when nothing is done yet.
func (m *Monitor) remaining(pct float64, elapsed int64) int64 {
	if pct == 0 {
		return -1
	}
	var (
		total     time.Duration
		samples   int
		remaining int
	)
	for _, job := range m.jobs.Jobs() {
		switch job.Status {
		case audit.StatusCompleted:
			if d := job.Duration(); d > 0 {
				total += d
				samples++
			}
		case audit.StatusPending, audit.StatusRunning:
			remaining++
		}
	}
	if remaining == 0 {
		return int64(math.Round(float64(elapsed)/pct - float64(elapsed)))
	}
	avg := float64(DefaultJobDuration.Milliseconds())
	if samples > 0 {
		avg = float64(total.Milliseconds()) / float64(samples)
	}
	return int64(math.Round(float64(remaining) * avg))
}
