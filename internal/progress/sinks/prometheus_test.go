package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	run := uuid.New()
	score := 0.92
	now := time.Now()
	batch := []progress.Event{
		{RunID: run, TS: now, Type: progress.TypeJobAdded, JobID: "a"},
		{RunID: run, TS: now, Type: progress.TypeJobAdded, JobID: "b"},
		{RunID: run, TS: now, Type: progress.TypeJobStarted, JobID: "a"},
		{RunID: run, TS: now, Type: progress.TypeJobStarted, JobID: "b"},
		{RunID: run, TS: now, Type: progress.TypeJobRetry, JobID: "b", Attempt: 1},
		{RunID: run, TS: now, Type: progress.TypeJobStarted, JobID: "b"},
		{RunID: run, TS: now, Type: progress.TypeJobCompleted, JobID: "a", Score: &score, Dur: 40 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsAdded))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRetried))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("completed")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobScore, "siteaudit_job_score"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: run, TS: now, Type: progress.TypeJobFailed, JobID: "b", Dur: time.Minute},
		{RunID: run, TS: now, Type: progress.TypeWorkerFinished},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished))
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobRuntime, "siteaudit_job_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
