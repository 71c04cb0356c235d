package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/route"
)

func TestForJob(t *testing.T) {
	t.Parallel()

	r, err := route.New("https://a.test", false, "/docs?page=2")
	require.NoError(t, err)
	job := audit.NewJob(r, time.Unix(10, 0))
	finished := time.Unix(25, 0)
	job.Status = audit.StatusCompleted
	job.FinishedAt = &finished

	run := uuid.New()
	evt := ForJob(run, TypeJobCompleted, job)
	require.NoError(t, evt.Validate())
	require.Equal(t, run, evt.RunID)
	require.Equal(t, job.ID, evt.JobID)
	require.Equal(t, "/docs?page=2", evt.Path)
	require.Equal(t, "https://a.test/docs?page=2", evt.URL)
	require.Equal(t, audit.StatusCompleted, evt.Status)
	require.Equal(t, 15*time.Second, evt.Dur)
	require.True(t, evt.Terminal())
	require.False(t, ForJob(run, TypeJobRetry, job).Terminal())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := Event{RunID: uuid.New(), TS: time.Now(), Type: TypeJobAdded, JobID: "abc"}
	require.NoError(t, base.Validate())

	cases := map[string]func(e *Event){
		"missing run":  func(e *Event) { e.RunID = uuid.Nil },
		"missing ts":   func(e *Event) { e.TS = time.Time{} },
		"missing job":  func(e *Event) { e.JobID = "" },
		"unknown type": func(e *Event) { e.Type = "job-exploded" },
		"negative dur": func(e *Event) { e.Dur = -time.Second },
	}
	for name, mutate := range cases {
		evt := base
		mutate(&evt)
		require.Error(t, evt.Validate(), name)
	}

	finished := Event{RunID: uuid.New(), TS: time.Now(), Type: TypeWorkerFinished}
	require.NoError(t, finished.Validate())
}
