package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/scheduler"
)

type staticSource struct {
	snap scheduler.ProgressSnapshot
}

func (s staticSource) Progress() scheduler.ProgressSnapshot { return s.snap }

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{
		-5:        "0s",
		0:         "0s",
		59_999:    "59s",
		61_000:    "1m 1s",
		3_600_000: "60m 0s",
		3_660_000: "1h 1m",
		7_500_000: "2h 5m",
	}
	for ms, want := range cases {
		require.Equal(t, want, FormatDuration(ms), "ms=%d", ms)
	}
}

func TestFormatScore(t *testing.T) {
	t.Parallel()

	score := 0.876
	require.Equal(t, "88/100", FormatScore(&score))
	require.Equal(t, "calculating...", FormatScore(nil))
}

func TestTruncateLabel(t *testing.T) {
	t.Parallel()

	short := "Audit Job - example.com - /"
	require.Equal(t, short, TruncateLabel(short))

	long := "Audit Job - example.com - /" + strings.Repeat("a", 80)
	got := TruncateLabel(long)
	require.Equal(t, 60, runewidth.StringWidth(got))
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, long[:57], strings.TrimSuffix(got, "..."))

	wide := strings.Repeat("界", 40)
	require.LessOrEqual(t, runewidth.StringWidth(TruncateLabel(wide)), 60)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	score := 0.9
	remaining := int64(90_000)
	msg := Message(scheduler.ProgressSnapshot{
		CurrentJobLabel: "Audit Job - example.com - /about",
		CompletedJobs:   1,
		TotalJobs:       4,
		AverageScore:    &score,
		ElapsedMillis:   12_000,
		RemainingMillis: &remaining,
	})
	require.Equal(t, "25% (1/4) • Score: 90/100 • 12s • ETA: 1m 30s • Audit Job - example.com - /about", msg)

	require.Equal(t, "0% (0/0) • 0s", Message(scheduler.ProgressSnapshot{}))
}

func TestBoxPadsToWidth(t *testing.T) {
	t.Parallel()

	box := Box("Scanning", []string{strings.Repeat("x", 50)}, 30)
	lines := strings.Split(strings.TrimSuffix(box, "\n"), "\n")
	for _, line := range lines {
		require.Equal(t, 30, runewidth.StringWidth(line), "line %q", line)
	}
	// top, title, blank, two wrapped lines, bottom
	require.Len(t, lines, 6)
}

func TestRendererSkipsNonInteractive(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := New(&out, staticSource{})
	require.False(t, r.Interactive())
	require.NoError(t, r.Consume(context.Background(), []progress.Event{{Type: progress.TypeJobAdded}}))
	require.Zero(t, out.Len())
}

func TestRendererRedrawsInPlace(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := New(&out, staticSource{snap: scheduler.ProgressSnapshot{CompletedJobs: 1, TotalJobs: 2}}, WithWidth(40))
	require.True(t, r.Interactive())

	evt := progress.Event{RunID: uuid.New(), Type: progress.TypeJobCompleted, TS: time.Now(), JobID: "a"}
	require.NoError(t, r.Consume(context.Background(), []progress.Event{evt}))
	first := out.String()
	require.Contains(t, first, "Scanning")
	require.Contains(t, first, "50% (1/2)")
	require.NotContains(t, first, "\x1b[")

	out.Reset()
	finished := progress.Event{RunID: evt.RunID, Type: progress.TypeWorkerFinished, TS: time.Now()}
	require.NoError(t, r.Consume(context.Background(), []progress.Event{finished}))
	require.True(t, strings.HasPrefix(out.String(), "\x1b["))
	require.Contains(t, out.String(), "Scan completed!")

	out.Reset()
	require.NoError(t, r.Consume(context.Background(), []progress.Event{evt}))
	require.Zero(t, out.Len())
	require.NoError(t, r.Close(context.Background()))
}
