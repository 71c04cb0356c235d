package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/publisher/memory"
)

func TestPublishSinkForwardsEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New(0)
	sink := NewPublishSink(pub, nil)
	runID := uuid.New()
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, Type: progress.TypeJobAdded, TS: now, JobID: "a"},
		{RunID: runID, Type: progress.TypeWorkerFinished, TS: now},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "job-added", msgs[0].Kind)
	require.Equal(t, "worker-finished", msgs[1].Kind)
	evt, ok := msgs[0].Payload.(progress.Event)
	require.True(t, ok)
	require.Equal(t, "a", evt.JobID)
}

func TestPublishSinkStopsOnError(t *testing.T) {
	t.Parallel()

	pub := &closingPublisher{err: errors.New("unavailable")}
	sink := NewPublishSink(pub, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: uuid.New(), Type: progress.TypeJobAdded, TS: time.Now(), JobID: "a"},
		{RunID: uuid.New(), Type: progress.TypeJobAdded, TS: time.Now(), JobID: "b"},
	})
	require.ErrorContains(t, err, "publish job-added")
	require.Equal(t, 1, pub.calls)

	require.NoError(t, sink.Close(context.Background()))
	require.True(t, pub.closed)
}

type closingPublisher struct {
	err    error
	calls  int
	closed bool
}

func (p *closingPublisher) Publish(context.Context, string, any) (string, error) {
	p.calls++
	return "", p.err
}

func (p *closingPublisher) Close() error {
	p.closed = true
	return nil
}
