package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/publisher/memory"
)

func TestPublisherSinkPublishesTerminalRecords(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublisherSink(pub, "analysis-runs", nil)
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Unix(1700000000, 0)
	score := 93

	require.NoError(t, sink.Consume(context.Background(), []progress.Record{
		{RunID: runID, Kind: progress.KindRunStart, URL: "https://x.com", TS: now},
		{RunID: runID, Kind: progress.KindStage, Stage: "domain", TS: now},
		{
			RunID:  runID,
			Kind:   progress.KindRunSuccess,
			URL:    "https://x.com",
			Score:  &score,
			Stages: 1,
			Dur:    1500 * time.Millisecond,
			TS:     now.Add(2 * time.Second),
		},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "analysis-runs", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, id.String(), note.RunID)
	require.Equal(t, "success", note.Status)
	require.Equal(t, int64(1500), note.DurationMS)
	require.Equal(t, 1, note.Stages)
	require.Equal(t, 93, *note.Score)
	require.Equal(t, "https://x.com", note.URL)
	require.NoError(t, sink.Close(context.Background()))
}

func TestPublisherSinkReportsFailures(t *testing.T) {
	t.Parallel()

	pub := &flakyPublisher{}
	sink := NewPublisherSink(pub, "topic", nil)
	now := time.Now()
	err := sink.Consume(context.Background(), []progress.Record{
		{RunID: progress.UUIDToBytes(uuid.New()), Kind: progress.KindRunError, Note: "x", TS: now},
		{RunID: progress.UUIDToBytes(uuid.New()), Kind: progress.KindRunCancel, TS: now},
	})
	require.ErrorContains(t, err, "broker down")
	require.Equal(t, 2, pub.calls, "later notifications are still attempted")
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, pub.stopped)
}

type flakyPublisher struct {
	calls   int
	stopped bool
}

func (f *flakyPublisher) Publish(context.Context, string, any) (string, error) {
	f.calls++
	if f.calls == 1 {
		return "", errors.New("broker down")
	}
	return "id", nil
}

func (f *flakyPublisher) Stop() error {
	f.stopped = true
	return nil
}
