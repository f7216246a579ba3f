package reputation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
	"github.com/apiwarden/apiwarden/pkg/threat/siem"
)

type recorderSpy struct {
	rows []reputation.ThreatEvent
	err  error
}

func (r *recorderSpy) RecordEvents(_ context.Context, events []reputation.ThreatEvent) error {
	r.rows = append(r.rows, events...)
	return r.err
}

func TestEventSinkPersistsScoringEvents(t *testing.T) {
	spy := &recorderSpy{}
	sink := reputation.NewEventSink(spy, 0.5)

	id := uuid.New()
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	events := []siem.SecurityEvent{
		{
			EventID:   id,
			Timestamp: ts,
			SourceIP:  "203.0.113.7",
			Actor:     "key-1",
			Level:     "high",
			Score:     0.72,
			Tags:      []string{"velocity_spike"},
		},
		{SourceIP: "198.51.100.1", Level: "low", Score: 0.2},
		{Level: "critical", Score: 0.9},
	}

	require.NoError(t, sink.Deliver(context.Background(), events))
	require.Len(t, spy.rows, 1)

	row := spy.rows[0]
	assert.Equal(t, id, row.ID)
	assert.Equal(t, "203.0.113.7", row.IPAddress)
	assert.Equal(t, "key-1", row.ActorID)
	assert.Equal(t, "high", row.Level)
	assert.Equal(t, 0.72, row.Score)
	assert.Equal(t, reputation.StringsJSON{"velocity_spike"}, row.Reasons)
	assert.Equal(t, ts, row.CreatedAt)
}

func TestEventSinkPropagatesRecorderError(t *testing.T) {
	spy := &recorderSpy{err: errors.New("insert failed")}
	sink := reputation.NewEventSink(spy, 0)

	err := sink.Deliver(context.Background(), []siem.SecurityEvent{
		{SourceIP: "203.0.113.7", Level: "medium", Score: 0.4},
	})
	assert.Error(t, err)
}

func TestEventSinkDefaultThreshold(t *testing.T) {
	spy := &recorderSpy{}
	sink := reputation.NewEventSink(spy, 0)

	require.NoError(t, sink.Deliver(context.Background(), []siem.SecurityEvent{
		{SourceIP: "203.0.113.7", Level: "low", Score: 0.29},
		{SourceIP: "203.0.113.8", Level: "medium", Score: 0.3},
	}))
	require.Len(t, spy.rows, 1)
	assert.Equal(t, "203.0.113.8", spy.rows[0].IPAddress)
}
