package reputation

import (
	"context"

	"github.com/apiwarden/apiwarden/pkg/threat/siem"
)

// EventRecorder persists batches of threat event rows.
type EventRecorder interface {
	RecordEvents(ctx context.Context, events []ThreatEvent) error
}

// EventSink feeds detection outcomes back into the threat event store, so
// the local provider scores repeat offenders on later requests. Outcomes
// below minScore carry no reputation signal and are skipped.
type EventSink struct {
	recorder EventRecorder
	minScore float64
}

// NewEventSink builds a sink persisting events scoring at or above minScore.
// A non-positive minScore falls back to 0.3, the medium-level breakpoint.
func NewEventSink(recorder EventRecorder, minScore float64) *EventSink {
	if minScore <= 0 {
		minScore = 0.3
	}
	return &EventSink{recorder: recorder, minScore: minScore}
}

func (s *EventSink) Name() string {
	return "reputation_store"
}

func (s *EventSink) Deliver(ctx context.Context, events []siem.SecurityEvent) error {
	rows := make([]ThreatEvent, 0, len(events))
	for _, event := range events {
		if event.Score < s.minScore || event.SourceIP == "" {
			continue
		}
		rows = append(rows, ThreatEvent{
			ID:        event.EventID,
			IPAddress: event.SourceIP,
			ActorID:   event.Actor,
			Level:     event.Level,
			Score:     event.Score,
			Reasons:   StringsJSON(event.Tags),
			CreatedAt: event.Timestamp,
		})
	}
	return s.recorder.RecordEvents(ctx, rows)
}

func (s *EventSink) Close() {}
