package siem

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

func sampleEvent() SecurityEvent {
	req := threat.NewRequestContext("203.0.113.5", "/api/login", "POST").
		WithAPIKeyID("key-1")
	score := threat.NewScore("combined", 0.72, 0.9).
		WithReason("request rate anomaly")
	return NewSecurityEvent(req, score, []threat.Action{{Type: threat.ActionThrottle, ThrottleFactor: 0.9}})
}

func TestFilterMatches(t *testing.T) {
	event := sampleEvent()

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equals severity", Filter{Field: "severity", Operator: OpEquals, Value: "high"}, true},
		{"equals mismatch", Filter{Field: "severity", Operator: OpEquals, Value: "low"}, false},
		{"not equals", Filter{Field: "method", Operator: OpNotEquals, Value: "GET"}, true},
		{"contains target", Filter{Field: "target", Operator: OpContains, Value: "login"}, true},
		{"not contains", Filter{Field: "target", Operator: OpNotContains, Value: "admin"}, true},
		{"score greater than", Filter{Field: "score", Operator: OpGreaterThan, Value: "0.6"}, true},
		{"score less than", Filter{Field: "score", Operator: OpLessThan, Value: "0.6"}, false},
		{"severity rank greater", Filter{Field: "severity", Operator: OpGreaterThan, Value: "2"}, true},
		{"unknown field", Filter{Field: "nonexistent", Operator: OpEquals, Value: "x"}, false},
		{"unknown operator", Filter{Field: "severity", Operator: "regex", Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(event))
		})
	}
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, Filter{Field: "severity", Operator: OpEquals, Value: "high"}.validate())
	assert.NoError(t, Filter{Field: "score", Operator: OpGreaterThan, Value: "0.5"}.validate())

	assert.Error(t, Filter{Operator: OpEquals, Value: "x"}.validate())
	assert.Error(t, Filter{Field: "score", Operator: "between", Value: "1"}.validate())
	assert.Error(t, Filter{Field: "score", Operator: OpLessThan, Value: "abc"}.validate())
}

func TestMatchesAllIsConjunction(t *testing.T) {
	event := sampleEvent()

	assert.True(t, matchesAll(event, nil))
	assert.True(t, matchesAll(event, []Filter{
		{Field: "severity", Operator: OpEquals, Value: "high"},
		{Field: "score", Operator: OpGreaterThan, Value: "0.5"},
	}))
	assert.False(t, matchesAll(event, []Filter{
		{Field: "severity", Operator: OpEquals, Value: "high"},
		{Field: "score", Operator: OpLessThan, Value: "0.5"},
	}))
}

func TestSeverityFromLevel(t *testing.T) {
	assert.Equal(t, SeverityInfo, severityFromLevel(threat.LevelNone))
	assert.Equal(t, SeverityLow, severityFromLevel(threat.LevelLow))
	assert.Equal(t, SeverityMedium, severityFromLevel(threat.LevelMedium))
	assert.Equal(t, SeverityHigh, severityFromLevel(threat.LevelHigh))
	assert.Equal(t, SeverityCritical, severityFromLevel(threat.LevelCritical))
}

func TestNewSecurityEvent(t *testing.T) {
	event := sampleEvent()

	assert.Equal(t, "key-1", event.Actor)
	assert.Equal(t, "203.0.113.5", event.SourceIP)
	assert.Equal(t, "/api/login", event.Target)
	assert.Equal(t, "high", event.Level)
	assert.Equal(t, SeverityHigh, event.Severity)
	assert.Contains(t, event.Tags, "request rate anomaly")
	assert.Len(t, event.Actions, 1)
	assert.Contains(t, event.Actions[0], "throttle")
}
