package siem

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func severityFromLevel(level threat.Level) Severity {
	switch level {
	case threat.LevelLow:
		return SeverityLow
	case threat.LevelMedium:
		return SeverityMedium
	case threat.LevelHigh:
		return SeverityHigh
	case threat.LevelCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// SecurityEvent is the normalized record shipped to SIEM sinks: one
// analysis outcome flattened for external consumption.
type SecurityEvent struct {
	EventID       uuid.UUID              `json:"event_id"`
	CorrelationID uuid.UUID              `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Severity      Severity               `json:"severity"`
	Actor         string                 `json:"actor"`
	SourceIP      string                 `json:"source_ip"`
	Target        string                 `json:"target"`
	Method        string                 `json:"method"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	Level         string                 `json:"level"`
	Score         float64                `json:"score"`
	Confidence    float64                `json:"confidence"`
	Actions       []string               `json:"actions,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
}

// NewSecurityEvent flattens one analysis outcome into a SIEM event. Score
// reasons become tags and score metadata the raw payload.
func NewSecurityEvent(req threat.RequestContext, overall threat.Score, actions []threat.Action) SecurityEvent {
	actionNames := make([]string, 0, len(actions))
	for _, action := range actions {
		actionNames = append(actionNames, action.String())
	}

	return SecurityEvent{
		EventID:       uuid.New(),
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Severity:      severityFromLevel(overall.Level),
		Actor:         req.ActorID(),
		SourceIP:      req.IPAddress,
		Target:        req.Endpoint,
		Method:        req.Method,
		UserAgent:     req.UserAgent,
		TenantID:      req.TenantID,
		Level:         overall.Level.String(),
		Score:         overall.Score,
		Confidence:    overall.Confidence,
		Actions:       actionNames,
		Tags:          overall.Reasons,
		Raw:           overall.Metadata,
	}
}

// fieldString resolves a filterable field to its string form.
func (e SecurityEvent) fieldString(field string) (string, bool) {
	switch field {
	case "severity":
		return string(e.Severity), true
	case "level":
		return e.Level, true
	case "actor":
		return e.Actor, true
	case "source_ip":
		return e.SourceIP, true
	case "target":
		return e.Target, true
	case "method":
		return e.Method, true
	case "tenant_id":
		return e.TenantID, true
	case "score":
		return strconv.FormatFloat(e.Score, 'f', -1, 64), true
	case "confidence":
		return strconv.FormatFloat(e.Confidence, 'f', -1, 64), true
	default:
		return "", false
	}
}

// fieldNumber resolves a filterable field to a number where that makes
// sense.
func (e SecurityEvent) fieldNumber(field string) (float64, bool) {
	switch field {
	case "score":
		return e.Score, true
	case "confidence":
		return e.Confidence, true
	case "severity":
		return severityRank(e.Severity), true
	default:
		return 0, false
	}
}

func severityRank(s Severity) float64 {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (e SecurityEvent) String() string {
	return fmt.Sprintf("%s %s actor=%s target=%s score=%.2f", e.Severity, e.EventID, e.Actor, e.Target, e.Score)
}
