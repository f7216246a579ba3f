package threat

import (
	"fmt"
	"time"
)

// ActionType enumerates the defensive actions the response engine can ask
// the caller to apply. Enforcement happens at the caller, never here.
type ActionType string

const (
	ActionNone     ActionType = "none"
	ActionLogOnly  ActionType = "log_only"
	ActionThrottle ActionType = "throttle"
	ActionBlock    ActionType = "block"
	ActionNotify   ActionType = "notify"
)

// Action is one defensive measure. Only the fields relevant to the type are
// set: ThrottleFactor for throttle, BlockDuration for block, NotifyChannel
// for notify.
type Action struct {
	Type           ActionType    `json:"type"`
	ThrottleFactor float64       `json:"throttle_factor,omitempty"`
	BlockDuration  time.Duration `json:"block_duration,omitempty"`
	NotifyChannel  string        `json:"notify_channel,omitempty"`
}

func (a Action) String() string {
	switch a.Type {
	case ActionThrottle:
		return fmt.Sprintf("throttle(factor=%.2f)", a.ThrottleFactor)
	case ActionBlock:
		return fmt.Sprintf("block(duration=%s)", a.BlockDuration)
	case ActionNotify:
		return fmt.Sprintf("notify(channel=%s)", a.NotifyChannel)
	default:
		return string(a.Type)
	}
}

// Responder maps a combined score to the defensive actions to take. Calling
// it twice with identical inputs must yield identical output.
type Responder interface {
	Respond(req RequestContext, score Score) []Action
}

// EventDispatcher receives the outcome of an analysis for best-effort
// delivery to external security tooling. Enqueue must never block the
// request path.
type EventDispatcher interface {
	Enqueue(req RequestContext, overall Score, actions []Action)
}
