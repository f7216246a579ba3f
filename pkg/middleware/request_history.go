package middleware

import (
	"sync"
	"time"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

const (
	historyMaxEntries = 100
	historyHorizon    = 15 * time.Minute
)

// requestHistory keeps a bounded per-actor window of recent requests in
// process memory. Snapshots of it ride into the analysis context, so rate
// signals see the short-term request stream rather than only the long-term
// profile baseline.
type requestHistory struct {
	mu        sync.Mutex
	windows   map[string][]threat.PreviousRequest
	maxLen    int
	horizon   time.Duration
	lastSweep time.Time
}

func newRequestHistory(maxLen int, horizon time.Duration) *requestHistory {
	if maxLen <= 0 {
		maxLen = historyMaxEntries
	}
	if horizon <= 0 {
		horizon = historyHorizon
	}
	return &requestHistory{
		windows:   make(map[string][]threat.PreviousRequest),
		maxLen:    maxLen,
		horizon:   horizon,
		lastSweep: time.Now(),
	}
}

// snapshot returns a copy of the actor's window with entries older than the
// horizon pruned.
func (h *requestHistory) snapshot(actorID string) []threat.PreviousRequest {
	cutoff := time.Now().Add(-h.horizon)

	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.windows[actorID]
	start := 0
	for start < len(window) && window[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		window = window[start:]
		if len(window) == 0 {
			delete(h.windows, actorID)
		} else {
			h.windows[actorID] = window
		}
	}
	if len(window) == 0 {
		return nil
	}

	out := make([]threat.PreviousRequest, len(window))
	copy(out, window)
	return out
}

// record appends one finished request to the actor's window, trimming to
// the entry cap. Idle actors are swept at most once per horizon.
func (h *requestHistory) record(actorID string, entry threat.PreviousRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.windows[actorID], entry)
	if overflow := len(window) - h.maxLen; overflow > 0 {
		window = window[overflow:]
	}
	h.windows[actorID] = window

	if now := time.Now(); now.Sub(h.lastSweep) > h.horizon {
		cutoff := now.Add(-h.horizon)
		for actor, w := range h.windows {
			if w[len(w)-1].Timestamp.Before(cutoff) {
				delete(h.windows, actor)
			}
		}
		h.lastSweep = now
	}
}
