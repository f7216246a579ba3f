package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

func TestRequestHistoryCapsWindow(t *testing.T) {
	h := newRequestHistory(3, time.Minute)
	now := time.Now()

	for i := 0; i < 5; i++ {
		h.record("actor", threat.PreviousRequest{Timestamp: now, Endpoint: "/a", StatusCode: 200})
	}
	assert.Len(t, h.snapshot("actor"), 3)
	assert.Nil(t, h.snapshot("other"))
}

func TestRequestHistoryPrunesStaleEntries(t *testing.T) {
	h := newRequestHistory(10, time.Minute)
	now := time.Now()

	h.record("actor", threat.PreviousRequest{Timestamp: now.Add(-2 * time.Minute), Endpoint: "/old"})
	h.record("actor", threat.PreviousRequest{Timestamp: now, Endpoint: "/new"})

	window := h.snapshot("actor")
	assert.Len(t, window, 1)
	assert.Equal(t, "/new", window[0].Endpoint)

	h2 := newRequestHistory(10, time.Minute)
	h2.record("stale", threat.PreviousRequest{Timestamp: now.Add(-2 * time.Minute)})
	assert.Nil(t, h2.snapshot("stale"))
}

func TestRequestHistorySnapshotIsACopy(t *testing.T) {
	h := newRequestHistory(10, time.Minute)
	h.record("actor", threat.PreviousRequest{Timestamp: time.Now(), Endpoint: "/a"})

	window := h.snapshot("actor")
	window[0].Endpoint = "/mutated"

	assert.Equal(t, "/a", h.snapshot("actor")[0].Endpoint)
}
