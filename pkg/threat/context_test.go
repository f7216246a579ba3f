package threat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

func TestActorIDPrefersAPIKey(t *testing.T) {
	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET")
	assert.Equal(t, "10.0.0.1", req.ActorID())

	keyed := req.WithAPIKeyID("key-7")
	assert.Equal(t, "key-7", keyed.ActorID())
}

func TestWithHeaderLowercasesAndCopies(t *testing.T) {
	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithHeader("Accept", "application/json")
	derived := req.WithHeader("X-Custom", "v")

	assert.Equal(t, "application/json", req.Headers["accept"])
	_, ok := req.Headers["x-custom"]
	assert.False(t, ok, "builder must not mutate the original")
	assert.Equal(t, "v", derived.Headers["x-custom"])
}

func TestRequestFrequency(t *testing.T) {
	now := time.Now()
	history := []threat.PreviousRequest{
		{Timestamp: now.Add(-30 * time.Second)},
		{Timestamp: now.Add(-90 * time.Second)},
		{Timestamp: now.Add(-10 * time.Minute)},
	}
	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithPreviousRequests(history)

	assert.InDelta(t, 1.0, req.RequestFrequency(1), 0.001)
	assert.InDelta(t, 0.4, req.RequestFrequency(5), 0.001)
	assert.Zero(t, req.RequestFrequency(0))
}

func TestAppearsAutomated(t *testing.T) {
	base := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithHeader("Accept", "*/*").
		WithHeader("Accept-Language", "en").
		WithHeader("Accept-Encoding", "gzip")

	assert.True(t, base.WithUserAgent("curl/8.4.0").AppearsAutomated())
	assert.True(t, base.WithUserAgent("python-requests/2.31").AppearsAutomated())
	assert.False(t, base.WithUserAgent("Mozilla/5.0 (X11; Linux x86_64)").AppearsAutomated())

	// A client missing the headers browsers always send looks scripted.
	bare := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent("Mozilla/5.0 (X11; Linux x86_64)")
	assert.True(t, bare.AppearsAutomated())
}
