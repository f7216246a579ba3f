package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/common"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/middleware"
	"github.com/apiwarden/apiwarden/pkg/threat"
	"github.com/apiwarden/apiwarden/pkg/threat/behavior"
)

type captureAnalyzer struct {
	mu         sync.Mutex
	last       threat.RequestContext
	score      float64
	confidence float64
}

func (a *captureAnalyzer) Analyze(ctx context.Context, req threat.RequestContext) (threat.Score, error) {
	a.mu.Lock()
	a.last = req
	a.mu.Unlock()
	return threat.NewScore(a.ID(), a.score, a.confidence), nil
}

func (a *captureAnalyzer) ID() string                                         { return "capture" }
func (a *captureAnalyzer) Name() string                                       { return "capture" }
func (a *captureAnalyzer) Enabled() bool                                      { return true }
func (a *captureAnalyzer) UpdateConfig(settings map[string]interface{}) error { return nil }

type staticResponder struct {
	actions []threat.Action
}

func (r *staticResponder) Respond(req threat.RequestContext, score threat.Score) []threat.Action {
	return r.actions
}

type outcomeSpy struct {
	mu    sync.Mutex
	calls int
	last  int
}

func (s *outcomeSpy) RecordOutcome(ctx context.Context, actorID string, statusCode int, responseTimeMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = statusCode
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newThreatApp(t *testing.T, analyzer threat.Analyzer, responder threat.Responder, outcomes middleware.OutcomeRecorder, random func() float64) *fiber.App {
	t.Helper()
	detector := threat.NewDetector([]threat.Analyzer{analyzer}, responder, nil, quietLogger(), prometheus.NewMetrics())

	var opts *middleware.ThreatOpts
	if random != nil {
		opts = &middleware.ThreatOpts{Random: random}
	}
	mw := middleware.NewThreatMiddleware(quietLogger(), detector, outcomes, false, opts)

	app := fiber.New()
	app.Use(mw.Middleware())
	app.Get("/api/data", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	return app
}

func TestThreatMiddleware_CleanRequestPasses(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.1, confidence: 0.9}
	app := newThreatApp(t, analyzer, &staticResponder{}, nil, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestThreatMiddleware_BlockAction(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.95, confidence: 0.95}
	responder := &staticResponder{actions: []threat.Action{
		{Type: threat.ActionBlock, BlockDuration: time.Hour},
		{Type: threat.ActionNotify, NotifyChannel: "security"},
	}}
	app := newThreatApp(t, analyzer, responder, nil, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "3600", resp.Header.Get("Retry-After"))
}

func TestThreatMiddleware_ThrottleAction(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.7, confidence: 0.9}
	responder := &staticResponder{actions: []threat.Action{
		{Type: threat.ActionThrottle, ThrottleFactor: 0.9},
	}}

	rejected := newThreatApp(t, analyzer, responder, nil, func() float64 { return 0.5 })
	resp, err := rejected.Test(httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	passed := newThreatApp(t, analyzer, responder, nil, func() float64 { return 0.95 })
	resp, err = passed.Test(httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestThreatMiddleware_RecordsOutcome(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.1, confidence: 0.9}
	spy := &outcomeSpy{}
	app := newThreatApp(t, analyzer, &staticResponder{}, spy, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	deadline := time.Now().Add(2 * time.Second)
	for {
		spy.mu.Lock()
		calls, last := spy.calls, spy.last
		spy.mu.Unlock()
		if calls > 0 {
			assert.Equal(t, fiber.StatusOK, last)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("outcome was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestThreatMiddleware_ClientIPPrecedence(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.1, confidence: 0.9}
	app := newThreatApp(t, analyzer, &staticResponder{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	_, err := app.Test(req)
	require.NoError(t, err)

	analyzer.mu.Lock()
	assert.Equal(t, "203.0.113.7", analyzer.last.IPAddress)
	analyzer.mu.Unlock()

	req = httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-Real-IP", "198.51.100.2")
	_, err = app.Test(req)
	require.NoError(t, err)

	analyzer.mu.Lock()
	assert.Equal(t, "198.51.100.2", analyzer.last.IPAddress)
	analyzer.mu.Unlock()
}

func TestThreatMiddleware_CarriesRequestHistory(t *testing.T) {
	analyzer := &captureAnalyzer{score: 0.1, confidence: 0.9}
	app := newThreatApp(t, analyzer, &staticResponder{}, nil, nil)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.Header.Set("X-Real-IP", "198.51.100.9")
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	analyzer.mu.Lock()
	defer analyzer.mu.Unlock()
	require.Len(t, analyzer.last.PreviousRequests, 2)
	assert.Equal(t, "/api/data", analyzer.last.PreviousRequests[0].Endpoint)
	assert.Equal(t, fiber.StatusOK, analyzer.last.PreviousRequests[0].StatusCode)
	assert.InDelta(t, 2.0/5.0, analyzer.last.RequestFrequency(5), 0.001)
}

func TestThreatMiddleware_BurstTripsRateAnomaly(t *testing.T) {
	const actor = "198.51.100.77"

	store := behavior.NewMemoryProfileStore()
	profile := behavior.NewProfile(actor, time.Now().UTC().Add(-24*time.Hour))
	profile.RequestCount = 120
	profile.EndpointCounts["/api/data"] = 120
	require.NoError(t, store.Save(context.Background(), profile))

	analyzer := behavior.NewAnalyzer(store, quietLogger())
	detector := threat.NewDetector(
		[]threat.Analyzer{analyzer}, &staticResponder{}, nil, quietLogger(), prometheus.NewMetrics())
	mw := middleware.NewThreatMiddleware(quietLogger(), detector, nil, false, nil)

	var mu sync.Mutex
	var last threat.AnalysisResult
	app := fiber.New()
	app.Use(mw.Middleware())
	app.Get("/api/data", func(c *fiber.Ctx) error {
		mu.Lock()
		last, _ = c.Locals(common.ThreatResultKey).(threat.AnalysisResult)
		mu.Unlock()
		return c.SendString("OK")
	})

	for i := 0; i < 40; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.Header.Set("X-Real-IP", actor)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	var fired bool
	for _, reason := range last.Overall.Reasons {
		if strings.Contains(reason, "request rate") {
			fired = true
		}
	}
	assert.True(t, fired, "a 40-request burst against a quiet baseline must raise the rate anomaly")
	assert.GreaterOrEqual(t, last.Overall.Score, 0.3)
}
