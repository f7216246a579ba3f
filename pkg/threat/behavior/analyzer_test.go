package behavior_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/threat"
	"github.com/apiwarden/apiwarden/pkg/threat/behavior"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestAnalyzer(t *testing.T) (*behavior.Analyzer, behavior.ProfileStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	store := behavior.NewMemoryProfileStore()
	return behavior.NewAnalyzer(store, logger), store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// seedProfile builds a steady actor: evenly spread hourly activity, one
// endpoint, a normal browser agent.
func seedProfile(t *testing.T, store behavior.ProfileStore, actor string, requests uint64, age time.Duration) *behavior.Profile {
	t.Helper()
	now := time.Now().UTC()
	profile := behavior.NewProfile(actor, now.Add(-age))
	profile.LastSeen = now
	profile.RequestCount = requests
	profile.EndpointCounts["/api/data"] = requests
	profile.UserAgentCounts[chromeUA] = requests
	for i := range profile.HourlyHistogram {
		profile.HourlyHistogram[i] = requests / 24
	}
	require.NoError(t, store.Save(context.Background(), profile))
	return profile
}

func burstHistory(count int) []threat.PreviousRequest {
	now := time.Now()
	history := make([]threat.PreviousRequest, 0, count)
	for i := 0; i < count; i++ {
		history = append(history, threat.PreviousRequest{
			Timestamp:  now.Add(-time.Duration(i) * time.Second),
			Endpoint:   "/api/data",
			StatusCode: 200,
		})
	}
	return history
}

func TestAnalyzeInsufficientHistory(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent(chromeUA)
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelNone, score.Level)
	assert.InDelta(t, 0.01, score.Score, 0.001)
	assert.InDelta(t, 0.2, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "insufficient history for behavioral analysis")
}

func TestAnalyzeSteadyActorScoresClean(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seedProfile(t, store, "10.0.0.1", 96, 2*time.Hour)

	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent(chromeUA)
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelNone, score.Level)
	assert.Zero(t, score.Score)
}

func TestAnalyzeRateBurst(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	require.NoError(t, analyzer.UpdateConfig(map[string]interface{}{
		"rate_window_minutes": 1,
	}))

	// Baseline roughly 3 requests per minute over half an hour.
	seedProfile(t, store, "10.0.0.1", 90, 30*time.Minute)

	// Burst: 40 requests in the last minute.
	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent(chromeUA).
		WithPreviousRequests(burstHistory(40))
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelHigh, score.Level)
	assert.GreaterOrEqual(t, score.Score, 0.6)
	assert.Less(t, score.Score, 0.8)
	assert.GreaterOrEqual(t, score.Confidence, 0.7)
	require.Len(t, score.Reasons, 1)
	assert.Contains(t, score.Reasons[0], "request rate")
}

func TestAnalyzeScriptedUserAgent(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seedProfile(t, store, "10.0.0.1", 20, time.Hour)

	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent("curl/8.4.0")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelHigh, score.Level)
	assert.InDelta(t, 0.6, score.Score, 0.001)
	require.Len(t, score.Reasons, 1)
	assert.Contains(t, score.Reasons[0], "scripted user agent")
}

func TestAnalyzeErrorRate(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	profile := seedProfile(t, store, "10.0.0.1", 50, 2*time.Hour)
	profile.ErrorCount = 30
	require.NoError(t, store.Save(context.Background(), profile))

	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET").
		WithUserAgent(chromeUA)
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelCritical, score.Level)
	require.Len(t, score.Reasons, 1)
	assert.Contains(t, score.Reasons[0], "error rate")
}

func TestAnalyzeUpdatesProfile(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)

	req := threat.NewRequestContext("10.0.0.1", "/api/users", "GET").
		WithUserAgent(chromeUA)
	_, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)

	profile, err := store.Load(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, uint64(1), profile.RequestCount)
	assert.Equal(t, uint64(1), profile.EndpointCounts["/api/users"])
}

func TestAnalyzeKeysProfileByAPIKey(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)

	req := threat.NewRequestContext("10.0.0.1", "/api/users", "GET").
		WithAPIKeyID("key-42")
	_, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)

	profile, err := store.Load(context.Background(), "key-42")
	require.NoError(t, err)
	require.NotNil(t, profile)

	byIP, err := store.Load(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, byIP)
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, actorID string) (*behavior.Profile, error) {
	return nil, errors.New("redis unavailable")
}

func (failingStore) Save(ctx context.Context, profile *behavior.Profile) error {
	return errors.New("redis unavailable")
}

func (failingStore) Ping(ctx context.Context) error {
	return errors.New("redis unavailable")
}

func TestAnalyzeDegradesOnStorageOutage(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	analyzer := behavior.NewAnalyzer(failingStore{}, logger)

	req := threat.NewRequestContext("10.0.0.1", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Zero(t, score.Score)
	assert.InDelta(t, 0.1, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "behavior profile unavailable")

	assert.Error(t, analyzer.HealthCheck(context.Background()))
}

func TestRecordOutcome(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seedProfile(t, store, "10.0.0.1", 20, time.Hour)

	analyzer.RecordOutcome(context.Background(), "10.0.0.1", 500, 120)

	profile, err := store.Load(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, uint64(1), profile.ErrorCount)
	assert.Equal(t, uint64(120), profile.TotalResponseTimeMs)
}

func TestUpdateConfig(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	assert.True(t, analyzer.Enabled())
	require.NoError(t, analyzer.UpdateConfig(map[string]interface{}{
		"enabled":       false,
		"rate_multiple": 3.0,
	}))
	assert.False(t, analyzer.Enabled())

	err := analyzer.UpdateConfig(map[string]interface{}{"rate_multiple": 0.5})
	assert.Error(t, err)

	err = analyzer.UpdateConfig(map[string]interface{}{"error_rate_threshold": 1.5})
	assert.Error(t, err)

	err = analyzer.UpdateConfig(map[string]interface{}{"rate_window_minutes": 0})
	assert.Error(t, err)
}

func TestPatternMatch(t *testing.T) {
	pattern := behavior.Pattern{
		Name:                "credential_stuffing",
		Score:               0.85,
		ConfidenceThreshold: 0.75,
		Indicators: []behavior.Indicator{
			{Metric: behavior.MetricErrorRate, Operator: "gt", Value: 0.5, Weight: 1.5},
			{Metric: behavior.MetricRequestsPerMinute, Operator: "gt", Value: 20, Weight: 1.0},
			{Metric: behavior.MetricUniqueEndpoints, Operator: "lt", Value: 5, Weight: 0.5},
		},
	}

	ratio, ok := pattern.Match(map[string]float64{
		behavior.MetricErrorRate:         0.7,
		behavior.MetricRequestsPerMinute: 35,
		behavior.MetricUniqueEndpoints:   2,
	})
	assert.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 0.001)

	ratio, ok = pattern.Match(map[string]float64{
		behavior.MetricErrorRate:         0.1,
		behavior.MetricRequestsPerMinute: 35,
		behavior.MetricUniqueEndpoints:   2,
	})
	assert.False(t, ok)
	assert.InDelta(t, 0.5, ratio, 0.001)

	_, ok = behavior.Pattern{Name: "empty"}.Match(map[string]float64{})
	assert.False(t, ok)
}
