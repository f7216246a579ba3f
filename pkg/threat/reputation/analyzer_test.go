package reputation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/threat"
	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
)

type stubProvider struct {
	name      string
	result    reputation.Result
	err       error
	available bool
	calls     atomic.Int64
}

func (p *stubProvider) CheckReputation(ctx context.Context, ip string) (reputation.Result, error) {
	p.calls.Add(1)
	if p.err != nil {
		return reputation.Result{}, p.err
	}
	result := p.result
	result.Provider = p.name
	result.CheckedAt = time.Now().UTC()
	return result, nil
}

func (p *stubProvider) ProviderName() string {
	return p.name
}

func (p *stubProvider) Available() bool {
	return p.available
}

func newTestLogger(t *testing.T) *logrus.Logger {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestAnalyzeInvalidIP(t *testing.T) {
	provider := &stubProvider{name: "stub", available: true}
	analyzer := reputation.NewAnalyzer([]reputation.Provider{provider}, newTestLogger(t), nil)

	req := threat.NewRequestContext("not-an-ip", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Zero(t, score.Score)
	assert.Zero(t, score.Confidence)
	assert.Zero(t, provider.calls.Load(), "invalid IP must not reach providers")
}

func TestAnalyzeDenylistedIP(t *testing.T) {
	denylist := reputation.NewDenylistProvider([]string{"203.0.113.7"})
	neutral := &stubProvider{
		name:      "neutral",
		available: true,
		result:    reputation.Result{Confidence: 0.3},
	}
	analyzer := reputation.NewAnalyzer(
		[]reputation.Provider{denylist, neutral},
		newTestLogger(t), nil,
	)

	req := threat.NewRequestContext("203.0.113.7", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.Score, 0.9)
	assert.Equal(t, threat.LevelCritical, score.Level)
	assert.Contains(t, score.Metadata["categories"], "denylist")
}

func TestAnalyzeCleanIP(t *testing.T) {
	denylist := reputation.NewDenylistProvider(nil)
	analyzer := reputation.NewAnalyzer([]reputation.Provider{denylist}, newTestLogger(t), nil)

	req := threat.NewRequestContext("198.51.100.10", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, threat.LevelNone, score.Level)
	assert.Zero(t, score.Score)
	assert.Equal(t, 1.0, score.Confidence)
}

func TestAnalyzeCachesVerdict(t *testing.T) {
	provider := &stubProvider{
		name:      "stub",
		available: true,
		result:    reputation.Result{Score: 0.4, Confidence: 0.6},
	}
	analyzer := reputation.NewAnalyzer([]reputation.Provider{provider}, newTestLogger(t), nil)

	req := threat.NewRequestContext("198.51.100.10", "/api/data", "GET")
	first, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, int64(1), provider.calls.Load(), "second lookup must be served from cache")

	_, marked := first.Metadata["cached"]
	assert.False(t, marked, "fresh verdicts carry no cache marker")
	assert.Equal(t, true, second.Metadata["cached"])

	third, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, true, third.Metadata["cached"])
}

func TestAnalyzeExcludesFailedProviders(t *testing.T) {
	failing := &stubProvider{name: "failing", available: true, err: errors.New("upstream down")}
	working := &stubProvider{
		name:      "working",
		available: true,
		result:    reputation.Result{Score: 0.6, Confidence: 0.8},
	}
	analyzer := reputation.NewAnalyzer(
		[]reputation.Provider{failing, working},
		newTestLogger(t), nil,
	)

	req := threat.NewRequestContext("198.51.100.20", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.InDelta(t, 0.6, score.Score, 0.001)
	assert.InDelta(t, 0.8, score.Confidence, 0.001)
}

func TestAnalyzeNoProvidersResponded(t *testing.T) {
	offline := &stubProvider{name: "offline", available: false}
	analyzer := reputation.NewAnalyzer([]reputation.Provider{offline}, newTestLogger(t), nil)

	req := threat.NewRequestContext("198.51.100.30", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.Zero(t, score.Score)
	assert.InDelta(t, 0.1, score.Confidence, 0.001)
	assert.Contains(t, score.Reasons, "no reputation providers responded")
	assert.Zero(t, offline.calls.Load())

	assert.Error(t, analyzer.HealthCheck(context.Background()))
}

func TestAnalyzeWeightedCombine(t *testing.T) {
	a := &stubProvider{name: "a", available: true, result: reputation.Result{Score: 0.8, Confidence: 0.8, Categories: []string{"scanner"}}}
	b := &stubProvider{name: "b", available: true, result: reputation.Result{Score: 0.2, Confidence: 0.4, Categories: []string{"scanner", "proxy"}}}
	analyzer := reputation.NewAnalyzer([]reputation.Provider{a, b}, newTestLogger(t), nil)
	require.NoError(t, analyzer.UpdateConfig(map[string]interface{}{
		"provider_weights": map[string]float64{"a": 3.0, "b": 1.0},
	}))

	req := threat.NewRequestContext("198.51.100.40", "/api/data", "GET")
	score, err := analyzer.Analyze(context.Background(), req)

	require.NoError(t, err)
	assert.InDelta(t, 0.65, score.Score, 0.001)
	assert.InDelta(t, 0.7, score.Confidence, 0.001)
	assert.Equal(t, []string{"scanner", "proxy"}, score.Metadata["categories"])
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	analyzer := reputation.NewAnalyzer(nil, newTestLogger(t), nil)

	assert.Error(t, analyzer.UpdateConfig(map[string]interface{}{"cache_ttl_seconds": 0}))
	assert.Error(t, analyzer.UpdateConfig(map[string]interface{}{"provider_timeout_ms": -5}))
	assert.Error(t, analyzer.UpdateConfig(map[string]interface{}{
		"provider_weights": map[string]float64{"a": -1.0},
	}))

	assert.True(t, analyzer.Enabled())
	require.NoError(t, analyzer.UpdateConfig(map[string]interface{}{"enabled": false}))
	assert.False(t, analyzer.Enabled())
}
