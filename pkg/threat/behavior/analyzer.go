package behavior

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/avct/uasurfer"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

const (
	AnalyzerID   = "behavior"
	analyzerName = "Behavioral Analyzer"

	profileLockStripes = 64
)

const (
	signalRate      = "rate_anomaly"
	signalEndpoints = "endpoint_diversity"
	signalUserAgent = "user_agent_anomaly"
	signalTimeOfDay = "time_of_day_anomaly"
	signalErrorRate = "error_rate_anomaly"
	signalPattern   = "pattern_match"
)

// Per-signal weights used when folding fired signals into the analyzer's
// score. Fixed so that signal semantics stay comparable across deployments.
var signalWeights = map[string]float64{
	signalRate:      1.5,
	signalEndpoints: 1.2,
	signalUserAgent: 1.0,
	signalTimeOfDay: 0.8,
	signalErrorRate: 1.3,
	signalPattern:   1.1,
}

var scriptedAgentTokens = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python", "java", "go-http", "okhttp", "axios",
}

// Config tunes the behavioral signals. Off-hours bounds are UTC hours; a
// negative start disables the off-hours check.
type Config struct {
	MinRequests        uint64    `mapstructure:"min_requests"`
	RateWindowMinutes  int       `mapstructure:"rate_window_minutes"`
	RateMultiple       float64   `mapstructure:"rate_multiple"`
	MaxUniqueEndpoints int       `mapstructure:"max_unique_endpoints"`
	EndpointEntropyMin float64   `mapstructure:"endpoint_entropy_min"`
	ErrorRateThreshold float64   `mapstructure:"error_rate_threshold"`
	MinErrorSamples    uint64    `mapstructure:"min_error_samples"`
	OffHoursStart      int       `mapstructure:"off_hours_start"`
	OffHoursEnd        int       `mapstructure:"off_hours_end"`
	Patterns           []Pattern `mapstructure:"patterns"`
}

func DefaultConfig() Config {
	return Config{
		MinRequests:        10,
		RateWindowMinutes:  5,
		RateMultiple:       2.0,
		MaxUniqueEndpoints: 25,
		EndpointEntropyMin: 4.0,
		ErrorRateThreshold: 0.3,
		MinErrorSamples:    10,
		OffHoursStart:      -1,
		OffHoursEnd:        -1,
		Patterns:           defaultPatterns(),
	}
}

func (c Config) validate() error {
	if c.RateWindowMinutes <= 0 {
		return fmt.Errorf("rate_window_minutes must be positive, got %d", c.RateWindowMinutes)
	}
	if c.RateMultiple < 1 {
		return fmt.Errorf("rate_multiple must be at least 1, got %f", c.RateMultiple)
	}
	if c.ErrorRateThreshold < 0 || c.ErrorRateThreshold > 1 {
		return fmt.Errorf("error_rate_threshold must be between 0 and 1, got %f", c.ErrorRateThreshold)
	}
	return nil
}

// Analyzer scores requests against the actor's own historical behavior. It
// is stateful: every analyzed request also updates the actor's profile.
// Per-actor striped locks keep the load-modify-save cycle atomic without
// serializing unrelated actors.
type Analyzer struct {
	store  ProfileStore
	logger *logrus.Logger

	mu      sync.RWMutex
	config  Config
	enabled bool

	locks [profileLockStripes]sync.Mutex
}

func NewAnalyzer(store ProfileStore, logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		store:   store,
		logger:  logger,
		config:  DefaultConfig(),
		enabled: true,
	}
}

func (a *Analyzer) ID() string {
	return AnalyzerID
}

func (a *Analyzer) Name() string {
	return analyzerName
}

func (a *Analyzer) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// UpdateConfig decodes and validates new settings. An invalid update is
// rejected in full and the prior configuration stays in effect.
func (a *Analyzer) UpdateConfig(settings map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return fmt.Errorf("failed to decode behavior config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	if enabled, ok := settings["enabled"].(bool); ok {
		a.enabled = enabled
	}
	a.config = cfg
	return nil
}

// HealthCheck probes the profile store.
func (a *Analyzer) HealthCheck(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Analyze loads the actor's profile, folds the current request into it, and
// scores the request against the updated baseline. A storage outage
// degrades to a zero-score, low-confidence result rather than failing the
// pipeline.
func (a *Analyzer) Analyze(ctx context.Context, req threat.RequestContext) (threat.Score, error) {
	cfg := a.configSnapshot()
	actor := req.ActorID()

	lock := a.lockFor(actor)
	lock.Lock()
	defer lock.Unlock()

	profile, err := a.store.Load(ctx, actor)
	if err != nil {
		a.logger.WithError(err).WithField("actor", actor).Warn("behavior profile load failed")
		return threat.NewScore(AnalyzerID, 0, 0.1).
			WithReason("behavior profile unavailable"), nil
	}
	if profile == nil {
		profile = NewProfile(actor, req.Timestamp)
	}
	profile.Observe(req)

	score := a.evaluate(cfg, profile, req)

	if err := a.store.Save(ctx, profile); err != nil {
		a.logger.WithError(err).WithField("actor", actor).Warn("behavior profile save failed")
	}
	return score, nil
}

// RecordOutcome folds a completed request's outcome into the actor's
// profile. The middleware calls it after the response is written.
func (a *Analyzer) RecordOutcome(ctx context.Context, actorID string, statusCode int, responseTimeMs int64) {
	lock := a.lockFor(actorID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := a.store.Load(ctx, actorID)
	if err != nil || profile == nil {
		return
	}
	profile.ObserveOutcome(statusCode, responseTimeMs)
	if err := a.store.Save(ctx, profile); err != nil {
		a.logger.WithError(err).WithField("actor", actorID).Warn("behavior profile save failed")
	}
}

func (a *Analyzer) configSnapshot() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

func (a *Analyzer) lockFor(actorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return &a.locks[h.Sum32()%profileLockStripes]
}

type signal struct {
	name       string
	score      float64
	confidence float64
	reason     string
}

func (a *Analyzer) evaluate(cfg Config, profile *Profile, req threat.RequestContext) threat.Score {
	if profile.RequestCount < cfg.MinRequests {
		return threat.NewScore(AnalyzerID, 0.01, 0.2).
			WithReason("insufficient history for behavioral analysis").
			WithMetadata("request_count", profile.RequestCount)
	}

	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var signals []signal
	if s, ok := rateSignal(cfg, profile, req, now); ok {
		signals = append(signals, s)
	}
	if s, ok := endpointSignal(cfg, profile); ok {
		signals = append(signals, s)
	}
	if s, ok := userAgentSignal(profile, req); ok {
		signals = append(signals, s)
	}
	if s, ok := timeOfDaySignal(cfg, profile, now); ok {
		signals = append(signals, s)
	}
	if s, ok := errorRateSignal(cfg, profile); ok {
		signals = append(signals, s)
	}
	if s, ok := patternSignal(cfg, profile, req); ok {
		signals = append(signals, s)
	}

	if len(signals) == 0 {
		return threat.NewScore(AnalyzerID, 0, 0.5).
			WithMetadata("request_count", profile.RequestCount)
	}

	var totalWeight, weightedScore, confidenceSum float64
	for _, s := range signals {
		weight := signalWeights[s.name]
		if weight == 0 {
			weight = 1.0
		}
		totalWeight += weight
		weightedScore += s.score * weight
		confidenceSum += s.confidence
	}

	score := threat.NewScore(
		AnalyzerID,
		math.Min(weightedScore/totalWeight, 1),
		confidenceSum/float64(len(signals)),
	)
	for _, s := range signals {
		score = score.WithReason(s.reason).WithMetadata(s.name+"_score", s.score)
	}
	return score
}

// rateSignal compares the short-window request rate against the actor's own
// lifetime baseline. The score scales with the ratio and saturates at 20x.
func rateSignal(cfg Config, profile *Profile, req threat.RequestContext, now time.Time) (signal, bool) {
	current := req.RequestFrequency(cfg.RateWindowMinutes)
	if current < 1 {
		return signal{}, false
	}

	baseline := profile.RequestsPerMinute(now)
	if baseline < 0.1 {
		baseline = 0.1
	}
	ratio := current / baseline
	if ratio < cfg.RateMultiple {
		return signal{}, false
	}

	return signal{
		name:       signalRate,
		score:      math.Min(ratio/20, 1),
		confidence: math.Min(ratio/10, 1),
		reason: fmt.Sprintf("request rate %.1f/min is %.1fx the actor baseline %.1f/min",
			current, ratio, baseline),
	}, true
}

func endpointSignal(cfg Config, profile *Profile) (signal, bool) {
	unique := profile.UniqueEndpoints()
	entropy := profile.EndpointEntropy()
	if unique <= cfg.MaxUniqueEndpoints || entropy <= cfg.EndpointEntropyMin {
		return signal{}, false
	}

	return signal{
		name:       signalEndpoints,
		score:      math.Min(entropy/6, 1),
		confidence: 0.7,
		reason:     fmt.Sprintf("probing %d distinct endpoints (entropy %.2f bits)", unique, entropy),
	}, true
}

// userAgentSignal flags scripted clients and user-agent churn. Device
// classification follows uasurfer; an agent with no recognizable device
// type is treated as suspect.
func userAgentSignal(profile *Profile, req threat.RequestContext) (signal, bool) {
	if req.UserAgent == "" {
		return signal{}, false
	}

	s := signal{name: signalUserAgent}

	lower := strings.ToLower(req.UserAgent)
	for _, token := range scriptedAgentTokens {
		if strings.Contains(lower, token) {
			s.score = 0.6
			s.confidence = 0.8
			s.reason = fmt.Sprintf("scripted user agent %q", req.UserAgent)
			break
		}
	}

	if s.score == 0 {
		ua := uasurfer.Parse(req.UserAgent)
		switch ua.DeviceType {
		case uasurfer.DeviceComputer, uasurfer.DeviceTablet, uasurfer.DevicePhone,
			uasurfer.DeviceConsole, uasurfer.DeviceWearable, uasurfer.DeviceTV:
		default:
			s.score = 0.4
			s.confidence = 0.5
			s.reason = "user agent has no recognizable device type"
		}
	}

	distinct := len(profile.UserAgentCounts)
	if churn := profile.UserAgentEntropy(); distinct > 5 && churn > 2.0 && s.score < 0.5 {
		s.score = 0.5
		s.confidence = 0.6
		s.reason = fmt.Sprintf("user agent churn: %d distinct agents (entropy %.2f bits)", distinct, churn)
	}

	if s.score == 0 {
		return signal{}, false
	}
	return s, true
}

// timeOfDaySignal fires when activity is concentrated in the current hour
// against a usually quiet histogram, or falls inside the configured
// off-hours window.
func timeOfDaySignal(cfg Config, profile *Profile, now time.Time) (signal, bool) {
	total := profile.RequestCount
	if total <= 24 {
		return signal{}, false
	}

	hour := now.UTC().Hour()
	avg := float64(total) / 24
	current := float64(profile.HourlyHistogram[hour])

	if entropy := profile.HourlyEntropy(); entropy < 2.0 && current > 3*avg {
		return signal{
			name:       signalTimeOfDay,
			score:      math.Min(current/(6*avg), 1),
			confidence: 0.6,
			reason: fmt.Sprintf("activity concentrated at hour %02d UTC (%.0f%% of all requests)",
				hour, 100*current/float64(total)),
		}, true
	}

	if cfg.OffHoursStart >= 0 && inHourWindow(hour, cfg.OffHoursStart, cfg.OffHoursEnd) {
		return signal{
			name:       signalTimeOfDay,
			score:      0.35,
			confidence: 0.5,
			reason:     fmt.Sprintf("activity during off-hours window (hour %02d UTC)", hour),
		}, true
	}

	return signal{}, false
}

// inHourWindow handles windows that wrap midnight, e.g. start 22 end 6.
func inHourWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func errorRateSignal(cfg Config, profile *Profile) (signal, bool) {
	if profile.RequestCount < cfg.MinErrorSamples {
		return signal{}, false
	}
	rate := profile.ErrorRate()
	if rate <= cfg.ErrorRateThreshold {
		return signal{}, false
	}

	confidence := math.Min(float64(profile.ErrorCount)/20, 1)
	if confidence < 0.5 {
		confidence = 0.5
	}
	return signal{
		name:       signalErrorRate,
		score:      math.Min(rate*1.5, 1),
		confidence: confidence,
		reason: fmt.Sprintf("error rate %.0f%% over %d requests",
			rate*100, profile.RequestCount),
	}, true
}

// patternSignal evaluates configured patterns and reports the best match.
func patternSignal(cfg Config, profile *Profile, req threat.RequestContext) (signal, bool) {
	metrics := patternMetrics(cfg, profile, req)

	best := signal{name: signalPattern}
	matched := false
	for _, pattern := range cfg.Patterns {
		ratio, ok := pattern.Match(metrics)
		if !ok {
			continue
		}
		if !matched || pattern.Score > best.score {
			best.score = pattern.Score
			best.confidence = ratio
			best.reason = fmt.Sprintf("behavior matches pattern %q", pattern.Name)
			matched = true
		}
	}
	return best, matched
}

func patternMetrics(cfg Config, profile *Profile, req threat.RequestContext) map[string]float64 {
	return map[string]float64{
		MetricRequestsPerMinute: req.RequestFrequency(cfg.RateWindowMinutes),
		MetricRequestCount:      float64(profile.RequestCount),
		MetricUniqueEndpoints:   float64(profile.UniqueEndpoints()),
		MetricEndpointEntropy:   profile.EndpointEntropy(),
		MetricErrorRate:         profile.ErrorRate(),
		MetricAvgResponseTimeMs: profile.AvgResponseTimeMs(),
		MetricHourlyEntropy:     profile.HourlyEntropy(),
	}
}
