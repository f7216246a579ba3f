package threat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
)

// DetectorConfig holds the live tunables of the orchestrator. A config is
// installed as an immutable snapshot; readers never block writers.
type DetectorConfig struct {
	Enabled             bool               `json:"enabled" mapstructure:"enabled"`
	ThreatThreshold     float64            `json:"threat_threshold" mapstructure:"threat_threshold"`
	ConfidenceThreshold float64            `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	AutoResponseEnabled bool               `json:"auto_response_enabled" mapstructure:"auto_response_enabled"`
	AnalyzerWeights     map[string]float64 `json:"analyzer_weights" mapstructure:"analyzer_weights"`
	MaxAnalysisTimeMs   int64              `json:"max_analysis_time_ms" mapstructure:"max_analysis_time_ms"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Enabled:             true,
		ThreatThreshold:     0.6,
		ConfidenceThreshold: 0.7,
		AutoResponseEnabled: true,
		AnalyzerWeights:     map[string]float64{},
		MaxAnalysisTimeMs:   5000,
	}
}

func (c DetectorConfig) Validate() error {
	if c.ThreatThreshold < 0 || c.ThreatThreshold > 1 {
		return fmt.Errorf("threat_threshold must be between 0 and 1, got %f", c.ThreatThreshold)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", c.ConfidenceThreshold)
	}
	if c.MaxAnalysisTimeMs <= 0 {
		return fmt.Errorf("max_analysis_time_ms must be positive, got %d", c.MaxAnalysisTimeMs)
	}
	for id, w := range c.AnalyzerWeights {
		if w < 0 {
			return fmt.Errorf("analyzer weight for %q must not be negative, got %f", id, w)
		}
	}
	return nil
}

func (c DetectorConfig) clone() DetectorConfig {
	weights := make(map[string]float64, len(c.AnalyzerWeights))
	for k, v := range c.AnalyzerWeights {
		weights[k] = v
	}
	c.AnalyzerWeights = weights
	return c
}

// AnalysisResult is what the request path gets back from one Analyze call.
type AnalysisResult struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Overall       Score     `json:"overall_score"`
	Individual    []Score   `json:"individual_scores"`
	Actions       []Action  `json:"actions_taken"`
	DurationMs    int64     `json:"analysis_duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// RequiresAction reports whether the combined level calls for synchronous
// intervention by the caller.
func (r AnalysisResult) RequiresAction() bool {
	return r.Overall.Level.RequiresImmediateAction()
}

// HighestIndividual returns the strongest single-analyzer opinion, or nil
// when no analyzer completed.
func (r AnalysisResult) HighestIndividual() *Score {
	var highest *Score
	for i := range r.Individual {
		if highest == nil || r.Individual[i].Score > highest.Score {
			highest = &r.Individual[i]
		}
	}
	return highest
}

// Statistics is a point-in-time snapshot of detector counters.
type Statistics struct {
	AnalyzersCount        int     `json:"analyzers_count"`
	EnabledAnalyzers      int     `json:"enabled_analyzers"`
	TotalAnalyses         uint64  `json:"total_analyses"`
	ThreatsDetected       uint64  `json:"threats_detected"`
	ActionsTaken          uint64  `json:"actions_taken"`
	AverageAnalysisTimeMs float64 `json:"average_analysis_time_ms"`
}

// Detector fans a request out to every enabled analyzer under a hard time
// budget, combines whatever completed, decides whether to respond, and hands
// the outcome to the SIEM dispatcher.
type Detector struct {
	mu        sync.RWMutex
	analyzers []Analyzer

	config     atomic.Pointer[DetectorConfig]
	responder  Responder
	dispatcher EventDispatcher
	logger     *logrus.Logger
	metrics    *prometheus.Metrics

	lastErrors sync.Map // analyzer id -> error string

	totalAnalyses   atomic.Uint64
	threatsDetected atomic.Uint64
	actionsTaken    atomic.Uint64
	totalLatencyMs  atomic.Int64
}

// NewDetector builds a detector over the given analyzers. Responder and
// dispatcher may be nil; the corresponding steps are skipped.
func NewDetector(
	analyzers []Analyzer,
	responder Responder,
	dispatcher EventDispatcher,
	logger *logrus.Logger,
	metrics *prometheus.Metrics,
) *Detector {
	d := &Detector{
		analyzers:  analyzers,
		responder:  responder,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
	cfg := DefaultDetectorConfig()
	d.config.Store(&cfg)
	return d
}

// Analyze runs the fan-out/aggregate/decide/dispatch cycle for one request.
// It returns an error only on orchestrator-level failure; analyzer failures
// and timeouts are absorbed by dropping the vote.
func (d *Detector) Analyze(ctx context.Context, req RequestContext) (AnalysisResult, error) {
	start := time.Now()
	cfg := d.config.Load()

	if !cfg.Enabled {
		return AnalysisResult{
			CorrelationID: req.CorrelationID,
			Overall:       NewScore("disabled", 0, 1),
			Individual:    []Score{},
			Actions:       []Action{},
			Timestamp:     time.Now().UTC(),
		}, nil
	}

	budget := time.Duration(cfg.MaxAnalysisTimeMs) * time.Millisecond
	overallCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	individual := d.collectScores(overallCtx, req, budget)

	overall := Combine(individual, cfg.AnalyzerWeights)

	actions := []Action{}
	if cfg.AutoResponseEnabled && overall.IsActionable(cfg.ThreatThreshold, cfg.ConfidenceThreshold) {
		if d.responder != nil {
			actions = d.responder.Respond(req, overall)
		}
		d.threatsDetected.Add(1)
		d.actionsTaken.Add(uint64(len(actions)))
		d.metrics.ThreatsDetected.Inc()
		for _, a := range actions {
			d.metrics.ActionsTaken.WithLabelValues(string(a.Type)).Inc()
		}
		d.logger.WithFields(logrus.Fields{
			"correlation_id": req.CorrelationID,
			"threat_score":   overall.Score,
			"actions_count":  len(actions),
		}).Info("defensive actions taken")
	}

	if d.dispatcher != nil {
		d.dispatcher.Enqueue(req, overall, actions)
	}

	durationMs := time.Since(start).Milliseconds()
	d.totalAnalyses.Add(1)
	d.totalLatencyMs.Add(durationMs)
	d.metrics.AnalysesTotal.Inc()
	d.metrics.AnalysisLatency.Observe(float64(durationMs))

	return AnalysisResult{
		CorrelationID: req.CorrelationID,
		Overall:       overall,
		Individual:    individual,
		Actions:       actions,
		DurationMs:    durationMs,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// collectScores runs every enabled analyzer concurrently, each wrapped in
// its own timeout, and gathers whatever completes before the overall
// deadline. A slow or failed branch is excluded, not defaulted.
func (d *Detector) collectScores(ctx context.Context, req RequestContext, budget time.Duration) []Score {
	analyzers := d.snapshotAnalyzers()

	type outcome struct {
		id    string
		score Score
		err   error
	}
	results := make(chan outcome, len(analyzers))

	launched := 0
	for _, a := range analyzers {
		if !a.Enabled() {
			continue
		}
		launched++
		go func(a Analyzer) {
			callCtx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()
			score, err := d.invoke(callCtx, a, req)
			results <- outcome{id: a.ID(), score: score, err: err}
		}(a)
	}

	scores := make([]Score, 0, launched)
collect:
	for i := 0; i < launched; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				d.lastErrors.Store(r.id, r.err.Error())
				d.metrics.AnalyzerFailures.WithLabelValues(r.id).Inc()
				d.logger.WithFields(logrus.Fields{
					"analyzer":       r.id,
					"correlation_id": req.CorrelationID,
				}).WithError(r.err).Warn("threat analyzer excluded from vote")
				continue
			}
			d.lastErrors.Delete(r.id)
			scores = append(scores, r.score)
		case <-ctx.Done():
			d.logger.WithFields(logrus.Fields{
				"pending":        launched - i,
				"correlation_id": req.CorrelationID,
			}).Warn("analysis budget exhausted, dropping pending analyzer votes")
			break collect
		}
	}
	return scores
}

// invoke shields the collector from analyzers that ignore their context:
// once the deadline passes the result is abandoned and the analyzer is left
// to release its own resources.
func (d *Detector) invoke(ctx context.Context, a Analyzer, req RequestContext) (Score, error) {
	type outcome struct {
		score Score
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("analyzer panic: %v", r)}
			}
		}()
		score, err := a.Analyze(ctx, req)
		done <- outcome{score: score, err: err}
	}()

	select {
	case o := <-done:
		return o.score, o.err
	case <-ctx.Done():
		return Score{}, fmt.Errorf("analyzer %s: %w", a.ID(), ctx.Err())
	}
}

func (d *Detector) snapshotAnalyzers() []Analyzer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Analyzer, len(d.analyzers))
	copy(out, d.analyzers)
	return out
}

// AddAnalyzer registers an additional signal source at runtime.
func (d *Detector) AddAnalyzer(a Analyzer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.analyzers = append(d.analyzers, a)
	d.logger.WithFields(logrus.Fields{
		"analyzer_id":   a.ID(),
		"analyzer_name": a.Name(),
	}).Info("threat analyzer added")
}

// RemoveAnalyzer drops an analyzer by id and reports whether it was present.
func (d *Detector) RemoveAnalyzer(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range d.analyzers {
		if a.ID() == id {
			d.analyzers = append(d.analyzers[:i], d.analyzers[i+1:]...)
			d.lastErrors.Delete(id)
			d.logger.WithField("analyzer_id", id).Info("threat analyzer removed")
			return true
		}
	}
	return false
}

// Config returns a copy of the active configuration snapshot.
func (d *Detector) Config() DetectorConfig {
	return d.config.Load().clone()
}

// UpdateConfig validates and installs a new configuration snapshot. An
// invalid config is rejected and the previous snapshot stays active.
func (d *Detector) UpdateConfig(cfg DetectorConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}
	snapshot := cfg.clone()
	d.config.Store(&snapshot)
	d.logger.Info("threat detector configuration updated")
	return nil
}

// SetEnabled toggles the whole engine.
func (d *Detector) SetEnabled(enabled bool) {
	cfg := d.Config()
	cfg.Enabled = enabled
	snapshot := cfg.clone()
	d.config.Store(&snapshot)
	d.logger.WithField("enabled", enabled).Info("threat detector enabled status changed")
}

// SetThreatThreshold updates the actionability threshold, clamped to [0,1].
func (d *Detector) SetThreatThreshold(threshold float64) {
	cfg := d.Config()
	cfg.ThreatThreshold = clamp01(threshold)
	snapshot := cfg.clone()
	d.config.Store(&snapshot)
	d.logger.WithField("threshold", cfg.ThreatThreshold).Info("threat threshold updated")
}

// SetAutoResponse toggles automated responses without touching detection.
func (d *Detector) SetAutoResponse(enabled bool) {
	cfg := d.Config()
	cfg.AutoResponseEnabled = enabled
	snapshot := cfg.clone()
	d.config.Store(&snapshot)
	d.logger.WithField("enabled", enabled).Info("auto response status changed")
}

// Statistics returns cumulative counters since process start.
func (d *Detector) Statistics() Statistics {
	analyzers := d.snapshotAnalyzers()
	enabled := 0
	for _, a := range analyzers {
		if a.Enabled() {
			enabled++
		}
	}

	total := d.totalAnalyses.Load()
	var avg float64
	if total > 0 {
		avg = float64(d.totalLatencyMs.Load()) / float64(total)
	}

	return Statistics{
		AnalyzersCount:        len(analyzers),
		EnabledAnalyzers:      enabled,
		TotalAnalyses:         total,
		ThreatsDetected:       d.threatsDetected.Load(),
		ActionsTaken:          d.actionsTaken.Load(),
		AverageAnalysisTimeMs: avg,
	}
}

// HealthCheck probes every analyzer. It never returns an error; analyzer
// problems surface through the per-analyzer status.
func (d *Detector) HealthCheck(ctx context.Context) []AnalyzerHealth {
	analyzers := d.snapshotAnalyzers()
	statuses := make([]AnalyzerHealth, 0, len(analyzers))

	for _, a := range analyzers {
		status := AnalyzerHealth{
			AnalyzerID: a.ID(),
			Name:       a.Name(),
			Enabled:    a.Enabled(),
			Healthy:    true,
		}
		if v, ok := d.lastErrors.Load(a.ID()); ok {
			if s, ok := v.(string); ok {
				status.LastError = s
			}
		}
		if reporter, ok := a.(HealthReporter); ok {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := reporter.HealthCheck(probeCtx); err != nil {
				status.Healthy = false
				status.LastError = err.Error()
			}
			cancel()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
