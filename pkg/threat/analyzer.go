package threat

import "context"

// Analyzer is the capability every signal source implements. Implementations
// must be safe for concurrent use by many goroutines for many actors at once,
// must honor ctx cancellation on any I/O, and must never assume they are the
// only analyzer running. An analyzer that fails or times out contributes
// nothing to the combined score; it is never defaulted to zero.
type Analyzer interface {
	Analyze(ctx context.Context, req RequestContext) (Score, error)
	ID() string
	Name() string
	Enabled() bool
	UpdateConfig(settings map[string]interface{}) error
}

// AnalyzerHealth is the result of a per-analyzer health probe. Probes never
// fail; an unhealthy analyzer reports itself through Healthy and LastError.
type AnalyzerHealth struct {
	AnalyzerID string `json:"analyzer_id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Healthy    bool   `json:"healthy"`
	LastError  string `json:"last_error,omitempty"`
}

// HealthReporter is optionally implemented by analyzers that can probe their
// own dependencies (cache, providers). Analyzers without it are reported
// healthy whenever they are enabled.
type HealthReporter interface {
	HealthCheck(ctx context.Context) error
}
