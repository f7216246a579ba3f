package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Latency buckets in milliseconds, tuned for an in-path analysis budget of
// a few seconds.
var latencyBuckets = []float64{
	1, 2, 5,
	10, 25, 50,
	100, 250, 500,
	1000, 2500, 5000,
}

// Metrics is the explicit metrics set for the service. It is constructed
// once at process start and passed to every component that needs it; there
// is no package-global registry.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal    prometheus.Counter
	ThreatsDetected  prometheus.Counter
	ActionsTaken     *prometheus.CounterVec
	AnalysisLatency  prometheus.Histogram
	AnalyzerFailures *prometheus.CounterVec

	ReputationCacheHits   prometheus.Counter
	ReputationCacheMisses prometheus.Counter

	SiemEventsQueued  prometheus.Counter
	SiemEventsDropped prometheus.Counter
	SiemSinkFailures  *prometheus.CounterVec

	RateLimitExceeded *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		AnalysesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_threat_analyses_total",
			Help: "Total number of threat analyses performed",
		}),
		ThreatsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_threats_detected_total",
			Help: "Total number of analyses whose combined score was actionable",
		}),
		ActionsTaken: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiwarden_defensive_actions_total",
			Help: "Defensive actions returned by the response engine",
		}, []string{"action"}),
		AnalysisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiwarden_analysis_latency_ms",
			Help:    "Threat analysis latency in milliseconds",
			Buckets: latencyBuckets,
		}),
		AnalyzerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiwarden_analyzer_failures_total",
			Help: "Analyzer invocations excluded from the vote by error or timeout",
		}, []string{"analyzer"}),
		ReputationCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_reputation_cache_hits_total",
			Help: "IP reputation lookups served from cache",
		}),
		ReputationCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_reputation_cache_misses_total",
			Help: "IP reputation lookups that queried providers",
		}),
		SiemEventsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_siem_events_queued_total",
			Help: "Security events accepted onto the SIEM queue",
		}),
		SiemEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiwarden_siem_events_dropped_total",
			Help: "Security events dropped because the SIEM queue was full",
		}),
		SiemSinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiwarden_siem_sink_failures_total",
			Help: "Batch deliveries that failed after all retry attempts",
		}, []string{"sink"}),
		RateLimitExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiwarden_rate_limit_exceeded_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		}, []string{"limit_type"}),
	}
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
