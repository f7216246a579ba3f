package reputation

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/threat"
)

const (
	AnalyzerID   = "ip_reputation"
	analyzerName = "IP Reputation Analyzer"
)

// A provider verdict this certain is returned as-is instead of being
// diluted by neutral providers.
const definitiveScore = 0.9

type Config struct {
	CacheTTLSeconds   int                `mapstructure:"cache_ttl_seconds"`
	CacheMaxEntries   int                `mapstructure:"cache_max_entries"`
	ProviderTimeoutMs int                `mapstructure:"provider_timeout_ms"`
	ProviderWeights   map[string]float64 `mapstructure:"provider_weights"`
}

func DefaultConfig() Config {
	return Config{
		CacheTTLSeconds:   3600,
		CacheMaxEntries:   10000,
		ProviderTimeoutMs: 2000,
	}
}

func (c Config) validate() error {
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("cache_ttl_seconds must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache_max_entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.ProviderTimeoutMs <= 0 {
		return fmt.Errorf("provider_timeout_ms must be positive, got %d", c.ProviderTimeoutMs)
	}
	for name, weight := range c.ProviderWeights {
		if weight < 0 {
			return fmt.Errorf("provider weight for %s must not be negative, got %f", name, weight)
		}
	}
	return nil
}

// Analyzer scores requests by the reputation of their source IP. Verdicts
// are cached per IP; concurrent misses for the same IP are collapsed into
// one provider round by singleflight.
type Analyzer struct {
	providers []Provider
	logger    *logrus.Logger
	metrics   *prometheus.Metrics
	group     singleflight.Group

	mu      sync.RWMutex
	config  Config
	enabled bool
	cache   *resultCache
}

func NewAnalyzer(providers []Provider, logger *logrus.Logger, metrics *prometheus.Metrics) *Analyzer {
	cfg := DefaultConfig()
	return &Analyzer{
		providers: providers,
		logger:    logger,
		metrics:   metrics,
		config:    cfg,
		enabled:   true,
		cache:     newResultCache(cfg.CacheMaxEntries, time.Duration(cfg.CacheTTLSeconds)*time.Second),
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

// UpdateConfig decodes and validates new settings. Changing cache bounds
// replaces the cache, dropping cached verdicts.
func (a *Analyzer) UpdateConfig(settings map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return fmt.Errorf("failed to decode reputation config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	if enabled, ok := settings["enabled"].(bool); ok {
		a.enabled = enabled
	}
	if cfg.CacheTTLSeconds != a.config.CacheTTLSeconds || cfg.CacheMaxEntries != a.config.CacheMaxEntries {
		a.cache = newResultCache(cfg.CacheMaxEntries, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}
	a.config = cfg
	return nil
}

// HealthCheck passes while at least one provider is available.
func (a *Analyzer) HealthCheck(ctx context.Context) error {
	for _, provider := range a.providers {
		if provider.Available() {
			return nil
		}
	}
	return fmt.Errorf("no reputation providers available")
}

func (a *Analyzer) Analyze(ctx context.Context, req threat.RequestContext) (threat.Score, error) {
	ip := req.IPAddress
	if net.ParseIP(ip) == nil {
		return threat.NewScore(AnalyzerID, 0, 0).
			WithReason("unparseable source address"), nil
	}

	a.mu.RLock()
	cfg := a.config
	cache := a.cache
	a.mu.RUnlock()

	if cached, ok := cache.get(ip); ok {
		if a.metrics != nil {
			a.metrics.ReputationCacheHits.Inc()
		}
		// The stored score stays unmarked; only hits are flagged.
		return cached.WithMetadata("cached", true), nil
	}
	if a.metrics != nil {
		a.metrics.ReputationCacheMisses.Inc()
	}

	value, err, _ := a.group.Do(ip, func() (interface{}, error) {
		score := a.queryProviders(ctx, cfg, ip)
		cache.put(ip, score)
		return score, nil
	})
	if err != nil {
		return threat.Score{}, err
	}
	return value.(threat.Score), nil
}

// queryProviders fans out to all available providers with a per-provider
// timeout and folds their verdicts into one score. Provider failures are
// logged and excluded.
func (a *Analyzer) queryProviders(ctx context.Context, cfg Config, ip string) threat.Score {
	timeout := time.Duration(cfg.ProviderTimeoutMs) * time.Millisecond

	type outcome struct {
		result Result
		err    error
	}

	var wg sync.WaitGroup
	outcomes := make([]outcome, len(a.providers))
	for i, provider := range a.providers {
		if !provider.Available() {
			outcomes[i].err = fmt.Errorf("provider %s unavailable", provider.ProviderName())
			continue
		}
		wg.Add(1)
		go func(i int, provider Provider) {
			defer wg.Done()
			queryCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			result, err := provider.CheckReputation(queryCtx, ip)
			outcomes[i] = outcome{result: result, err: err}
		}(i, provider)
	}
	wg.Wait()

	var results []Result
	for i, o := range outcomes {
		if o.err != nil {
			a.logger.WithError(o.err).
				WithField("provider", a.providers[i].ProviderName()).
				WithField("ip", ip).
				Warn("reputation provider query failed")
			continue
		}
		results = append(results, o.result)
	}

	return combineResults(cfg, ip, results)
}

func combineResults(cfg Config, ip string, results []Result) threat.Score {
	if len(results) == 0 {
		return threat.NewScore(AnalyzerID, 0, 0.1).
			WithReason("no reputation providers responded")
	}

	var totalWeight, weightedScore, weightedConfidence float64
	var categories []string
	seen := make(map[string]struct{})
	score := threat.NewScore(AnalyzerID, 0, 0)

	definitive := false
	for _, result := range results {
		weight, ok := cfg.ProviderWeights[result.Provider]
		if !ok {
			weight = 1.0
		}
		totalWeight += weight
		weightedScore += result.Score * weight
		weightedConfidence += result.Confidence * weight

		for _, category := range result.Categories {
			if _, dup := seen[category]; dup {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}

		if result.Score >= definitiveScore && result.Confidence >= definitiveScore {
			definitive = true
			score.Score = result.Score
			score.Confidence = result.Confidence
			score = score.WithReason(fmt.Sprintf("provider %s flagged %s (score %.2f)",
				result.Provider, ip, result.Score))
		} else if result.Score > 0 {
			score = score.WithReason(fmt.Sprintf("provider %s reported score %.2f for %s",
				result.Provider, result.Score, ip))
		}
	}

	if !definitive && totalWeight > 0 {
		score.Score = weightedScore / totalWeight
		score.Confidence = weightedConfidence / totalWeight
	}
	score.Level = threat.LevelFromScore(score.Score)

	if len(categories) > 0 {
		score = score.WithMetadata("categories", categories)
	}
	score = score.WithMetadata("providers_queried", len(results))
	return score
}
