package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Result is one provider's verdict for an IP.
type Result struct {
	Provider   string    `json:"provider"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Categories []string  `json:"categories,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Provider is one source of IP reputation. Implementations must be safe for
// concurrent use. Available reports whether the provider is currently worth
// querying; an unavailable provider is skipped, not failed.
type Provider interface {
	CheckReputation(ctx context.Context, ip string) (Result, error)
	ProviderName() string
	Available() bool
}

// DenylistProvider is an exact-IP table. A listed IP gets a near-certain
// critical verdict; an unlisted one a clean, fully confident verdict.
type DenylistProvider struct {
	mu  sync.RWMutex
	ips map[string]string
}

func NewDenylistProvider(ips []string) *DenylistProvider {
	p := &DenylistProvider{ips: make(map[string]string, len(ips))}
	for _, ip := range ips {
		p.ips[ip] = "configured"
	}
	return p
}

func (p *DenylistProvider) ProviderName() string {
	return "denylist"
}

func (p *DenylistProvider) Available() bool {
	return true
}

func (p *DenylistProvider) Add(ip, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ips[ip] = reason
}

func (p *DenylistProvider) Remove(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ips, ip)
}

// LoadFromStore merges the operator-managed denylist from Postgres into the
// in-memory table.
func (p *DenylistProvider) LoadFromStore(ctx context.Context, store *EventStore) error {
	entries, err := store.Denylist(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range entries {
		p.ips[entry.IPAddress] = entry.Reason
	}
	return nil
}

func (p *DenylistProvider) CheckReputation(ctx context.Context, ip string) (Result, error) {
	p.mu.RLock()
	_, listed := p.ips[ip]
	p.mu.RUnlock()

	result := Result{
		Provider:   p.ProviderName(),
		Confidence: 1.0,
		CheckedAt:  time.Now().UTC(),
	}
	if listed {
		result.Score = 0.95
		result.Categories = []string{"denylist"}
	}
	return result, nil
}

// Per-level contribution of one recorded event to the local score.
var localLevelWeights = map[string]float64{
	"critical": 0.3,
	"high":     0.2,
	"medium":   0.1,
	"low":      0.05,
}

// LocalProvider derives reputation from the threat events this service has
// itself recorded for the IP. An IP with no history is neutral.
type LocalProvider struct {
	store   *EventStore
	window  time.Duration
	maxRows int
}

func NewLocalProvider(store *EventStore) *LocalProvider {
	return &LocalProvider{
		store:   store,
		window:  30 * 24 * time.Hour,
		maxRows: 100,
	}
}

func (p *LocalProvider) ProviderName() string {
	return "local_history"
}

func (p *LocalProvider) Available() bool {
	return p.store != nil
}

func (p *LocalProvider) CheckReputation(ctx context.Context, ip string) (Result, error) {
	since := time.Now().Add(-p.window)
	events, err := p.store.RecentByIP(ctx, ip, since, p.maxRows)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Provider:  p.ProviderName(),
		CheckedAt: time.Now().UTC(),
	}
	if len(events) == 0 {
		result.Confidence = 0.3
		return result, nil
	}

	score := 0.0
	for _, event := range events {
		score += localLevelWeights[event.Level]
	}
	if score > 1 {
		score = 1
	}
	confidence := float64(len(events)) / 5
	if confidence > 1 {
		confidence = 1
	}

	result.Score = score
	result.Confidence = confidence
	result.Categories = []string{"local_history"}
	return result, nil
}

// HTTPProviderConfig configures an external reputation API. The URL must
// contain one %s verb for the IP.
type HTTPProviderConfig struct {
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api_key"`
	HeaderName  string `mapstructure:"header_name"`
	MaxFailures uint32 `mapstructure:"max_failures"`
	TimeoutSecs int    `mapstructure:"timeout_seconds"`
}

func (c HTTPProviderConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("provider url is required")
	}
	return nil
}

// HTTPProvider queries an external reputation API, guarded by a circuit
// breaker so a dead upstream stops being queried until it recovers.
type HTTPProvider struct {
	config  HTTPProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPProvider(config HTTPProviderConfig) (*HTTPProvider, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.TimeoutSecs <= 0 {
		config.TimeoutSecs = 30
	}
	if config.HeaderName == "" {
		config.HeaderName = "X-Api-Key"
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 5,
		Timeout:     time.Duration(config.TimeoutSecs) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}

	return &HTTPProvider{
		config:  config,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

func (p *HTTPProvider) ProviderName() string {
	return p.config.Name
}

func (p *HTTPProvider) Available() bool {
	return p.breaker.State() != gobreaker.StateOpen
}

type httpProviderResponse struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories"`
}

func (p *HTTPProvider) CheckReputation(ctx context.Context, ip string) (Result, error) {
	value, err := p.breaker.Execute(func() (interface{}, error) {
		return p.query(ctx, ip)
	})
	if err != nil {
		return Result{}, fmt.Errorf("breaker (%s): %w", p.config.Name, err)
	}
	resp, ok := value.(httpProviderResponse)
	if !ok {
		return Result{}, fmt.Errorf("breaker (%s): unexpected response type", p.config.Name)
	}

	return Result{
		Provider:   p.config.Name,
		Score:      resp.Score,
		Confidence: resp.Confidence,
		Categories: resp.Categories,
		CheckedAt:  time.Now().UTC(),
	}, nil
}

func (p *HTTPProvider) query(ctx context.Context, ip string) (httpProviderResponse, error) {
	url := fmt.Sprintf(p.config.URL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return httpProviderResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set(p.config.HeaderName, p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return httpProviderResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return httpProviderResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var decoded httpProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return httpProviderResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded, nil
}
