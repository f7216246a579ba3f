package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/apiwarden/apiwarden/pkg/cache"
	"github.com/apiwarden/apiwarden/pkg/threat"
)

const (
	profileKeyPattern = "behavior:profile:%s"
	profileTTL        = 7 * 24 * time.Hour
)

// Profile accumulates an actor's long-term request behavior. It is the
// baseline the behavioral signals compare the current request against.
// Profiles are keyed by actor id: the api-key id when authenticated,
// otherwise the source IP.
type Profile struct {
	ActorID             string            `json:"actor_id"`
	FirstSeen           time.Time         `json:"first_seen"`
	LastSeen            time.Time         `json:"last_seen"`
	RequestCount        uint64            `json:"request_count"`
	EndpointCounts      map[string]uint64 `json:"endpoint_counts,omitempty"`
	UserAgentCounts     map[string]uint64 `json:"user_agent_counts,omitempty"`
	HourlyHistogram     [24]uint64        `json:"hourly_histogram"`
	ErrorCount          uint64            `json:"error_count"`
	TotalResponseTimeMs uint64            `json:"total_response_time_ms"`
}

func NewProfile(actorID string, now time.Time) *Profile {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Profile{
		ActorID:         actorID,
		FirstSeen:       now,
		LastSeen:        now,
		EndpointCounts:  make(map[string]uint64),
		UserAgentCounts: make(map[string]uint64),
	}
}

// Observe folds one request into the profile.
func (p *Profile) Observe(req threat.RequestContext) {
	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	p.LastSeen = now
	p.RequestCount++

	if p.EndpointCounts == nil {
		p.EndpointCounts = make(map[string]uint64)
	}
	p.EndpointCounts[req.Endpoint]++

	if req.UserAgent != "" {
		if p.UserAgentCounts == nil {
			p.UserAgentCounts = make(map[string]uint64)
		}
		p.UserAgentCounts[req.UserAgent]++
	}

	p.HourlyHistogram[now.UTC().Hour()]++
}

// ObserveOutcome folds a completed request's outcome into the profile.
func (p *Profile) ObserveOutcome(statusCode int, responseTimeMs int64) {
	if statusCode >= 400 {
		p.ErrorCount++
	}
	if responseTimeMs > 0 {
		p.TotalResponseTimeMs += uint64(responseTimeMs)
	}
}

// RequestsPerMinute is the actor's lifetime average request rate. Profiles
// younger than one minute are rated over a full minute so a first burst
// does not inflate its own baseline.
func (p *Profile) RequestsPerMinute(now time.Time) float64 {
	if p.RequestCount == 0 || p.FirstSeen.IsZero() {
		return 0
	}
	minutes := now.Sub(p.FirstSeen).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	return float64(p.RequestCount) / minutes
}

func (p *Profile) ErrorRate() float64 {
	if p.RequestCount == 0 {
		return 0
	}
	return float64(p.ErrorCount) / float64(p.RequestCount)
}

func (p *Profile) AvgResponseTimeMs() float64 {
	if p.RequestCount == 0 {
		return 0
	}
	return float64(p.TotalResponseTimeMs) / float64(p.RequestCount)
}

func (p *Profile) UniqueEndpoints() int {
	return len(p.EndpointCounts)
}

func (p *Profile) EndpointEntropy() float64 {
	return shannonEntropy(p.EndpointCounts)
}

func (p *Profile) UserAgentEntropy() float64 {
	return shannonEntropy(p.UserAgentCounts)
}

func (p *Profile) HourlyEntropy() float64 {
	return histogramEntropy(p.HourlyHistogram[:])
}

// ProfileStore persists behavioral profiles keyed by actor id. Load returns
// (nil, nil) when no profile exists yet.
type ProfileStore interface {
	Load(ctx context.Context, actorID string) (*Profile, error)
	Save(ctx context.Context, profile *Profile) error
	Ping(ctx context.Context) error
}

type redisProfileStore struct {
	cache cache.Client
}

// NewRedisProfileStore stores profiles as JSON in Redis with a rolling
// 7-day TTL, so inactive actors age out on their own.
func NewRedisProfileStore(c cache.Client) ProfileStore {
	return &redisProfileStore{cache: c}
}

func (s *redisProfileStore) Load(ctx context.Context, actorID string) (*Profile, error) {
	data, err := s.cache.Get(ctx, fmt.Sprintf(profileKeyPattern, actorID))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to decode behavior profile: %w", err)
	}
	return &profile, nil
}

func (s *redisProfileStore) Save(ctx context.Context, profile *Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode behavior profile: %w", err)
	}
	key := fmt.Sprintf(profileKeyPattern, profile.ActorID)
	if err := s.cache.Set(ctx, key, string(data), profileTTL); err != nil {
		return fmt.Errorf("failed to save behavior profile: %w", err)
	}
	return nil
}

func (s *redisProfileStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

type memoryProfileStore struct {
	entries *cache.TTLMap
}

// NewMemoryProfileStore keeps profiles in process memory with the same TTL
// as the Redis store. Used by tests and single-node deployments without
// Redis.
func NewMemoryProfileStore() ProfileStore {
	return &memoryProfileStore{entries: cache.NewTTLMap(profileTTL)}
}

func (s *memoryProfileStore) Load(ctx context.Context, actorID string) (*Profile, error) {
	value, ok := s.entries.Get(actorID)
	if !ok {
		return nil, nil
	}
	profile, ok := value.(*Profile)
	if !ok {
		return nil, nil
	}
	return profile, nil
}

func (s *memoryProfileStore) Save(ctx context.Context, profile *Profile) error {
	s.entries.Set(profile.ActorID, profile)
	return nil
}

func (s *memoryProfileStore) Ping(ctx context.Context) error {
	return nil
}
