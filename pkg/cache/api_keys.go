package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	apiKeyPattern  = "apikey:%s"
	apiKeyTTL      = 5 * time.Minute
	apiKeyLocalTTL = time.Minute
)

type APIKey struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	TenantID  string    `json:"tenant_id"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (k APIKey) IsValid() bool {
	return k.Active && (k.ExpiresAt.IsZero() || k.ExpiresAt.After(time.Now()))
}

// APIKeyStore resolves API keys through a small in-process TTL map backed by
// Redis, so the hot path rarely pays a network round trip.
type APIKeyStore struct {
	client Client
	local  *TTLMap
}

func NewAPIKeyStore(client Client) *APIKeyStore {
	return &APIKeyStore{
		client: client,
		local:  NewTTLMap(apiKeyLocalTTL),
	}
}

// Find returns the key record, or (nil, nil) when the key is unknown.
func (s *APIKeyStore) Find(ctx context.Context, apiKey string) (*APIKey, error) {
	cacheKey := fmt.Sprintf(apiKeyPattern, apiKey)

	if cached, ok := s.local.Get(cacheKey); ok {
		if key, ok := cached.(*APIKey); ok {
			return key, nil
		}
	}

	data, err := s.client.Get(ctx, cacheKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	var key APIKey
	if err := json.Unmarshal([]byte(data), &key); err != nil {
		return nil, fmt.Errorf("failed to decode api key record: %w", err)
	}

	s.local.Set(cacheKey, &key)
	return &key, nil
}

func (s *APIKeyStore) Save(ctx context.Context, key APIKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode api key record: %w", err)
	}
	cacheKey := fmt.Sprintf(apiKeyPattern, key.Key)
	if err := s.client.Set(ctx, cacheKey, string(data), apiKeyTTL); err != nil {
		return err
	}
	s.local.Delete(cacheKey)
	return nil
}

func (s *APIKeyStore) Invalidate(ctx context.Context, apiKey string) error {
	cacheKey := fmt.Sprintf(apiKeyPattern, apiKey)
	s.local.Delete(cacheKey)
	return s.client.Delete(ctx, cacheKey)
}
