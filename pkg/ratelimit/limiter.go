package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/apiwarden/apiwarden/pkg/cache"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
)

// Decision is the outcome of a single rate limit check, with the values the
// middleware needs for X-RateLimit-* and Retry-After headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter struct {
	cache        cache.Client
	metrics      *prometheus.Metrics
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
}

type Opts struct {
	TimeProvider func() time.Time
	UuidProvider func() uuid.UUID
}

func NewLimiter(cacheClient cache.Client, metrics *prometheus.Metrics, opts *Opts) *Limiter {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UuidProvider != nil {
		uuidProvider = opts.UuidProvider
	}
	return &Limiter{
		cache:        cacheClient,
		metrics:      metrics,
		timeProvider: timeProvider,
		uuidProvider: uuidProvider,
	}
}

// Allow checks and records one request for key under a sliding window of the
// given width. The window is a Redis sorted set of request IDs scored by unix
// timestamp; expired members are pruned on every allowed request. A rejected
// request is not recorded, so a blocked client does not extend its own
// penalty.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{}, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return Decision{}, fmt.Errorf("rate limit window must be positive, got %s", window)
	}

	rdb := l.cache.Redis()
	now := l.timeProvider()
	windowStart := now.Add(-window).Unix()
	redisKey := "ratelimit:" + key

	currentCount, err := rdb.ZCount(ctx, redisKey,
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count requests in window: %w", err)
	}

	resetAt := now.Add(window)
	if currentCount >= int64(limit) {
		if l.metrics != nil {
			l.metrics.RateLimitExceeded.WithLabelValues("per_actor").Inc()
		}
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: window,
		}, nil
	}

	requestID := fmt.Sprintf("%d:%s", now.Unix(), l.uuidProvider().String())
	pipe := rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.Unix()),
		Member: requestID,
	})
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to record request: %w", err)
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: int64(limit) - currentCount - 1,
		ResetAt:   resetAt,
	}, nil
}
