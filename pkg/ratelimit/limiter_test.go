package ratelimit_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwarden/apiwarden/pkg/cache"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/ratelimit"
)

func TestAllowRecordsRequest(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)

	testKey := "ratelimit:actor:key-7"
	window := time.Minute
	fixedTime := time.Unix(1740730536, 0)
	windowStart := fixedTime.Add(-window).Unix()
	uid := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	mock.ExpectZCount(testKey,
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(fixedTime.Unix(), 10)).SetVal(5)
	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(testKey, "0", strconv.FormatInt(windowStart, 10)).SetVal(1)
	mock.ExpectZAdd(testKey, &redis.Z{
		Score:  float64(fixedTime.Unix()),
		Member: strconv.FormatInt(fixedTime.Unix(), 10) + ":" + uid.String(),
	}).SetVal(1)
	mock.ExpectExpire(testKey, window).SetVal(true)
	mock.ExpectTxPipelineExec()

	limiter := ratelimit.NewLimiter(cache.NewClientWithRedis(redisClient), prometheus.NewMetrics(), &ratelimit.Opts{
		TimeProvider: func() time.Time { return fixedTime },
		UuidProvider: func() uuid.UUID { return uid },
	})

	decision, err := limiter.Allow(context.Background(), "actor:key-7", 10, window)
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.Equal(t, 10, decision.Limit)
	assert.Equal(t, int64(4), decision.Remaining)
	assert.Equal(t, fixedTime.Add(window), decision.ResetAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowRejectsWhenWindowFull(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()

	testKey := "ratelimit:actor:203.0.113.5"
	window := time.Minute
	fixedTime := time.Unix(1740730536, 0)
	windowStart := fixedTime.Add(-window).Unix()

	mock.ExpectZCount(testKey,
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(fixedTime.Unix(), 10)).SetVal(10)

	limiter := ratelimit.NewLimiter(cache.NewClientWithRedis(redisClient), prometheus.NewMetrics(), &ratelimit.Opts{
		TimeProvider: func() time.Time { return fixedTime },
	})

	decision, err := limiter.Allow(context.Background(), "actor:203.0.113.5", 10, window)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
	assert.Equal(t, window, decision.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet(), "a rejected request must not be recorded")
}

func TestAllowValidatesArguments(t *testing.T) {
	redisClient, _ := redismock.NewClientMock()
	limiter := ratelimit.NewLimiter(cache.NewClientWithRedis(redisClient), prometheus.NewMetrics(), nil)

	_, err := limiter.Allow(context.Background(), "k", 0, time.Minute)
	assert.Error(t, err)

	_, err = limiter.Allow(context.Background(), "k", 10, 0)
	assert.Error(t, err)
}

func TestAllowSurfacesRedisErrors(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	fixedTime := time.Unix(1740730536, 0)
	windowStart := fixedTime.Add(-time.Minute).Unix()

	mock.ExpectZCount("ratelimit:k",
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(fixedTime.Unix(), 10)).SetErr(assert.AnError)

	limiter := ratelimit.NewLimiter(cache.NewClientWithRedis(redisClient), prometheus.NewMetrics(), &ratelimit.Opts{
		TimeProvider: func() time.Time { return fixedTime },
	})

	_, err := limiter.Allow(context.Background(), "k", 10, time.Minute)
	assert.Error(t, err)
}
