package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/common"
	"github.com/apiwarden/apiwarden/pkg/ratelimit"
)

type rateLimitMiddleware struct {
	logger  *logrus.Logger
	limiter *ratelimit.Limiter
	limit   int
	window  time.Duration
}

func NewRateLimitMiddleware(logger *logrus.Logger, limiter *ratelimit.Limiter, limit int, windowSeconds int) Middleware {
	return &rateLimitMiddleware{
		logger:  logger,
		limiter: limiter,
		limit:   limit,
		window:  time.Duration(windowSeconds) * time.Second,
	}
}

// Middleware applies the sliding window per actor: the authenticated API key
// when present, the client IP otherwise. Redis outages fail open so a cache
// incident does not take the API down with it.
func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		actor := clientIP(ctx)
		if keyID, ok := ctx.Locals(common.ApiKeyIdContextKey).(string); ok && keyID != "" {
			actor = keyID
		}

		decision, err := m.limiter.Allow(ctx.Context(), "actor:"+actor, m.limit, m.window)
		if err != nil {
			m.logger.WithError(err).Error("rate limit check failed, allowing request")
			return ctx.Next()
		}

		ctx.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		ctx.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		ctx.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			ctx.Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}

		return ctx.Next()
	}
}
