package middleware

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/common"
	"github.com/apiwarden/apiwarden/pkg/threat"
)

// OutcomeRecorder receives the response status once a request completes, so
// behavioral baselines learn error rates without double counting.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, actorID string, statusCode int, responseTimeMs int64)
}

type threatMiddleware struct {
	logger     *logrus.Logger
	detector   *threat.Detector
	outcomes   OutcomeRecorder
	history    *requestHistory
	failClosed bool
	random     func() float64
}

type ThreatOpts struct {
	// Random overrides the throttle draw, used by tests.
	Random func() float64
}

func NewThreatMiddleware(
	logger *logrus.Logger,
	detector *threat.Detector,
	outcomes OutcomeRecorder,
	failClosed bool,
	opts *ThreatOpts,
) Middleware {
	random := rand.Float64
	if opts != nil && opts.Random != nil {
		random = opts.Random
	}
	return &threatMiddleware{
		logger:     logger,
		detector:   detector,
		outcomes:   outcomes,
		history:    newRequestHistory(historyMaxEntries, historyHorizon),
		failClosed: failClosed,
		random:     random,
	}
}

func (m *threatMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		req := m.buildRequestContext(ctx)
		actorID := req.ActorID()
		req = req.WithPreviousRequests(m.history.snapshot(actorID))

		result, err := m.detector.Analyze(ctx.Context(), req)
		if err != nil {
			m.logger.WithError(err).
				WithField("correlation_id", req.CorrelationID).
				Error("threat analysis failed")
			if m.failClosed {
				return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "request could not be evaluated"})
			}
			return ctx.Next()
		}

		ctx.Locals(common.ThreatResultKey, result)

		// Denied requests still enter the history window: an actor under a
		// block keeps feeding the rate signal instead of resetting it.
		for _, action := range result.Actions {
			switch action.Type {
			case threat.ActionBlock:
				m.history.record(actorID, historyEntry(req, fiber.StatusForbidden, 0))
				ctx.Set("Retry-After", strconv.Itoa(int(action.BlockDuration.Seconds())))
				return ctx.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error":          "request blocked",
					"correlation_id": result.CorrelationID.String(),
				})
			case threat.ActionThrottle:
				if m.random() < action.ThrottleFactor {
					m.history.record(actorID, historyEntry(req, fiber.StatusTooManyRequests, 0))
					ctx.Set("Retry-After", "1")
					return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
						"error":          "request throttled",
						"correlation_id": result.CorrelationID.String(),
					})
				}
			}
		}

		start := time.Now()
		err = ctx.Next()

		status := ctx.Response().StatusCode()
		elapsed := time.Since(start).Milliseconds()
		m.history.record(actorID, historyEntry(req, status, elapsed))
		if m.outcomes != nil {
			go m.outcomes.RecordOutcome(context.Background(), actorID, status, elapsed)
		}

		return err
	}
}

func historyEntry(req threat.RequestContext, statusCode int, responseTimeMs int64) threat.PreviousRequest {
	return threat.PreviousRequest{
		Timestamp:      req.Timestamp,
		Endpoint:       req.Endpoint,
		StatusCode:     statusCode,
		ResponseTimeMs: responseTimeMs,
	}
}

func (m *threatMiddleware) buildRequestContext(ctx *fiber.Ctx) threat.RequestContext {
	req := threat.NewRequestContext(clientIP(ctx), ctx.Path(), ctx.Method()).
		WithUserAgent(ctx.Get(fiber.HeaderUserAgent))

	if keyID, ok := ctx.Locals(common.ApiKeyIdContextKey).(string); ok && keyID != "" {
		req = req.WithAPIKeyID(keyID)
	}
	if tenantID, ok := ctx.Locals(common.TenantContextKey).(string); ok && tenantID != "" {
		req = req.WithTenantID(tenantID)
	}

	for _, header := range []string{
		fiber.HeaderAccept,
		fiber.HeaderAcceptLanguage,
		fiber.HeaderAcceptEncoding,
		fiber.HeaderContentType,
	} {
		if value := ctx.Get(header); value != "" {
			req = req.WithHeader(header, value)
		}
	}

	return req
}

// clientIP resolves the originating address, preferring proxy headers in the
// order the edge sets them and falling back to the socket peer.
func clientIP(ctx *fiber.Ctx) string {
	if forwarded := ctx.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.Split(forwarded, ",")[0]
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := ctx.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if cfIP := ctx.Get("CF-Connecting-IP"); cfIP != "" {
		return cfIP
	}
	return ctx.IP()
}
