package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/cache"
	"github.com/apiwarden/apiwarden/pkg/common"
)

const apiKeyHeader = "X-API-Key"

type apiKeyAuthMiddleware struct {
	logger *logrus.Logger
	keys   *cache.APIKeyStore
}

func NewAPIKeyAuthMiddleware(logger *logrus.Logger, keys *cache.APIKeyStore) Middleware {
	return &apiKeyAuthMiddleware{
		logger: logger,
		keys:   keys,
	}
}

func (m *apiKeyAuthMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		apiKey := ctx.Get(apiKeyHeader)
		if apiKey == "" {
			m.logger.Debug("no api key provided")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "API key required"})
		}

		key, err := m.keys.Find(ctx.Context(), apiKey)
		if err != nil {
			m.logger.WithError(err).Error("error retrieving api key")
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to validate API key"})
		}
		if key == nil || !key.IsValid() {
			m.logger.Debug("invalid api key")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid API key"})
		}

		ctx.Locals(common.ApiKeyContextKey, apiKey)
		ctx.Locals(common.ApiKeyIdContextKey, key.ID)
		ctx.Locals(common.TenantContextKey, key.TenantID)

		return ctx.Next()
	}
}
