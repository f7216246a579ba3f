package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/cache"
)

type revokeAPIKeyHandler struct {
	logger *logrus.Logger
	keys   *cache.APIKeyStore
}

func NewRevokeAPIKeyHandler(logger *logrus.Logger, keys *cache.APIKeyStore) Handler {
	return &revokeAPIKeyHandler{
		logger: logger,
		keys:   keys,
	}
}

// Handle @Summary Revoke an API key
// @Tags APIKeys
// @Produce json
// @Param key path string true "API key"
// @Success 204 "Key revoked"
// @Router /api/v1/api-keys/{key} [delete]
func (h *revokeAPIKeyHandler) Handle(c *fiber.Ctx) error {
	apiKey := c.Params("key")
	if apiKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key is required"})
	}

	if err := h.keys.Invalidate(c.Context(), apiKey); err != nil {
		h.logger.WithError(err).Error("failed to revoke api key")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to revoke api key"})
	}

	h.logger.Info("api key revoked")
	return c.SendStatus(fiber.StatusNoContent)
}
