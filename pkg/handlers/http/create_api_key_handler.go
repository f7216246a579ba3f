package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/cache"
)

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	TenantID  string     `json:"tenant_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createAPIKeyHandler struct {
	logger *logrus.Logger
	keys   *cache.APIKeyStore
}

func NewCreateAPIKeyHandler(logger *logrus.Logger, keys *cache.APIKeyStore) Handler {
	return &createAPIKeyHandler{
		logger: logger,
		keys:   keys,
	}
}

// Handle @Summary Create an API key
// @Tags APIKeys
// @Accept json
// @Produce json
// @Param key body createAPIKeyRequest true "Key attributes"
// @Success 201 {object} cache.APIKey "Created key"
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /api/v1/api-keys [post]
func (h *createAPIKeyHandler) Handle(c *fiber.Ctx) error {
	var req createAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	key := cache.APIKey{
		ID:        uuid.New().String(),
		Key:       uuid.New().String(),
		Name:      req.Name,
		TenantID:  req.TenantID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if req.ExpiresAt != nil {
		key.ExpiresAt = *req.ExpiresAt
	}

	if err := h.keys.Save(c.Context(), key); err != nil {
		h.logger.WithError(err).Error("failed to store api key")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store api key"})
	}

	h.logger.WithFields(logrus.Fields{
		"key_id": key.ID,
		"tenant": key.TenantID,
	}).Info("api key created")
	return c.Status(fiber.StatusCreated).JSON(key)
}
