package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type updateConfigHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
}

func NewUpdateConfigHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &updateConfigHandler{
		logger:   logger,
		detector: detector,
	}
}

// Handle @Summary Update detection configuration
// @Description Replaces the detector configuration. An invalid payload is rejected and the prior configuration stays active
// @Tags ThreatDetection
// @Accept json
// @Produce json
// @Param config body threat.DetectorConfig true "New configuration"
// @Success 200 {object} threat.DetectorConfig "Applied configuration"
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /api/v1/threat-detection/config [put]
func (h *updateConfigHandler) Handle(c *fiber.Ctx) error {
	cfg := h.detector.Config()
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.detector.UpdateConfig(cfg); err != nil {
		h.logger.WithError(err).Warn("rejected detector configuration update")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.WithFields(logrus.Fields{
		"threat_threshold":     cfg.ThreatThreshold,
		"confidence_threshold": cfg.ConfidenceThreshold,
	}).Info("detector configuration updated")

	return c.Status(fiber.StatusOK).JSON(h.detector.Config())
}
