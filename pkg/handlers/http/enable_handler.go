package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type enableHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
	enable   bool
}

func NewEnableHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &enableHandler{logger: logger, detector: detector, enable: true}
}

func NewDisableHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &enableHandler{logger: logger, detector: detector, enable: false}
}

// Handle @Summary Enable or disable detection
// @Description Toggles the engine. While disabled every request passes with a neutral score
// @Tags ThreatDetection
// @Produce json
// @Success 200 {object} map[string]interface{} "New state"
// @Router /api/v1/threat-detection/enable [post]
func (h *enableHandler) Handle(c *fiber.Ctx) error {
	h.detector.SetEnabled(h.enable)
	h.logger.WithField("enabled", h.enable).Info("threat detection toggled")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"enabled": h.enable})
}
