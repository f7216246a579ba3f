package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type getConfigHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
}

func NewGetConfigHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &getConfigHandler{
		logger:   logger,
		detector: detector,
	}
}

// Handle @Summary Retrieve detection configuration
// @Description Returns the active detector configuration snapshot
// @Tags ThreatDetection
// @Produce json
// @Success 200 {object} threat.DetectorConfig "Active configuration"
// @Router /api/v1/threat-detection/config [get]
func (h *getConfigHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.detector.Config())
}
