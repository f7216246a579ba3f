package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
	"github.com/apiwarden/apiwarden/pkg/version"
)

type getStatusHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
}

func NewGetStatusHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &getStatusHandler{
		logger:   logger,
		detector: detector,
	}
}

// Handle @Summary Engine status
// @Description Returns whether detection is enabled, the active thresholds, and analyzer counts
// @Tags ThreatDetection
// @Produce json
// @Success 200 {object} map[string]interface{} "Engine status"
// @Router /api/v1/threat-detection/status [get]
func (h *getStatusHandler) Handle(c *fiber.Ctx) error {
	cfg := h.detector.Config()
	stats := h.detector.Statistics()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"version":               version.Version,
		"enabled":               cfg.Enabled,
		"auto_response_enabled": cfg.AutoResponseEnabled,
		"threat_threshold":      cfg.ThreatThreshold,
		"confidence_threshold":  cfg.ConfidenceThreshold,
		"analyzers_count":       stats.AnalyzersCount,
		"enabled_analyzers":     stats.EnabledAnalyzers,
	})
}
