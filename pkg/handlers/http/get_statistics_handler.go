package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type getStatisticsHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
}

func NewGetStatisticsHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &getStatisticsHandler{
		logger:   logger,
		detector: detector,
	}
}

// Handle @Summary Detection statistics
// @Description Returns cumulative analysis counters, optionally with per-analyzer health
// @Tags ThreatDetection
// @Produce json
// @Param include_health query bool false "Include per-analyzer health probes"
// @Success 200 {object} map[string]interface{} "Statistics"
// @Router /api/v1/threat-detection/statistics [get]
func (h *getStatisticsHandler) Handle(c *fiber.Ctx) error {
	response := fiber.Map{
		"statistics": h.detector.Statistics(),
	}
	if c.QueryBool("include_health") {
		response["analyzers"] = h.detector.HealthCheck(c.Context())
	}
	return c.Status(fiber.StatusOK).JSON(response)
}
