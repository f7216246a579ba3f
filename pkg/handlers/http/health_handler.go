package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

type healthHandler struct {
	logger   *logrus.Logger
	detector *threat.Detector
}

func NewHealthHandler(logger *logrus.Logger, detector *threat.Detector) Handler {
	return &healthHandler{
		logger:   logger,
		detector: detector,
	}
}

// Handle @Summary Analyzer health
// @Description Probes every analyzer's dependencies. Returns 503 when any enabled analyzer is unhealthy
// @Tags ThreatDetection
// @Produce json
// @Success 200 {object} map[string]interface{} "All analyzers healthy"
// @Failure 503 {object} map[string]interface{} "One or more analyzers unhealthy"
// @Router /api/v1/threat-detection/health [get]
func (h *healthHandler) Handle(c *fiber.Ctx) error {
	statuses := h.detector.HealthCheck(c.Context())

	healthy := true
	for _, status := range statuses {
		if status.Enabled && !status.Healthy {
			healthy = false
			break
		}
	}

	code := fiber.StatusOK
	if !healthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"healthy":   healthy,
		"analyzers": statuses,
	})
}
