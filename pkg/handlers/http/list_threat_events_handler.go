package http

import (
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
)

const (
	defaultEventWindowHours = 24
	maxEventRows            = 500
)

type listThreatEventsHandler struct {
	logger *logrus.Logger
	store  *reputation.EventStore
}

func NewListThreatEventsHandler(logger *logrus.Logger, store *reputation.EventStore) Handler {
	return &listThreatEventsHandler{
		logger: logger,
		store:  store,
	}
}

// Handle @Summary Recent threat events for an IP
// @Tags Reputation
// @Produce json
// @Param ip path string true "IP address"
// @Param hours query int false "Lookback window in hours (default 24)"
// @Success 200 {array} reputation.ThreatEvent "Events, newest first"
// @Failure 400 {object} map[string]interface{} "Invalid address"
// @Router /api/v1/reputation/events/{ip} [get]
func (h *listThreatEventsHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	hours := c.QueryInt("hours", defaultEventWindowHours)
	if hours <= 0 {
		hours = defaultEventWindowHours
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	events, err := h.store.RecentByIP(c.Context(), ip, since, maxEventRows)
	if err != nil {
		h.logger.WithError(err).WithField("ip", ip).Error("failed to list threat events")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list threat events"})
	}

	return c.Status(fiber.StatusOK).JSON(events)
}
