package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
)

type removeDenylistHandler struct {
	logger   *logrus.Logger
	denylist *reputation.DenylistProvider
	store    *reputation.EventStore
}

func NewRemoveDenylistHandler(logger *logrus.Logger, denylist *reputation.DenylistProvider, store *reputation.EventStore) Handler {
	return &removeDenylistHandler{
		logger:   logger,
		denylist: denylist,
		store:    store,
	}
}

// Handle @Summary Remove an IP from the denylist
// @Tags Reputation
// @Produce json
// @Param ip path string true "IP address"
// @Success 204 "Entry removed"
// @Router /api/v1/reputation/denylist/{ip} [delete]
func (h *removeDenylistHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ip is required"})
	}

	h.denylist.Remove(ip)
	if h.store != nil {
		if err := h.store.RemoveFromDenylist(c.Context(), ip); err != nil {
			h.logger.WithError(err).WithField("ip", ip).Error("failed to remove persisted denylist entry")
		}
	}

	h.logger.WithField("ip", ip).Info("ip removed from denylist")
	return c.SendStatus(fiber.StatusNoContent)
}
