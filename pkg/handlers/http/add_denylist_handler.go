package http

import (
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
)

type addDenylistRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

type addDenylistHandler struct {
	logger   *logrus.Logger
	denylist *reputation.DenylistProvider
	store    *reputation.EventStore
}

func NewAddDenylistHandler(logger *logrus.Logger, denylist *reputation.DenylistProvider, store *reputation.EventStore) Handler {
	return &addDenylistHandler{
		logger:   logger,
		denylist: denylist,
		store:    store,
	}
}

// Handle @Summary Add an IP to the denylist
// @Description Adds the address to the in-memory denylist and persists it for restarts
// @Tags Reputation
// @Accept json
// @Produce json
// @Param entry body addDenylistRequest true "Address and reason"
// @Success 201 {object} map[string]interface{} "Entry added"
// @Failure 400 {object} map[string]interface{} "Invalid address"
// @Router /api/v1/reputation/denylist [post]
func (h *addDenylistHandler) Handle(c *fiber.Ctx) error {
	var req addDenylistRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if net.ParseIP(req.IP) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	h.denylist.Add(req.IP, req.Reason)
	if h.store != nil {
		if err := h.store.AddToDenylist(c.Context(), req.IP, req.Reason); err != nil {
			h.logger.WithError(err).WithField("ip", req.IP).Error("failed to persist denylist entry")
		}
	}

	h.logger.WithField("ip", req.IP).Info("ip added to denylist")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ip": req.IP})
}
