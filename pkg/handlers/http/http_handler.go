package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport struct {
	// Detection engine
	GetStatusHandler     Handler
	GetConfigHandler     Handler
	UpdateConfigHandler  Handler
	GetStatisticsHandler Handler
	HealthHandler        Handler
	EnableHandler        Handler
	DisableHandler       Handler

	// Reputation denylist
	AddDenylistHandler    Handler
	RemoveDenylistHandler Handler

	// Threat events
	ListThreatEventsHandler Handler

	// API keys
	CreateAPIKeyHandler Handler
	RevokeAPIKeyHandler Handler
}
