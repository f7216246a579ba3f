package middleware

import "github.com/gofiber/fiber/v2"

type Middleware interface {
	Middleware() fiber.Handler
}

// Transport groups the middlewares the servers mount, in the order the
// public API applies them: recover, auth, rate limit, threat detection.
type Transport struct {
	PanicRecoverMiddleware Middleware
	AdminAuthMiddleware    Middleware
	APIKeyAuthMiddleware   Middleware
	RateLimitMiddleware    Middleware
	ThreatMiddleware       Middleware
}
