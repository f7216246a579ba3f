package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/common"
	"github.com/apiwarden/apiwarden/pkg/infra/jwt"
)

// adminAuthMiddleware guards the detection admin surface with bearer JWTs.
// Viewer tokens can read state; mutating the detector, denylist, or API
// keys requires the admin role. The token subject lands in locals so
// handlers can attribute changes to an operator.
type adminAuthMiddleware struct {
	logger     *logrus.Logger
	jwtManager jwt.Manager
}

func NewAdminAuthMiddleware(
	logger *logrus.Logger,
	jwtManager jwt.Manager,
) Middleware {
	return &adminAuthMiddleware{
		logger:     logger,
		jwtManager: jwtManager,
	}
}

func (m *adminAuthMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		token, ok := bearerToken(ctx.Get(fiber.HeaderAuthorization))
		if !ok {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer token required"})
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			m.logger.WithError(err).WithField("path", ctx.Path()).Debug("admin token rejected")
			if errors.Is(err, jwt.ErrExpiredToken) {
				return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token expired"})
			}
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		if mutatingMethod(ctx.Method()) && claims.Role != jwt.RoleAdmin {
			m.logger.WithFields(logrus.Fields{
				"subject": claims.Subject,
				"role":    claims.Role,
				"path":    ctx.Path(),
			}).Warn("admin write denied for non-admin token")
			return ctx.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}

		ctx.Locals(common.AdminSubjectKey, claims.Subject)
		return ctx.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func mutatingMethod(method string) bool {
	switch method {
	case fiber.MethodGet, fiber.MethodHead:
		return false
	default:
		return true
	}
}
