// middleware/sse_auth.go
package middleware

import (
	"strings"

	"hyrebuy-backend/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SSEAuthMiddleware authenticates EventSource requests, which cannot set headers, from
// the `token` query parameter.
//
// Usage:
//
//	app.Get("/rewards/stream", middleware.SSEAuthMiddleware(secret, log), streamHandler)
func SSEAuthMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		if accessToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token in query",
			})
		}

		claims, err := utils.ParseToken(secret, accessToken)
		if err != nil {
			log.Debug("[SSE_AUTH] token rejected", zap.String("ip", c.IP()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(UserContextKey, claims.Subject)
		return c.Next()
	}
}
