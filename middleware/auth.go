// middleware/auth.go
package middleware

import (
	"strings"

	"hyrebuy-backend/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UserContextKey is the fiber Locals key holding the authenticated account id.
const UserContextKey = "user_id"

// UserContextMiddleware validates the Bearer JWT and attaches the account id to the context.
func UserContextMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or malformed bearer token",
			})
		}

		claims, err := utils.ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			log.Debug("[USER_CTX] token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(UserContextKey, claims.Subject)
		return c.Next()
	}
}

// AccountID returns the account id set by the auth middlewares.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserContextKey).(string)
	return id
}
