package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coverloop/api/pkg/response"
)

// GatewayAuthMiddleware reads the user identity from the X-User-Id header
// set by the gateway's forward auth.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}
