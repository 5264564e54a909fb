package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wsiviewer/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers set by the
// gateway's ForwardAuth and populates Fiber context locals. Authentication
// itself happens at the gateway; this service only consumes the result.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		c.Locals("name", c.Get("X-User-Name"))

		return c.Next()
	}
}

// GetUserID returns the gateway-provided user ID, or "" when running
// without a gateway.
func GetUserID(c *fiber.Ctx) string {
	if v, ok := c.Locals("userId").(string); ok {
		return v
	}
	return ""
}
