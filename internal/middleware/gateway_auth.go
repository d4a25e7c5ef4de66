package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/assetgen/api/internal/auth"
	"github.com/assetgen/api/pkg/response"
)

// GatewayAuthMiddleware trusts the X-User-* headers set by Traefik ForwardAuth
// after it called /auth/verify. Only use it when the service is not reachable directly.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		})
		return c.Next()
	}
}
