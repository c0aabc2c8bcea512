package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/internal/pkg/session"
	"github.com/acastrillo/spotbuddy/internal/pkg/usercontext"
)

// UserContextMiddleware verifies the session token on every request and sets
// up the user context. A missing or invalid token leaves the request
// anonymous; the snapshot is not re-read here.
func UserContextMiddleware(sync *session.Synchronizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := sync.TokenFromRequest(c)
		if token == "" {
			usercontext.SetAnonymous(c)
			return c.Next()
		}
		claims, err := sync.Decode(token)
		if err != nil {
			usercontext.SetAnonymous(c)
			return c.Next()
		}
		usercontext.Set(c, claims)
		return c.Next()
	}
}
