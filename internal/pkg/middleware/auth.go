package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/models"
	icuser "github.com/acastrillo/spotbuddy/internal/pkg/usercontext"
)

// AccountReader is used to re-check admin rights against the store.
type AccountReader interface {
	Get(ctx context.Context, id string, consistent bool) (*models.Account, error)
}

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin checks admin rights with a consistent read rather than the
// snapshot, so a revoked or disabled admin loses access immediately.
func RequireAdmin(accounts AccountReader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := icuser.GetAccountID(c)
		if id == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
		}
		account, err := accounts.Get(c.UserContext(), id, true)
		if err != nil {
			log.Warnf("[Admin] Could not verify admin %s: %v", id, err)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		if !account.IsAdmin || account.IsDisabled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		return c.Next()
	}
}

// RequireInternalToken guards collaborator-only endpoints with a shared
// X-Internal-Token. An empty configured token disables them.
func RequireInternalToken(token string) fiber.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "internal_endpoint_disabled"})
		}
		got := extractInternalToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func extractInternalToken(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get("X-Internal-Token"))
}
