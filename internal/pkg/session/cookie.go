package session

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SetCookie writes the encoded session token as an HTTP-only cookie.
func (s *Synchronizer) SetCookie(c *fiber.Ctx, token string, claims *Claims) {
	expires := time.Now().Add(s.cfg.TTL)
	if claims != nil && claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie on the client.
func (s *Synchronizer) ClearCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// TokenFromRequest reads the session cookie, falling back to a bearer token.
func (s *Synchronizer) TokenFromRequest(c *fiber.Ctx) string {
	if v := c.Cookies(s.cfg.CookieName); v != "" {
		return v
	}
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
