package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/session"
)

// UserContext represents the signed-in account for a request, as the
// session snapshot last saw it.
type UserContext struct {
	AccountID  string      `json:"account_id"`
	Email      string      `json:"email"`
	IsLoggedIn bool        `json:"is_logged_in"`
	IsAdmin    bool        `json:"is_admin"`
	Tier       models.Tier `json:"tier"`
	Stale      bool        `json:"stale"`
}

// FromClaims builds the context for a verified session token.
func FromClaims(claims *session.Claims) UserContext {
	return UserContext{
		AccountID:  claims.Subject,
		Email:      claims.Snapshot.Email,
		IsLoggedIn: true,
		IsAdmin:    claims.Snapshot.IsAdmin,
		Tier:       claims.Snapshot.Tier,
		Stale:      claims.Stale,
	}
}

// Set stores the context and its verified claims on the request.
func Set(c *fiber.Ctx, claims *session.Claims) {
	uc := FromClaims(claims)
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyClaims, claims)
	c.Locals(KeyFromProtected, true)
	c.Locals(KeyAccountID, uc.AccountID)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
}

// SetAnonymous marks the request as signed out.
func SetAnonymous(c *fiber.Ctx) {
	c.Locals(KeyUserContext, UserContext{})
	c.Locals(KeyFromProtected, false)
	c.Locals(KeyIsAdmin, false)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if uc, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return uc
	}
	return UserContext{}
}

// GetClaims returns the verified session claims, or nil when signed out.
func GetClaims(c *fiber.Ctx) *session.Claims {
	claims, _ := c.Locals(KeyClaims).(*session.Claims)
	return claims
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetAccountID returns the current account id, or "" if not logged in
func GetAccountID(c *fiber.Ctx) string {
	return GetUserContext(c).AccountID
}
