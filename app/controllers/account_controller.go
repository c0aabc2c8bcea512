package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/session"
	"github.com/acastrillo/spotbuddy/internal/pkg/usercontext"
)

// AccountController serves the signed-in user's own account.
type AccountController struct {
	accounts repository.AccountRepository
	sessions *session.Synchronizer
	validate *validator.Validate
}

func NewAccountController(accounts repository.AccountRepository, sessions *session.Synchronizer) *AccountController {
	return &AccountController{accounts: accounts, sessions: sessions, validate: validator.New()}
}

// HandleGetSession returns the snapshot embedded in the session token.
func (a *AccountController) HandleGetSession(c *fiber.Ctx) error {
	claims := usercontext.GetClaims(c)
	if claims == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	return c.JSON(newSessionResponse(claims))
}

type profileRequest struct {
	FirstName           *string `json:"firstName" validate:"omitempty,max=100"`
	LastName            *string `json:"lastName" validate:"omitempty,max=100"`
	OnboardingCompleted *bool   `json:"onboardingCompleted"`
	OnboardingSkipped   *bool   `json:"onboardingSkipped"`
}

// HandleUpdateProfile writes display-name and onboarding fields only, then
// re-issues the session so the snapshot shows the change. A disabled account
// is refused before anything is written.
func (a *AccountController) HandleUpdateProfile(c *fiber.Ctx) error {
	id := usercontext.GetAccountID(c)
	var in profileRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if err := a.validate.Struct(in); err != nil {
		return badRequest(c, err.Error())
	}
	update := repository.ProfileUpdate{
		FirstName:           in.FirstName,
		LastName:            in.LastName,
		OnboardingCompleted: in.OnboardingCompleted,
		OnboardingSkipped:   in.OnboardingSkipped,
	}
	if update.IsEmpty() {
		return badRequest(c, "no profile fields supplied")
	}

	current, err := a.accounts.Get(c.UserContext(), id, true)
	if err != nil {
		return storeFailure(c, "read account for profile", err)
	}
	if current.IsDisabled {
		a.sessions.ClearCookie(c)
		return cannotSignIn(c)
	}

	account, err := a.accounts.UpdateProfile(c.UserContext(), id, update)
	if err != nil {
		return storeFailure(c, "update profile", err)
	}

	claims, err := a.sessions.Issue(c.UserContext(), id)
	if errors.Is(err, session.ErrAccountDisabled) {
		a.sessions.ClearCookie(c)
		return cannotSignIn(c)
	}
	if err != nil {
		// The write landed; the cookie catches up at the next refresh.
		return c.JSON(fiber.Map{"firstName": account.FirstName, "lastName": account.LastName})
	}
	if token, err := a.sessions.Encode(c.UserContext(), claims); err == nil {
		a.sessions.SetCookie(c, token, claims)
	}
	return c.JSON(fiber.Map{
		"firstName": account.FirstName,
		"lastName":  account.LastName,
		"snapshot":  claims.Snapshot,
	})
}
