package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/identity"
	"github.com/acastrillo/spotbuddy/internal/pkg/oauth"
	"github.com/acastrillo/spotbuddy/internal/pkg/session"
	"github.com/acastrillo/spotbuddy/internal/pkg/usercontext"
)

// AuthController signs users in and keeps their session snapshot fresh.
type AuthController struct {
	resolver        *identity.Resolver
	sessions        *session.Synchronizer
	successRedirect string
}

func NewAuthController(resolver *identity.Resolver, sessions *session.Synchronizer, successRedirect string) *AuthController {
	if successRedirect == "" {
		successRedirect = "/"
	}
	return &AuthController{resolver: resolver, sessions: sessions, successRedirect: successRedirect}
}

type signedIn struct {
	resolution *identity.Resolution
	claims     *session.Claims
	token      string
}

// signIn resolves the assertion to an account and issues its first snapshot.
func (a *AuthController) signIn(ctx context.Context, in identity.Assertion) (*signedIn, error) {
	res, err := a.resolver.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	claims, err := a.sessions.Issue(ctx, res.AccountID)
	if err != nil {
		return nil, err
	}
	token, err := a.sessions.Encode(ctx, claims)
	if err != nil {
		return nil, err
	}
	return &signedIn{resolution: res, claims: claims, token: token}, nil
}

// signInFailed writes the response for a failed sign-in.
func (a *AuthController) signInFailed(c *fiber.Ctx, provider string, err error) error {
	switch {
	case errors.Is(err, identity.ErrEmailNotVerified),
		errors.Is(err, identity.ErrValidation),
		errors.Is(err, session.ErrAccountDisabled):
		log.Infof("[Auth] Sign-in refused for provider %q: %v", provider, err)
		return cannotSignIn(c)
	case errors.Is(err, session.ErrTokenTooLarge):
		log.Errorf("[Auth] Session token over budget: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_unavailable"})
	case errors.Is(err, repository.ErrNotFound):
		// Adopted a race winner whose record is not readable yet.
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable"})
	default:
		return storeFailure(c, "sign in", err)
	}
}

// HandleOAuthBegin redirects to the provider named in the path.
func (a *AuthController) HandleOAuthBegin(c *fiber.Ctx) error {
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow and logs the user in
func (a *AuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[Auth] OAuth completion failed: %v", err)
		return cannotSignIn(c)
	}
	out, err := a.signIn(c.UserContext(), oauth.AssertionFromUser(u))
	if err != nil {
		return a.signInFailed(c, u.Provider, err)
	}
	a.sessions.SetCookie(c, out.token, out.claims)
	_ = gothfiber.Logout(c)
	return c.Redirect(a.successRedirect, fiber.StatusSeeOther)
}

type assertionResponse struct {
	AccountID string           `json:"accountId"`
	Created   bool             `json:"created"`
	Token     string           `json:"token"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// HandleAssertion signs in with an assertion vouched for by the credential
// collaborator.
func (a *AuthController) HandleAssertion(c *fiber.Ctx) error {
	var in identity.Assertion
	if err := c.BodyParser(&in); err != nil {
		return cannotSignIn(c)
	}
	out, err := a.signIn(c.UserContext(), in)
	if err != nil {
		return a.signInFailed(c, in.Provider, err)
	}
	a.sessions.SetCookie(c, out.token, out.claims)
	return c.JSON(assertionResponse{
		AccountID: out.resolution.AccountID,
		Created:   out.resolution.Created,
		Token:     out.token,
		Snapshot:  out.claims.Snapshot,
	})
}

type sessionResponse struct {
	Snapshot   session.Snapshot `json:"snapshot"`
	Stale      bool             `json:"stale"`
	SnapshotAt int64            `json:"snapshotAt"`
	ExpiresAt  int64            `json:"expiresAt"`
}

func newSessionResponse(claims *session.Claims) sessionResponse {
	out := sessionResponse{Snapshot: claims.Snapshot, Stale: claims.Stale, SnapshotAt: claims.SnapshotTime().Unix()}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out
}

// HandleSessionRefresh re-reads the account behind the session. A disabled
// account loses its cookie; other read failures keep the old snapshot.
func (a *AuthController) HandleSessionRefresh(c *fiber.Ctx) error {
	prev := usercontext.GetClaims(c)
	if prev == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	claims, err := a.sessions.Refresh(c.UserContext(), prev)
	if err != nil {
		a.sessions.ClearCookie(c)
		return cannotSignIn(c)
	}
	token, err := a.sessions.Encode(c.UserContext(), claims)
	if err != nil {
		return a.signInFailed(c, "", err)
	}
	a.sessions.SetCookie(c, token, claims)
	return c.JSON(newSessionResponse(claims))
}

// HandleLogout clears the session cookie.
func (a *AuthController) HandleLogout(c *fiber.Ctx) error {
	a.sessions.ClearCookie(c)
	return c.SendStatus(fiber.StatusNoContent)
}
