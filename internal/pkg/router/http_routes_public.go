package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/internal/pkg/constants"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	auth := h.deps.Auth
	authGroup := app.Group(constants.AuthRoute)

	// Session
	authGroup.Post("/session/refresh", auth.HandleSessionRefresh)
	authGroup.Post("/logout", auth.HandleLogout)

	// Billing provider webhooks (signature-verified in controller)
	webhooks := app.Group(constants.WebhooksRoute)
	webhooks.Post("/billing", h.deps.Webhooks.HandleBillingWebhook)
	webhooks.Post("/stripe", h.deps.Webhooks.HandleStripeWebhook)

	// Social OAuth
	authGroup.Get("/:provider", auth.HandleOAuthBegin)
	app.Get(constants.OAuthCallbackPath(":provider"), auth.HandleOAuthCallback)
}
