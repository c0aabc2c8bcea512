package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/internal/pkg/constants"
	"github.com/acastrillo/spotbuddy/internal/pkg/middleware"
)

// registerInternalRoutes installs the service-to-service routes. A browser
// session never reaches them.
func (h HttpRouter) registerInternalRoutes(app *fiber.App) {
	requireToken := middleware.RequireInternalToken(h.deps.InternalToken)

	app.Post(constants.AuthRoute+"/assertion", requireToken, h.deps.Auth.HandleAssertion)

	counters := app.Group(constants.InternalRoute+"/accounts/:id/counters/:counter", requireToken)
	counters.Post("/increment", h.deps.Counters.HandleIncrement)
	counters.Post("/decrement", h.deps.Counters.HandleDecrement)
	counters.Post("/reset", h.deps.Counters.HandleReset)
}
