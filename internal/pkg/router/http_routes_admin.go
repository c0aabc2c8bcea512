package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/internal/pkg/constants"
	"github.com/acastrillo/spotbuddy/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	admin := h.deps.Admin
	adminGroup := app.Group(constants.AdminRoute, middleware.RequireAPISessionAuth, middleware.RequireAdmin(h.deps.Accounts))

	// Account kill switch
	adminGroup.Get("/accounts/:id", admin.HandleGetAccount)
	adminGroup.Post("/accounts/:id/disable", admin.HandleDisableAccount)
	adminGroup.Post("/accounts/:id/enable", admin.HandleEnableAccount)

	// Invariant monitor
	adminGroup.Get("/metrics/invariants", admin.HandleInvariantMetrics)
	adminGroup.Delete("/metrics/invariants", admin.HandleDrainInvariantMetrics)
}
