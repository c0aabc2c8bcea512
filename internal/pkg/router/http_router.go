package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/internal/pkg/middleware"
)

type HttpRouter struct {
	deps *Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.deps.Sessions))

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
	h.registerInternalRoutes(app)
}

func NewHttpRouter(deps *Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
