package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/app/controllers"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/session"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the routes hand to controllers and
// middleware. It is built once in main.
type Dependencies struct {
	Accounts      repository.AccountRepository
	Sessions      *session.Synchronizer
	InternalToken string

	Auth     *controllers.AuthController
	Account  *controllers.AccountController
	Webhooks *controllers.WebhookController
	Admin    *controllers.AdminController
	Counters *controllers.CounterController
}

func InstallRouter(app *fiber.App, deps *Dependencies) {
	// HttpRouter installs the global UserContext middleware, so it must run
	// before the API routes that depend on it.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
