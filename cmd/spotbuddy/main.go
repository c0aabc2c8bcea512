package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/acastrillo/spotbuddy/app/controllers"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/app/repository/memory"
	"github.com/acastrillo/spotbuddy/internal/pkg/billing"
	"github.com/acastrillo/spotbuddy/internal/pkg/cache"
	"github.com/acastrillo/spotbuddy/internal/pkg/database"
	"github.com/acastrillo/spotbuddy/internal/pkg/env"
	"github.com/acastrillo/spotbuddy/internal/pkg/identity"
	"github.com/acastrillo/spotbuddy/internal/pkg/mail"
	"github.com/acastrillo/spotbuddy/internal/pkg/metrics/counter"
	"github.com/acastrillo/spotbuddy/internal/pkg/oauth"
	"github.com/acastrillo/spotbuddy/internal/pkg/quota"
	"github.com/acastrillo/spotbuddy/internal/pkg/router"
	"github.com/acastrillo/spotbuddy/internal/pkg/session"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	if err := env.SetupEnvFile(); err != nil {
		log.Warnf("[App] %v, using the process environment", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repos := setupRepositories(ctx)

	// CACHE
	cacheCfg := cache.LoadConfig()
	rdb := cache.NewClient(ctx, cacheCfg)
	invariants := counter.NewRecorder(rdb)

	// SESSIONS
	sessionCfg, err := session.LoadConfig()
	if err != nil {
		log.Fatalf("[App] Invalid session configuration: %v", err)
	}
	sessions := session.NewSynchronizer(repos.Accounts, *sessionCfg, session.WithMetrics(invariants))

	// IDENTITY
	mailer := mail.NewMailer(mail.LoadConfig())
	resolver := identity.NewResolver(repos.Accounts,
		identity.WithNotifier(mailer),
		identity.WithMetrics(invariants),
	)
	providers := oauth.Setup(cacheCfg)
	log.Infof("[App] OAuth providers: %v", providers)

	// BILLING
	billingCfg := billing.LoadConfig()
	billingService := billing.NewService(repos.Accounts, repos.Ledger, invariants)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, &router.Dependencies{
		Accounts:      repos.Accounts,
		Sessions:      sessions,
		InternalToken: env.GetEnv("INTERNAL_API_TOKEN", ""),
		Auth:          controllers.NewAuthController(resolver, sessions, env.GetEnv("AUTH_SUCCESS_REDIRECT", "/")),
		Account:       controllers.NewAccountController(repos.Accounts, sessions),
		Webhooks:      controllers.NewWebhookController(billingService, billingCfg),
		Admin:         controllers.NewAdminController(repos, invariants),
		Counters:      controllers.NewCounterController(repos.Accounts, quota.NewService(repos.Counters)),
	})

	app.Hooks().OnShutdown(func() error {
		// let in-flight new-account notifications finish
		resolver.Wait()
		return rdb.Close()
	})

	return app
}

// setupRepositories picks DynamoDB, or the in-memory store for local
// development when no accounts table is configured.
func setupRepositories(ctx context.Context) *repository.Repositories {
	if env.IsDev() && env.GetEnv("DYNAMODB_ACCOUNTS_TABLE", "") == "" {
		log.Warn("[App] No DynamoDB table configured, using the in-memory store")
		return memory.New().Repositories()
	}

	dbCfg, err := database.LoadConfig()
	if err != nil {
		log.Fatalf("[App] Invalid database configuration: %v", err)
	}
	client, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("[App] DynamoDB unavailable: %v", err)
	}
	if err := database.Ping(ctx, client, dbCfg); err != nil {
		log.Warnf("[App] DynamoDB tables not reachable yet: %v", err)
	}
	return repository.NewRepositories(client, dbCfg)
}
