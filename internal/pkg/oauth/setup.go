package oauth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/discord"
	"github.com/markbates/goth/providers/facebook"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/acastrillo/spotbuddy/internal/pkg/cache"
	"github.com/acastrillo/spotbuddy/internal/pkg/constants"
	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

// stateDB keeps OAuth state apart from the invariant counters.
const stateDB = 2

// Setup registers the configured providers and the store goth_fiber keeps
// OAuth state in. Providers without a key are skipped. With a nil cache
// config the state lives in process memory.
func Setup(cacheCfg *cache.Config) []string {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}

	var providers []goth.Provider
	if key := env.GetEnv("GOOGLE_KEY", ""); key != "" {
		providers = append(providers, google.New(key, env.GetEnv("GOOGLE_SECRET", ""), base+constants.OAuthCallbackPath("google"), "email", "profile"))
	}
	if key := env.GetEnv("FACEBOOK_KEY", ""); key != "" {
		providers = append(providers, facebook.New(key, env.GetEnv("FACEBOOK_SECRET", ""), base+constants.OAuthCallbackPath("facebook"), "email", "public_profile"))
	}
	if key := env.GetEnv("DISCORD_KEY", ""); key != "" {
		providers = append(providers, discord.New(key, env.GetEnv("DISCORD_SECRET", ""), base+constants.OAuthCallbackPath("discord"), discord.ScopeIdentify, discord.ScopeEmail))
	}
	goth.UseProviders(providers...)

	cfg := session.Config{
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     15 * time.Minute,
	}
	if cacheCfg != nil {
		cfg.Storage = redisstorage.New(redisstorage.Config{
			Host:     cacheCfg.Host,
			Port:     cacheCfg.Port,
			Password: cacheCfg.Password,
			Database: stateDB,
			Reset:    false,
		})
	}
	gothfiber.SessionStore = session.New(cfg)

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}
