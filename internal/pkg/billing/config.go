package billing

import (
	"strings"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

// Config holds webhook secrets and the Stripe price to tier mapping.
type Config struct {
	WebhookSecret       string
	StripeWebhookSecret string
	Prices              PriceTiers
}

func LoadConfig() *Config {
	prices := PriceTiers{}
	for tier, key := range map[models.Tier]string{
		models.TierCore:  "STRIPE_PRICE_CORE",
		models.TierPro:   "STRIPE_PRICE_PRO",
		models.TierElite: "STRIPE_PRICE_ELITE",
	} {
		for _, id := range strings.Split(env.GetEnv(key, ""), ",") {
			if id = strings.TrimSpace(id); id != "" {
				prices[id] = tier
			}
		}
	}
	return &Config{
		WebhookSecret:       strings.TrimSpace(env.GetEnv("BILLING_WEBHOOK_SECRET", "")),
		StripeWebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		Prices:              prices,
	}
}
