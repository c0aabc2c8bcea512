package controllers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/internal/pkg/billing"
)

const billingSignatureHeader = "X-Billing-Signature"

// WebhookController receives subscription changes from the billing provider.
type WebhookController struct {
	service *billing.Service
	cfg     *billing.Config
}

func NewWebhookController(service *billing.Service, cfg *billing.Config) *WebhookController {
	return &WebhookController{service: service, cfg: cfg}
}

// HandleBillingWebhook accepts the provider-neutral event contract signed
// with BILLING_WEBHOOK_SECRET.
func (w *WebhookController) HandleBillingWebhook(c *fiber.Ctx) error {
	if w.cfg.WebhookSecret == "" {
		log.Error("[Billing] BILLING_WEBHOOK_SECRET missing")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook not configured"})
	}
	body := c.Body()
	if !billing.VerifySignature(body, c.Get(billingSignatureHeader), w.cfg.WebhookSecret) {
		log.Warn("[Billing] Webhook signature verification failed")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "signature verification failed"})
	}

	var ev billing.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return badRequest(c, "invalid payload")
	}
	return w.apply(c, ev)
}

// HandleStripeWebhook verifies Stripe's signature and applies the subset of
// events that change subscription state.
func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	ev, err := billing.ParseStripeEvent(c.Body(), c.Get("Stripe-Signature"), w.cfg.StripeWebhookSecret, w.cfg.Prices)
	switch {
	case errors.Is(err, billing.ErrUnsupportedEvent):
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	case errors.Is(err, billing.ErrInvalidSignature):
		log.Warnf("[Billing] Stripe webhook rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "signature verification failed"})
	case err != nil:
		return badRequest(c, err.Error())
	}
	return w.apply(c, *ev)
}

func (w *WebhookController) apply(c *fiber.Ctx, ev billing.WebhookEvent) error {
	res, err := w.service.Apply(c.UserContext(), ev)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidEvent) {
			return badRequest(c, err.Error())
		}
		log.Errorw("[Billing] Webhook delivery failed, provider will retry", "eventId", ev.EventID, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable"})
	}
	switch res {
	case billing.ApplyDuplicate:
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.ApplyIgnored:
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.JSON(fiber.Map{"ok": true})
	}
}
