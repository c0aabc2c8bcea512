package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/acastrillo/spotbuddy/app/models"
)

const (
	stripeSubscriptionCreated = "customer.subscription.created"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
	stripeCheckoutCompleted   = "checkout.session.completed"

	// Checkout and subscription metadata key carrying our account id.
	stripeAccountMetadataKey = "accountId"
)

// ParseStripeEvent verifies the Stripe-Signature header and converts
// subscription and checkout events to the WebhookEvent contract. Other event
// types return ErrUnsupportedEvent and should be acknowledged.
func ParseStripeEvent(payload []byte, sigHeader, secret string, prices PriceTiers) (*WebhookEvent, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch string(event.Type) {
	case stripeSubscriptionCreated, stripeSubscriptionUpdated, stripeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription payload: %v", ErrInvalidEvent, err)
		}
		return subscriptionEvent(event.ID, string(event.Type), &sub, prices), nil
	case stripeCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout payload: %v", ErrInvalidEvent, err)
		}
		return checkoutEvent(event.ID, string(event.Type), &sess), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
}

func subscriptionEvent(eventID, eventType string, sub *stripe.Subscription, prices PriceTiers) *WebhookEvent {
	p := Payload{
		AccountID:             sub.Metadata[stripeAccountMetadataKey],
		BillingSubscriptionID: stringPtr(sub.ID),
	}
	if sub.Customer != nil {
		p.BillingCustomerID = sub.Customer.ID
	}

	if eventType == stripeSubscriptionDeleted {
		p.Tier = stringPtr(string(models.TierFree))
		p.Status = stringPtr(string(models.StatusCanceled))
		return &WebhookEvent{EventID: eventID, EventType: eventType, Payload: p}
	}

	var priceIDs []string
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil {
				priceIDs = append(priceIDs, item.Price.ID)
			}
			if p.PeriodStart == nil && item.CurrentPeriodStart > 0 {
				p.PeriodStart = unixPtr(item.CurrentPeriodStart)
				p.PeriodEnd = unixPtr(item.CurrentPeriodEnd)
			}
		}
	}
	if tier, ok := prices.BestTier(priceIDs); ok {
		p.Tier = stringPtr(string(tier))
	} else {
		log.Warnw("[Billing] Stripe subscription has no mapped price, tier left unchanged", "eventId", eventID, "prices", priceIDs)
	}
	p.Status = stringPtr(string(normalizeStripeStatus(string(sub.Status))))
	p.TrialEndsAt = unixPtr(sub.TrialEnd)

	return &WebhookEvent{EventID: eventID, EventType: eventType, Payload: p}
}

func checkoutEvent(eventID, eventType string, sess *stripe.CheckoutSession) *WebhookEvent {
	p := Payload{AccountID: sess.ClientReferenceID}
	if p.AccountID == "" {
		p.AccountID = sess.Metadata[stripeAccountMetadataKey]
	}
	if sess.Customer != nil {
		p.BillingCustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		p.BillingSubscriptionID = stringPtr(sess.Subscription.ID)
	}
	return &WebhookEvent{EventID: eventID, EventType: eventType, Payload: p}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
