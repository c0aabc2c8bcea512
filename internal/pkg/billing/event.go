package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
)

var (
	ErrInvalidEvent     = errors.New("billing: invalid webhook event")
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	ErrUnsupportedEvent = errors.New("billing: unsupported event type")
)

// Payload carries only the subscription fields the provider reported.
// AccountID links a customer id seen for the first time to an account.
type Payload struct {
	BillingCustomerID     string     `json:"billingCustomerId" validate:"required,max=255"`
	AccountID             string     `json:"accountId,omitempty" validate:"max=255"`
	Tier                  *string    `json:"tier,omitempty" validate:"omitempty,oneof=free core pro elite"`
	Status                *string    `json:"status,omitempty" validate:"omitempty,max=32"`
	BillingSubscriptionID *string    `json:"billingSubscriptionId,omitempty" validate:"omitempty,max=255"`
	PeriodStart           *time.Time `json:"periodStart,omitempty"`
	PeriodEnd             *time.Time `json:"periodEnd,omitempty"`
	TrialEndsAt           *time.Time `json:"trialEndsAt,omitempty"`
}

// WebhookEvent is the provider-neutral webhook contract.
type WebhookEvent struct {
	EventID   string  `json:"eventId" validate:"required,max=255"`
	EventType string  `json:"eventType" validate:"required,max=128"`
	Payload   Payload `json:"payload"`
}

func (e WebhookEvent) Normalized() WebhookEvent {
	e.EventID = strings.TrimSpace(e.EventID)
	e.EventType = strings.TrimSpace(e.EventType)
	p := &e.Payload
	p.BillingCustomerID = strings.TrimSpace(p.BillingCustomerID)
	p.AccountID = strings.TrimSpace(p.AccountID)
	if p.Tier != nil {
		tier := strings.ToLower(strings.TrimSpace(*p.Tier))
		p.Tier = &tier
	}
	if p.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*p.Status))
		p.Status = &status
	}
	return e
}

func (e WebhookEvent) Validate(v *validator.Validate) error {
	if err := v.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	p := e.Payload
	if p.PeriodStart != nil && p.PeriodEnd != nil && p.PeriodEnd.Before(*p.PeriodStart) {
		return fmt.Errorf("%w: periodEnd before periodStart", ErrInvalidEvent)
	}
	return nil
}

// Update maps the supplied payload keys, and only those, onto a field-scoped
// subscription update.
func (p Payload) Update() repository.SubscriptionUpdate {
	var u repository.SubscriptionUpdate
	if p.Tier != nil {
		tier := models.ParseTier(*p.Tier)
		u.Tier = &tier
	}
	if p.Status != nil {
		status := models.ParseSubscriptionStatus(*p.Status)
		u.Status = &status
	}
	u.BillingSubscriptionID = p.BillingSubscriptionID
	u.PeriodStart = utcPtr(p.PeriodStart)
	u.PeriodEnd = utcPtr(p.PeriodEnd)
	u.TrialEndsAt = utcPtr(p.TrialEndsAt)
	return u
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
