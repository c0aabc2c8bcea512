package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/metrics/counter"
)

// AccountStore is the account access the webhook applier needs.
type AccountStore interface {
	Get(ctx context.Context, id string, consistent bool) (*models.Account, error)
	GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	UpdateSubscription(ctx context.Context, id string, u repository.SubscriptionUpdate) (*models.Account, error)
}

// Metrics receives the replayed-webhook signal.
type Metrics interface {
	Incr(ctx context.Context, name string)
}

// ApplyResult is the outcome of a successfully handled delivery.
type ApplyResult int

const (
	ApplyApplied ApplyResult = iota + 1
	// ApplyDuplicate means the event id was already in the ledger.
	ApplyDuplicate
	// ApplyIgnored means no account matches the billing customer.
	ApplyIgnored
)

func (r ApplyResult) String() string {
	switch r {
	case ApplyApplied:
		return "applied"
	case ApplyDuplicate:
		return "duplicate"
	case ApplyIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Service applies subscription webhooks exactly once per event id.
type Service struct {
	accounts AccountStore
	ledger   repository.LedgerRepository
	metrics  Metrics
	validate *validator.Validate
}

// NewService creates a webhook applier from injected stores.
func NewService(accounts AccountStore, ledger repository.LedgerRepository, metrics Metrics) *Service {
	return &Service{accounts: accounts, ledger: ledger, metrics: metrics, validate: validator.New()}
}

// Apply marks the event processed and then writes only the supplied
// subscription fields. A replay is a successful no-op. Any store failure is
// returned so the provider redelivers; a failed write after marking removes
// the mark first.
func (s *Service) Apply(ctx context.Context, in WebhookEvent) (ApplyResult, error) {
	ev := in.Normalized()
	if err := ev.Validate(s.validate); err != nil {
		return 0, err
	}

	if _, err := s.ledger.IsProcessed(ctx, ev.EventID); err == nil {
		s.replayed(ctx, ev)
		return ApplyDuplicate, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Billing] Ledger pre-check for %s failed, relying on conditional mark: %v", ev.EventID, err)
	}

	account, link, err := s.resolveAccount(ctx, ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("resolve billing customer %s: %w", ev.Payload.BillingCustomerID, err)
	}

	mark, err := s.ledger.MarkProcessed(ctx, ev.EventID, ev.EventType)
	if err != nil {
		return 0, fmt.Errorf("mark event %s processed: %w", ev.EventID, err)
	}
	if mark == repository.MarkDuplicate {
		s.replayed(ctx, ev)
		return ApplyDuplicate, nil
	}

	if account == nil {
		log.Warnw("[Billing] Unknown billing customer, event acknowledged",
			"eventId", ev.EventID, "eventType", ev.EventType, "billingCustomerId", ev.Payload.BillingCustomerID)
		return ApplyIgnored, nil
	}

	update := ev.Payload.Update()
	if link {
		customerID := ev.Payload.BillingCustomerID
		update.BillingCustomerID = &customerID
	}
	if update.IsEmpty() {
		log.Infow("[Billing] Event carried no subscription fields", "eventId", ev.EventID, "accountId", account.ID)
		return ApplyApplied, nil
	}

	if _, err := s.accounts.UpdateSubscription(ctx, account.ID, update); err != nil {
		if uerr := s.ledger.Unmark(ctx, ev.EventID); uerr != nil {
			log.Errorf("[Billing] Could not unmark %s after failed update, redelivery will be skipped: %v", ev.EventID, uerr)
		}
		return 0, fmt.Errorf("apply event %s to account %s: %w", ev.EventID, account.ID, err)
	}

	log.Infow("[Billing] Applied subscription event",
		"eventId", ev.EventID, "eventType", ev.EventType, "accountId", account.ID)
	return ApplyApplied, nil
}

// resolveAccount finds the account behind the customer id. When the customer
// is unknown but the event names an account, link reports that the customer
// id must be written with the update. A nil account means nothing matched.
func (s *Service) resolveAccount(ctx context.Context, p Payload) (*models.Account, bool, error) {
	account, err := s.accounts.GetByBillingCustomerID(ctx, p.BillingCustomerID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	if p.AccountID == "" {
		return nil, false, nil
	}

	account, err = s.accounts.Get(ctx, p.AccountID, true)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if account.BillingCustomerID != nil && *account.BillingCustomerID != p.BillingCustomerID {
		log.Warnw("[Billing] Replacing billing customer on account",
			"accountId", account.ID, "previous", *account.BillingCustomerID, "billingCustomerId", p.BillingCustomerID)
	}
	return account, true, nil
}

func (s *Service) replayed(ctx context.Context, ev WebhookEvent) {
	if s.metrics != nil {
		s.metrics.Incr(ctx, counter.ReplayedWebhook)
	}
	log.Infow("[Billing] Duplicate delivery skipped", "eventId", ev.EventID, "eventType", ev.EventType)
}
