package repository

import (
	"context"
	"time"

	"github.com/acastrillo/spotbuddy/app/models"
)

// UpsertOptions controls the optimistic-concurrency behaviour of Upsert.
type UpsertOptions struct {
	// RequireAbsent makes the write fail with UpsertConflict when the id or
	// the normalized email is already taken.
	RequireAbsent bool
	// ExpectedUpdatedAt makes a replacing write fail with UpsertConflict when
	// the stored record changed since it was read.
	ExpectedUpdatedAt *time.Time
}

// UpsertResult is the outcome of a successful Upsert call. A lost race is a
// result, not an error: a conditional-write collision comes back as
// UpsertConflict, and as MarkDuplicate on the ledger.
type UpsertResult int

const (
	UpsertCreated UpsertResult = iota + 1
	UpsertUpdated
	UpsertConflict
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	case UpsertConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// MarkResult is the outcome of MarkProcessed.
type MarkResult int

const (
	MarkRecorded MarkResult = iota + 1
	MarkDuplicate
)

func (r MarkResult) String() string {
	switch r {
	case MarkRecorded:
		return "recorded"
	case MarkDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// EmailClaim is the strongly consistent owner record of a normalized email.
// It exists so two creators with different generated ids collide.
type EmailClaim struct {
	Email     string
	AccountID string
	ClaimedAt time.Time
}

// SubscriptionUpdate carries only the subscription keys a billing event
// supplied. Nil fields are left untouched.
type SubscriptionUpdate struct {
	Tier                  *models.Tier
	Status                *models.SubscriptionStatus
	BillingCustomerID     *string
	BillingSubscriptionID *string
	PeriodStart           *time.Time
	PeriodEnd             *time.Time
	TrialEndsAt           *time.Time
}

// IsEmpty reports whether the update would only stamp updatedAt.
func (u SubscriptionUpdate) IsEmpty() bool {
	return u.Tier == nil && u.Status == nil && u.BillingCustomerID == nil &&
		u.BillingSubscriptionID == nil && u.PeriodStart == nil && u.PeriodEnd == nil && u.TrialEndsAt == nil
}

// ProfileUpdate carries user-editable fields. It can never reach a
// subscription, usage or flag field.
type ProfileUpdate struct {
	FirstName           *string
	LastName            *string
	OnboardingCompleted *bool
	OnboardingSkipped   *bool
}

// IsEmpty reports whether nothing would change.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.OnboardingCompleted == nil && u.OnboardingSkipped == nil
}

// DisableUpdate toggles the administrative kill switch.
type DisableUpdate struct {
	Disabled bool
	By       string
	Reason   string
}

// AccountRepository defines every read and write on account records.
type AccountRepository interface {
	Get(ctx context.Context, id string, consistent bool) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAllByEmail(ctx context.Context, email string) ([]models.Account, error)
	GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	LookupEmailClaim(ctx context.Context, email string) (*EmailClaim, error)
	ReleaseEmailClaim(ctx context.Context, email, accountID string) error
	Upsert(ctx context.Context, account *models.Account, opts UpsertOptions) (UpsertResult, error)
	UpdateSubscription(ctx context.Context, id string, update SubscriptionUpdate) (*models.Account, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*models.Account, error)
	SetDisabled(ctx context.Context, id string, update DisableUpdate) (*models.Account, error)
}

// CounterRepository defines the usage counter operations. Fields come from a
// closed enumeration; arbitrary attribute names are rejected.
type CounterRepository interface {
	Increment(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error)
	// Decrement reads then writes max(0, current-amount). It is not safe
	// against concurrent decrements of the same field.
	Decrement(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error)
	Reset(ctx context.Context, id string, field models.CounterField, stampReset bool) error
	// RollOver zeroes the counter and stamps its reset timestamp only if the
	// stored stamp is absent or before periodStart. It reports whether this
	// call performed the rollover, and the counter value as stored after it.
	RollOver(ctx context.Context, id string, field models.CounterField, periodStart time.Time) (bool, int64, error)
}

// LedgerRepository defines the webhook idempotency ledger.
type LedgerRepository interface {
	IsProcessed(ctx context.Context, eventID string) (*models.ProcessedEvent, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) (MarkResult, error)
	Unmark(ctx context.Context, eventID string) error
}

// Repositories bundles the store contracts handed to the services.
type Repositories struct {
	Accounts AccountRepository
	Counters CounterRepository
	Ledger   LedgerRepository
}
