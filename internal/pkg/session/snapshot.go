package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/entitlements"
)

// QuotaUsage is one used/limit pair. Limit -1 means unlimited.
type QuotaUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Snapshot is the client-visible copy of authoritative account state.
type Snapshot struct {
	AccountID           string                    `json:"accountId"`
	Email               string                    `json:"email"`
	Tier                models.Tier               `json:"tier"`
	Status              models.SubscriptionStatus `json:"status"`
	OCR                 QuotaUsage                `json:"ocr"`
	AIRequests          QuotaUsage                `json:"aiRequests"`
	Workouts            QuotaUsage                `json:"workouts"`
	OnboardingCompleted bool                      `json:"onboardingCompleted"`
	OnboardingSkipped   bool                      `json:"onboardingSkipped"`
	IsBeta              bool                      `json:"isBeta"`
	IsAdmin             bool                      `json:"isAdmin"`
}

// Claims is the signed session token body.
type Claims struct {
	jwt.RegisteredClaims
	Snapshot   Snapshot         `json:"snap"`
	SnapshotAt *jwt.NumericDate `json:"snapAt"`
	// Stale marks a snapshot carried forward because the account could not
	// be read at the last refresh.
	Stale bool `json:"stale,omitempty"`
}

// NewSnapshot copies the client-visible fields. Limits follow the tier the
// account is currently entitled to.
func NewSnapshot(a *models.Account) Snapshot {
	tier := entitlements.EffectiveTier(a)
	usage := func(field models.CounterField) QuotaUsage {
		return QuotaUsage{Used: a.CounterValue(field), Limit: entitlements.Limit(tier, field)}
	}
	return Snapshot{
		AccountID:           a.ID,
		Email:               a.Email,
		Tier:                a.Tier,
		Status:              a.Status,
		OCR:                 usage(models.CounterOCR),
		AIRequests:          usage(models.CounterAIRequests),
		Workouts:            usage(models.CounterWorkouts),
		OnboardingCompleted: a.OnboardingCompleted,
		OnboardingSkipped:   a.OnboardingSkipped,
		IsBeta:              a.IsBeta,
		IsAdmin:             a.IsAdmin,
	}
}

// SnapshotTime returns when the embedded snapshot was read from the store.
func (c *Claims) SnapshotTime() time.Time {
	if c.SnapshotAt == nil {
		return time.Time{}
	}
	return c.SnapshotAt.Time
}
