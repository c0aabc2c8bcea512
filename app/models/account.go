package models

import (
	"sort"
	"strings"
	"time"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierCore  Tier = "core"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierCore, TierPro, TierElite:
		return true
	default:
		return false
	}
}

// ParseTier normalizes free-form input to a tier; unknown values become free.
func ParseTier(raw string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t
	}
	return TierFree
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusInactive SubscriptionStatus = "inactive"
)

// Valid reports whether s is one of the known subscription statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusInactive:
		return true
	default:
		return false
	}
}

// ParseSubscriptionStatus normalizes provider spellings ("cancelled", "PAST_DUE").
// Unknown values become inactive.
func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "cancelled" {
		s = string(StatusCanceled)
	}
	status := SubscriptionStatus(s)
	if status.Valid() {
		return status
	}
	return StatusInactive
}

// Account is the single durable record per end user. Subscription, usage and
// flag fields are protected: only the field-scoped store operations and the
// identity resolver (after reading them) may write them.
type Account struct {
	ID                string  `dynamodbav:"id" json:"id"`
	Email             string  `dynamodbav:"email" json:"email"`
	BillingCustomerID *string `dynamodbav:"stripeCustomerId,omitempty" json:"billing_customer_id,omitempty"`

	FirstName string `dynamodbav:"firstName,omitempty" json:"first_name,omitempty"`
	LastName  string `dynamodbav:"lastName,omitempty" json:"last_name,omitempty"`

	Tier                  Tier               `dynamodbav:"subscriptionTier" json:"tier"`
	Status                SubscriptionStatus `dynamodbav:"subscriptionStatus" json:"status"`
	BillingSubscriptionID string             `dynamodbav:"stripeSubscriptionId,omitempty" json:"billing_subscription_id,omitempty"`
	PeriodStart           *time.Time         `dynamodbav:"subscriptionStartDate,omitempty" json:"period_start,omitempty"`
	PeriodEnd             *time.Time         `dynamodbav:"subscriptionEndDate,omitempty" json:"period_end,omitempty"`
	TrialEndsAt           *time.Time         `dynamodbav:"trialEndsAt,omitempty" json:"trial_ends_at,omitempty"`

	OCRUsed           int64      `dynamodbav:"ocrQuotaUsed" json:"ocr_used"`
	OCRResetAt        *time.Time `dynamodbav:"ocrQuotaResetDate,omitempty" json:"ocr_reset_at,omitempty"`
	AIRequestsUsed    int64      `dynamodbav:"aiRequestsUsed" json:"ai_requests_used"`
	AIRequestsResetAt *time.Time `dynamodbav:"lastAiRequestReset,omitempty" json:"ai_requests_reset_at,omitempty"`
	WorkoutsSaved     int64      `dynamodbav:"workoutsSaved" json:"workouts_saved"`
	WorkoutsResetAt   *time.Time `dynamodbav:"workoutsResetDate,omitempty" json:"workouts_reset_at,omitempty"`

	OnboardingCompleted bool `dynamodbav:"onboardingCompleted" json:"onboarding_completed"`
	OnboardingSkipped   bool `dynamodbav:"onboardingSkipped" json:"onboarding_skipped"`

	IsAdmin        bool       `dynamodbav:"isAdmin" json:"is_admin"`
	IsBeta         bool       `dynamodbav:"isBeta" json:"is_beta"`
	IsDisabled     bool       `dynamodbav:"isDisabled" json:"is_disabled"`
	DisabledAt     *time.Time `dynamodbav:"disabledAt,omitempty" json:"disabled_at,omitempty"`
	DisabledBy     string     `dynamodbav:"disabledBy,omitempty" json:"disabled_by,omitempty"`
	DisabledReason string     `dynamodbav:"disabledReason,omitempty" json:"disabled_reason,omitempty"`

	LastLoginAt       *time.Time `dynamodbav:"lastLoginAt,omitempty" json:"last_login_at,omitempty"`
	LastLoginProvider string     `dynamodbav:"lastLoginProvider,omitempty" json:"last_login_provider,omitempty"`

	CreatedAt time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updated_at"`
}

// NewAccount returns a fresh free-tier record for a first sign-in.
func NewAccount(id, email string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Email:     NormalizeEmail(email),
		Tier:      TierFree,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizeEmail is the form used for lookups and the email claim key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CopyProtectedFields copies every subscription, usage and administrative
// field from src to dst. Identity, display and login fields are left alone.
func CopyProtectedFields(dst, src *Account) {
	if dst == nil || src == nil {
		return
	}
	dst.BillingCustomerID = cloneString(src.BillingCustomerID)

	dst.Tier = src.Tier
	dst.Status = src.Status
	dst.BillingSubscriptionID = src.BillingSubscriptionID
	dst.PeriodStart = cloneTime(src.PeriodStart)
	dst.PeriodEnd = cloneTime(src.PeriodEnd)
	dst.TrialEndsAt = cloneTime(src.TrialEndsAt)

	dst.OCRUsed = src.OCRUsed
	dst.OCRResetAt = cloneTime(src.OCRResetAt)
	dst.AIRequestsUsed = src.AIRequestsUsed
	dst.AIRequestsResetAt = cloneTime(src.AIRequestsResetAt)
	dst.WorkoutsSaved = src.WorkoutsSaved
	dst.WorkoutsResetAt = cloneTime(src.WorkoutsResetAt)

	dst.OnboardingCompleted = src.OnboardingCompleted
	dst.OnboardingSkipped = src.OnboardingSkipped

	dst.IsAdmin = src.IsAdmin
	dst.IsBeta = src.IsBeta
	dst.IsDisabled = src.IsDisabled
	dst.DisabledAt = cloneTime(src.DisabledAt)
	dst.DisabledBy = src.DisabledBy
	dst.DisabledReason = src.DisabledReason

	dst.CreatedAt = src.CreatedAt
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.BillingCustomerID = cloneString(a.BillingCustomerID)
	out.PeriodStart = cloneTime(a.PeriodStart)
	out.PeriodEnd = cloneTime(a.PeriodEnd)
	out.TrialEndsAt = cloneTime(a.TrialEndsAt)
	out.OCRResetAt = cloneTime(a.OCRResetAt)
	out.AIRequestsResetAt = cloneTime(a.AIRequestsResetAt)
	out.WorkoutsResetAt = cloneTime(a.WorkoutsResetAt)
	out.DisabledAt = cloneTime(a.DisabledAt)
	out.LastLoginAt = cloneTime(a.LastLoginAt)
	return &out
}

// CounterValue returns the current value of a usage counter.
func (a *Account) CounterValue(field CounterField) int64 {
	switch field {
	case CounterOCR:
		return a.OCRUsed
	case CounterAIRequests:
		return a.AIRequestsUsed
	case CounterWorkouts:
		return a.WorkoutsSaved
	default:
		return 0
	}
}

// CounterResetAt returns the last reset timestamp of a usage counter.
func (a *Account) CounterResetAt(field CounterField) *time.Time {
	switch field {
	case CounterOCR:
		return a.OCRResetAt
	case CounterAIRequests:
		return a.AIRequestsResetAt
	case CounterWorkouts:
		return a.WorkoutsResetAt
	default:
		return nil
	}
}

// CanonicalAccount picks one record out of duplicates for the same email:
// earliest createdAt wins, ties broken by the lexicographically smallest id.
// The input order is irrelevant.
func CanonicalAccount(accounts []Account) *Account {
	if len(accounts) == 0 {
		return nil
	}
	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	SortCanonical(sorted)
	return &sorted[0]
}

// SortCanonical orders accounts by the canonical tie-break.
func SortCanonical(accounts []Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
