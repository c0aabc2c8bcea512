package entitlements

import (
	"github.com/acastrillo/spotbuddy/app/models"
)

// Unlimited marks a counter without a cap for a tier.
const Unlimited int64 = -1

// Limits are the per-tier quotas. They are static configuration and are
// never stored on the account record.
type Limits struct {
	OCR        int64
	AIRequests int64
	Workouts   int64
}

var tierLimits = map[models.Tier]Limits{
	models.TierFree:  {OCR: 2, AIRequests: 0, Workouts: 50},
	models.TierCore:  {OCR: 10, AIRequests: 10, Workouts: Unlimited},
	models.TierPro:   {OCR: 50, AIRequests: 30, Workouts: Unlimited},
	models.TierElite: {OCR: Unlimited, AIRequests: 100, Workouts: Unlimited},
}

// LimitsFor returns the quotas of a tier; unknown tiers get the free quotas.
func LimitsFor(tier models.Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[models.TierFree]
}

// Limit returns the quota for one counter.
func Limit(tier models.Tier, field models.CounterField) int64 {
	l := LimitsFor(tier)
	switch field {
	case models.CounterOCR:
		return l.OCR
	case models.CounterAIRequests:
		return l.AIRequests
	case models.CounterWorkouts:
		return l.Workouts
	default:
		return 0
	}
}

// Allows reports whether used+add stays within the tier quota.
func Allows(tier models.Tier, field models.CounterField, used, add int64) bool {
	limit := Limit(tier, field)
	if limit == Unlimited {
		return true
	}
	return used+add <= limit
}

// TierRank orders tiers from free (0) to elite (3).
func TierRank(tier models.Tier) int {
	switch tier {
	case models.TierElite:
		return 3
	case models.TierPro:
		return 2
	case models.TierCore:
		return 1
	default:
		return 0
	}
}

// IsEntitlingStatus reports whether a subscription in this status still
// grants its tier. past_due keeps access during the provider's dunning window.
func IsEntitlingStatus(status models.SubscriptionStatus) bool {
	switch status {
	case models.StatusActive, models.StatusTrialing, models.StatusPastDue:
		return true
	default:
		return false
	}
}

// EffectiveTier is the tier the account is entitled to right now.
func EffectiveTier(a *models.Account) models.Tier {
	if a == nil || !a.Tier.Valid() {
		return models.TierFree
	}
	if !IsEntitlingStatus(a.Status) {
		return models.TierFree
	}
	return a.Tier
}
