package billing

import (
	"strings"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/entitlements"
)

// PriceTiers maps provider price ids to internal tiers.
type PriceTiers map[string]models.Tier

// BestTier picks the highest-ranked tier among the mapped price ids.
// ok is false when none of them is mapped.
func (p PriceTiers) BestTier(priceIDs []string) (models.Tier, bool) {
	best := models.TierFree
	found := false
	for _, raw := range priceIDs {
		tier, mapped := p[strings.TrimSpace(raw)]
		if !mapped {
			continue
		}
		if !found || entitlements.TierRank(tier) > entitlements.TierRank(best) {
			best = tier
			found = true
		}
	}
	return best, found
}

// normalizeStripeStatus folds Stripe's subscription states onto ours.
// unpaid, incomplete, incomplete_expired and paused carry no entitlement.
func normalizeStripeStatus(status string) models.SubscriptionStatus {
	return models.ParseSubscriptionStatus(status)
}
