package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/acastrillo/spotbuddy/app/models"
)

const stripeSecret = "whsec_test"

func signedStripe(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

var prices = PriceTiers{"price_pro": models.TierPro, "price_core": models.TierCore}

func TestParseStripeSubscriptionUpdated(t *testing.T) {
	body, header := signedStripe(t, `{
		"id": "evt_sub_1", "object": "event", "type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "trialing",
			"trial_end": 1750000000,
			"metadata": {"accountId": "acct-1"},
			"items": {"object": "list", "data": [
				{"id": "si_1", "object": "subscription_item", "price": {"id": "price_core", "object": "price"}, "current_period_start": 1749000000, "current_period_end": 1751592000},
				{"id": "si_2", "object": "subscription_item", "price": {"id": "price_pro", "object": "price"}}
			]}
		}}
	}`)

	ev, err := ParseStripeEvent(body, header, stripeSecret, prices)
	require.NoError(t, err)
	assert.Equal(t, "evt_sub_1", ev.EventID)
	assert.Equal(t, "cus_1", ev.Payload.BillingCustomerID)
	assert.Equal(t, "acct-1", ev.Payload.AccountID)
	require.NotNil(t, ev.Payload.Tier)
	assert.Equal(t, "pro", *ev.Payload.Tier)
	require.NotNil(t, ev.Payload.Status)
	assert.Equal(t, "trialing", *ev.Payload.Status)
	require.NotNil(t, ev.Payload.PeriodStart)
	assert.Equal(t, int64(1749000000), ev.Payload.PeriodStart.Unix())
	require.NotNil(t, ev.Payload.TrialEndsAt)
	assert.Equal(t, "sub_1", *ev.Payload.BillingSubscriptionID)
}

func TestParseStripeSubscriptionDeleted(t *testing.T) {
	body, header := signedStripe(t, `{
		"id": "evt_sub_2", "object": "event", "type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "canceled"}}
	}`)

	ev, err := ParseStripeEvent(body, header, stripeSecret, prices)
	require.NoError(t, err)
	assert.Equal(t, "free", *ev.Payload.Tier)
	assert.Equal(t, "canceled", *ev.Payload.Status)
}

func TestParseStripeUnmappedPriceLeavesTier(t *testing.T) {
	body, header := signedStripe(t, `{
		"id": "evt_sub_3", "object": "event", "type": "customer.subscription.created",
		"data": {"object": {"id": "sub_2", "object": "subscription", "customer": "cus_2", "status": "active",
			"items": {"object": "list", "data": [{"id": "si_3", "object": "subscription_item", "price": {"id": "price_legacy", "object": "price"}}]}}}
	}`)

	ev, err := ParseStripeEvent(body, header, stripeSecret, prices)
	require.NoError(t, err)
	assert.Nil(t, ev.Payload.Tier)
	assert.Equal(t, "active", *ev.Payload.Status)
}

func TestParseStripeCheckoutCompleted(t *testing.T) {
	body, header := signedStripe(t, `{
		"id": "evt_co_1", "object": "event", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session", "customer": "cus_3", "subscription": "sub_3", "client_reference_id": "acct-3"}}
	}`)

	ev, err := ParseStripeEvent(body, header, stripeSecret, prices)
	require.NoError(t, err)
	assert.Equal(t, "acct-3", ev.Payload.AccountID)
	assert.Equal(t, "cus_3", ev.Payload.BillingCustomerID)
	assert.Equal(t, "sub_3", *ev.Payload.BillingSubscriptionID)
	assert.Nil(t, ev.Payload.Tier)
}

func TestParseStripeRejectsBadSignatureAndUnsupportedTypes(t *testing.T) {
	body, header := signedStripe(t, `{"id": "evt_x", "object": "event", "type": "invoice.paid", "data": {"object": {}}}`)

	_, err := ParseStripeEvent(body, header, "whsec_other", prices)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseStripeEvent(body, header, "", prices)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseStripeEvent(body, header, stripeSecret, prices)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}
