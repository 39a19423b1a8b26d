package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signedHeader(payload []byte, timestamp string) http.Header {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	return headers
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{"id":"evt_1"}`)

	require.NoError(t, w.Verify(payload, signedHeader(payload, "1700000000")))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	w := NewWebhook(testSecret)
	headers := signedHeader([]byte(`{"id":"evt_1"}`), "1700000000")

	require.Error(t, w.Verify([]byte(`{"id":"evt_2"}`), headers))
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	w := NewWebhook(testSecret)
	require.Error(t, w.Verify([]byte(`{}`), http.Header{}))
}

func TestParseCheckoutSessionCompleted(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"amount_total": 2500,
			"payment_intent": "pi_1",
			"metadata": {"userId": "123456789", "type": "credits", "credits": "250"}
		}}
	}`)

	event, err := w.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, reconciliationdomain.EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Checkout)
	require.Equal(t, "cs_1", event.Checkout.ID)
	require.Equal(t, snowflake.ID(123456789), event.Checkout.UserID)
	require.Equal(t, reconciliationdomain.CheckoutKindCredits, event.Checkout.Kind)
	require.Equal(t, int64(250), event.Checkout.Credits)
	require.Equal(t, int64(2500), event.Checkout.AmountTotal)
}

func TestParseSubscriptionCreated(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.created",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"metadata": {"userId": "123456789", "tierId": "tier_pro", "tierName": "PRO"},
			"items": {"data": [{"price": {"id": "price_1"}}]}
		}}
	}`)

	event, err := w.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, reconciliationdomain.EventSubscriptionCreated, event.Type)
	require.NotNil(t, event.Subscription)
	require.Equal(t, "sub_1", event.Subscription.ID)
	require.Equal(t, "cus_1", event.Subscription.CustomerID)
	require.Equal(t, "tier_pro", event.Subscription.TierID)
	require.Equal(t, snowflake.ID(123456789), event.Subscription.UserID)
	require.Equal(t, "price_1", event.Subscription.PriceID)
	require.Equal(t, int64(1700000000), event.Subscription.CurrentPeriodStart.Unix())
}

func TestParseInvoiceSubscriptionFromParent(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{
		"id": "evt_3",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"billing_reason": "subscription_cycle",
			"period_start": 1700000000,
			"period_end": 1702592000,
			"parent": {"subscription_details": {"subscription": "sub_1"}}
		}}
	}`)

	event, err := w.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, reconciliationdomain.EventInvoicePaid, event.Type)
	require.NotNil(t, event.Invoice)
	require.Equal(t, "sub_1", event.Invoice.SubscriptionID)
	require.Equal(t, "subscription_cycle", event.Invoice.BillingReason)
}

func TestParseInvoicePrefersLinePeriod(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{
		"id": "evt_4",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_2",
			"subscription": "sub_1",
			"billing_reason": "subscription_cycle",
			"period_start": 1700000000,
			"period_end": 1700000100,
			"lines": {"data": [{"period": {"start": 1700000000, "end": 1702592000}}]}
		}}
	}`)

	event, err := w.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, int64(1702592000), event.Invoice.PeriodEnd.Unix())
}

func TestParseIgnoresUnrelatedEventTypes(t *testing.T) {
	w := NewWebhook(testSecret)
	payload := []byte(`{"id": "evt_5", "type": "charge.succeeded", "data": {"object": {}}}`)

	_, err := w.Parse(payload)
	require.ErrorIs(t, err, reconciliationdomain.ErrEventIgnored)
}

func TestParseRejectsMissingEventID(t *testing.T) {
	w := NewWebhook(testSecret)
	_, err := w.Parse([]byte(`{"type": "invoice.payment_succeeded", "data": {"object": {}}}`))
	require.ErrorIs(t, err, reconciliationdomain.ErrInvalidEvent)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	w := NewWebhook(testSecret)
	_, err := w.Parse([]byte(`{not json`))
	require.Error(t, err)
}
