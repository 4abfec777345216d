package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

const stripeWebhookSecret = "whsec_test"

func newTestStripe(t *testing.T) *gateway.Stripe {
	t.Helper()
	s, err := gateway.NewStripe(gateway.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: stripeWebhookSecret,
	})
	require.NoError(t, err)
	return s
}

// signStripePayload builds a Stripe-Signature header over the raw body,
// the same scheme the SDK's webhook package verifies.
func signStripePayload(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	payload := []byte(`{"id":"evt_1","api_version":"2024-06-20","type":"invoice.payment_succeeded","data":{"object":{}}}`)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		sig := signStripePayload(stripeWebhookSecret, payload, time.Now())
		assert.NoError(t, s.VerifyWebhookSignature(sig, "", payload))
	})

	t.Run("valid signature with endpoint on another api version", func(t *testing.T) {
		t.Parallel()
		// Endpoints stay pinned to the version they were created with, so a
		// correctly signed delivery may carry any api_version. Only the
		// signature decides acceptance.
		older := []byte(`{"id":"evt_1","api_version":"2020-08-27","type":"invoice.payment_succeeded","data":{"object":{}}}`)
		sig := signStripePayload(stripeWebhookSecret, older, time.Now())
		assert.NoError(t, s.VerifyWebhookSignature(sig, "", older))
	})

	t.Run("valid signature without api version", func(t *testing.T) {
		t.Parallel()
		bare := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{}}}`)
		sig := signStripePayload(stripeWebhookSecret, bare, time.Now())
		assert.NoError(t, s.VerifyWebhookSignature(sig, "", bare))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		sig := signStripePayload("whsec_other", payload, time.Now())
		assert.ErrorIs(t, s.VerifyWebhookSignature(sig, "", payload), gateway.ErrSignatureInvalid)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		sig := signStripePayload(stripeWebhookSecret, payload, time.Now())
		tampered := []byte(`{"id":"evt_2","type":"invoice.payment_succeeded","data":{"object":{}}}`)
		assert.ErrorIs(t, s.VerifyWebhookSignature(sig, "", tampered), gateway.ErrSignatureInvalid)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		sig := signStripePayload(stripeWebhookSecret, payload, time.Now().Add(-time.Hour))
		assert.ErrorIs(t, s.VerifyWebhookSignature(sig, "", payload), gateway.ErrSignatureInvalid)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, s.VerifyWebhookSignature("not-a-signature", "", payload), gateway.ErrSignatureInvalid)
	})
}

func TestStripeNormalizeCheckoutSession(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	accountID := uuid.New()
	payload := fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"amount_total": 2900,
			"currency": "usd",
			"client_reference_id": %q,
			"subscription": "sub_1",
			"invoice": "in_1",
			"customer": "cus_1",
			"metadata": {"plan_id": "pro-monthly"}
		}}
	}`, accountID)

	event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, billing.ProviderStripe, event.Provider)
	assert.Equal(t, billing.KindCheckout, event.Kind)
	assert.Equal(t, billing.OutcomeApproved, event.Outcome)
	assert.Equal(t, "cs_1", event.ExternalPaymentID)
	assert.Equal(t, "sub_1", event.SubscriptionID)
	assert.ElementsMatch(t, []string{"in_1", "cus_1"}, event.RelatedPaymentIDs)
	assert.Equal(t, accountID, event.AccountID)
	assert.Equal(t, "pro-monthly", event.PlanID)
	assert.Equal(t, billing.Money{Amount: 2900, Currency: "usd"}, event.Amount)
	assert.Equal(t, "evt_1", event.SourceEventID)
}

func TestStripeNormalizeInvoice(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)

	t.Run("payment succeeded", func(t *testing.T) {
		t.Parallel()
		payload := `{
			"id": "evt_2",
			"type": "invoice.payment_succeeded",
			"data": {"object": {
				"id": "in_2",
				"amount_paid": 2900,
				"currency": "usd",
				"subscription": "sub_1",
				"charge": "ch_1",
				"payment_intent": "pi_1"
			}}
		}`
		event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindRenewal, event.Kind)
		assert.Equal(t, billing.OutcomeApproved, event.Outcome)
		assert.Equal(t, "in_2", event.ExternalPaymentID)
		assert.Equal(t, "sub_1", event.SubscriptionID)
		assert.ElementsMatch(t, []string{"ch_1", "pi_1"}, event.RelatedPaymentIDs)
		assert.Equal(t, int64(2900), event.Amount.Amount)
	})

	t.Run("payment failed reports amount due", func(t *testing.T) {
		t.Parallel()
		payload := `{
			"id": "evt_3",
			"type": "invoice.payment_failed",
			"data": {"object": {
				"id": "in_3",
				"amount_paid": 0,
				"amount_due": 2900,
				"currency": "usd",
				"subscription": "sub_1"
			}}
		}`
		event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindRenewal, event.Kind)
		assert.Equal(t, billing.OutcomeRejected, event.Outcome)
		assert.Equal(t, int64(2900), event.Amount.Amount)
	})
}

func TestStripeNormalizeSubscription(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	accountID := uuid.New()

	t.Run("updated carries provider status", func(t *testing.T) {
		t.Parallel()
		payload := fmt.Sprintf(`{
			"id": "evt_4",
			"type": "customer.subscription.updated",
			"data": {"object": {
				"id": "sub_1",
				"status": "past_due",
				"metadata": {"account_id": %q, "plan_id": "pro-monthly"}
			}}
		}`, accountID)
		event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindLifecycle, event.Kind)
		assert.Equal(t, "sub_1", event.SubscriptionID)
		assert.Equal(t, "past_due", event.ProviderStatus)
		assert.Equal(t, accountID, event.AccountID)
		assert.Equal(t, "pro-monthly", event.PlanID)
	})

	t.Run("deleted always means canceled", func(t *testing.T) {
		t.Parallel()
		payload := `{
			"id": "evt_5",
			"type": "customer.subscription.deleted",
			"data": {"object": {"id": "sub_1", "status": "active"}}
		}`
		event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindLifecycle, event.Kind)
		assert.Equal(t, "canceled", event.ProviderStatus)
	})
}

func TestStripeNormalizeDispute(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	payload := `{
		"id": "evt_6",
		"type": "charge.dispute.created",
		"data": {"object": {
			"id": "dp_1",
			"amount": 2900,
			"currency": "usd",
			"charge": "ch_1",
			"payment_intent": "pi_1"
		}}
	}`
	event, err := s.ProcessWebhookNotification(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, billing.KindChargeback, event.Kind)
	assert.Equal(t, billing.OutcomeRejected, event.Outcome)
	assert.Equal(t, "ch_1", event.ExternalPaymentID)
	assert.Equal(t, []string{"pi_1"}, event.RelatedPaymentIDs)
}

func TestStripeIrrelevantEvent(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	event, err := s.ProcessWebhookNotification(context.Background(), []byte(`{"id":"evt_7","type":"customer.created","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestStripeFixedTermNotSupported(t *testing.T) {
	t.Parallel()

	s := newTestStripe(t)
	ctx := context.Background()

	_, err := s.CreatePixPayment(ctx, gateway.FixedTermInput{})
	assert.ErrorIs(t, err, gateway.ErrMethodNotSupported)

	_, err = s.CreateBoletoPayment(ctx, gateway.FixedTermInput{})
	assert.ErrorIs(t, err, gateway.ErrMethodNotSupported)
}

func TestNewStripeRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := gateway.NewStripe(gateway.StripeConfig{})
	assert.ErrorIs(t, err, gateway.ErrMissingCredentials)
}
