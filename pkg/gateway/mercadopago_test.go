package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

const mpWebhookSecret = "whsec-test"

var mpTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMercadoPago(baseURL string) *MercadoPago {
	return &MercadoPago{
		cfg: MercadoPagoConfig{
			AccessToken:     "test-token",
			WebhookSecret:   mpWebhookSecret,
			BaseURL:         baseURL,
			RequestTimeout:  2 * time.Second,
			SignatureMaxAge: 5 * time.Minute,
		},
		client: &http.Client{Timeout: 2 * time.Second},
		now:    func() time.Time { return mpTestNow },
	}
}

func signXSignature(secret, dataID, requestID string, ts int64) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%d;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestMercadoPagoVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	m := newTestMercadoPago("http://unused")
	ts := mpTestNow.Unix()
	body := []byte(`{"type":"payment","data":{"id":12345}}`)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		sig := signXSignature(mpWebhookSecret, "12345", "req-1", ts)
		assert.NoError(t, m.VerifyWebhookSignature(sig, "req-1", body))
	})

	t.Run("alphanumeric id is lowercased in manifest", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"type":"payment","data":{"id":"ABC123"}}`)
		sig := signXSignature(mpWebhookSecret, "ABC123", "req-1", ts)
		assert.NoError(t, m.VerifyWebhookSignature(sig, "req-1", payload))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		sig := signXSignature("other-secret", "12345", "req-1", ts)
		assert.ErrorIs(t, m.VerifyWebhookSignature(sig, "req-1", body), ErrSignatureInvalid)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		sig := signXSignature(mpWebhookSecret, "12345", "req-1", ts)
		tampered := []byte(`{"type":"payment","data":{"id":99999}}`)
		assert.ErrorIs(t, m.VerifyWebhookSignature(sig, "req-1", tampered), ErrSignatureInvalid)
	})

	t.Run("request id mismatch", func(t *testing.T) {
		t.Parallel()
		sig := signXSignature(mpWebhookSecret, "12345", "req-1", ts)
		assert.ErrorIs(t, m.VerifyWebhookSignature(sig, "req-2", body), ErrSignatureInvalid)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		stale := mpTestNow.Add(-10 * time.Minute).Unix()
		sig := signXSignature(mpWebhookSecret, "12345", "req-1", stale)
		assert.ErrorIs(t, m.VerifyWebhookSignature(sig, "req-1", body), ErrSignatureInvalid)
	})

	t.Run("missing v1", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, m.VerifyWebhookSignature(fmt.Sprintf("ts=%d", ts), "req-1", body), ErrSignatureInvalid)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, m.VerifyWebhookSignature("not-a-signature", "req-1", body), ErrSignatureInvalid)
	})
}

func TestMercadoPagoProcessWebhookNotification(t *testing.T) {
	t.Parallel()

	accountID := uuid.New()

	payments := map[string]map[string]any{
		"100": {
			"id":                 100,
			"status":             "approved",
			"transaction_amount": 49.90,
			"currency_id":        "BRL",
			"payment_method_id":  "pix",
			"external_reference": accountID.String(),
			"metadata":           map[string]any{"plan_id": "pro-monthly"},
		},
		"200": {
			"id":                 200,
			"status":             "approved",
			"transaction_amount": 49.90,
			"currency_id":        "BRL",
			"payment_method_id":  "credit_card",
			"external_reference": accountID.String(),
			"preapproval_id":     "pre_1",
		},
		"300": {
			"id":                 300,
			"status":             "rejected",
			"transaction_amount": 49.90,
			"currency_id":        "BRL",
			"payment_method_id":  "bolbradesco",
			"external_reference": accountID.String(),
		},
		"400": {
			"id":                 400,
			"status":             "charged_back",
			"transaction_amount": 49.90,
			"currency_id":        "BRL",
			"payment_method_id":  "credit_card",
			"external_reference": accountID.String(),
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/payments/"):
			id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
			payment, ok := payments[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			require.NoError(t, json.NewEncoder(w).Encode(payment))
		case strings.HasPrefix(r.URL.Path, "/preapproval/"):
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"id":                 strings.TrimPrefix(r.URL.Path, "/preapproval/"),
				"status":             "authorized",
				"external_reference": accountID.String(),
			}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	ctx := t.Context()

	t.Run("approved pix payment", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":1,"type":"payment","data":{"id":100}}`))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.ProviderMercadoPago, event.Provider)
		assert.Equal(t, billing.KindCheckout, event.Kind)
		assert.Equal(t, billing.OutcomeApproved, event.Outcome)
		assert.Equal(t, "100", event.ExternalPaymentID)
		assert.Equal(t, billing.MethodPix, event.Method)
		assert.Equal(t, billing.Money{Amount: 4990, Currency: "BRL"}, event.Amount)
		assert.Equal(t, accountID, event.AccountID)
		assert.Equal(t, "pro-monthly", event.PlanID)
		assert.Equal(t, "1", event.SourceEventID)
	})

	t.Run("payment with preapproval is a renewal", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":2,"type":"payment","data":{"id":200}}`))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindRenewal, event.Kind)
		assert.Equal(t, "pre_1", event.SubscriptionID)
		assert.Equal(t, billing.MethodCard, event.Method)
	})

	t.Run("rejected boleto payment", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":3,"type":"payment","data":{"id":300}}`))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.OutcomeRejected, event.Outcome)
		assert.Equal(t, billing.MethodBoleto, event.Method)
	})

	t.Run("charged back payment", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":4,"type":"payment","data":{"id":400}}`))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindChargeback, event.Kind)
		assert.Equal(t, billing.OutcomeRejected, event.Outcome)
	})

	t.Run("preapproval lifecycle with string id", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":5,"type":"subscription_preapproval","data":{"id":"pre_abc"}}`))
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, billing.KindLifecycle, event.Kind)
		assert.Equal(t, "pre_abc", event.SubscriptionID)
		assert.Equal(t, "authorized", event.ProviderStatus)
		assert.Equal(t, accountID, event.AccountID)
	})

	t.Run("irrelevant type is skipped", func(t *testing.T) {
		event, err := m.ProcessWebhookNotification(ctx, []byte(`{"id":6,"type":"plan","data":{"id":1}}`))
		require.NoError(t, err)
		assert.Nil(t, event)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := m.ProcessWebhookNotification(ctx, []byte(`{`))
		assert.Error(t, err)
	})
}

func TestMercadoPagoProviderOutage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	_, err := m.ProcessWebhookNotification(t.Context(), []byte(`{"id":1,"type":"payment","data":{"id":100}}`))
	assert.ErrorIs(t, err, ErrProviderAPI)
}

func TestMercadoPagoCreateCheckout(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"id":         "pref_1",
			"init_point": "https://mp.example/checkout/pref_1",
		}))
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	accountID := uuid.New()
	result, err := m.CreateCheckout(t.Context(), CheckoutInput{
		AccountID: accountID,
		Plan: billing.Plan{
			ID:    "pro-monthly",
			Name:  "Pro",
			Price: billing.Money{Amount: 4990, Currency: "BRL"},
		},
		Email: "user@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://mp.example/checkout/pref_1", result.CheckoutURL)
	assert.Equal(t, "pref_1", result.PreferenceID)
	assert.Equal(t, billing.Money{Amount: 4990, Currency: "BRL"}, result.Price)

	assert.Equal(t, accountID.String(), captured["external_reference"])
	items, ok := captured["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, 49.90, items[0].(map[string]any)["unit_price"])
}

func TestMercadoPagoCreatePixPayment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "pix", payload["payment_method_id"])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"id":     777,
			"status": "pending",
			"point_of_interaction": map[string]any{
				"transaction_data": map[string]any{
					"qr_code":    "00020126pixcopypaste",
					"ticket_url": "https://mp.example/ticket/777",
				},
			},
		}))
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	instructions, err := m.CreatePixPayment(t.Context(), FixedTermInput{
		AccountID: uuid.New(),
		Plan: billing.Plan{
			ID:    "pro-monthly",
			Name:  "Pro",
			Price: billing.Money{Amount: 4990, Currency: "BRL"},
		},
		Email: "user@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "777", instructions.PaymentID)
	assert.Equal(t, billing.MethodPix, instructions.Method)
	assert.Equal(t, "00020126pixcopypaste", instructions.QRCode)
	assert.NotEmpty(t, instructions.QRCodePNG)
	assert.Equal(t, "https://mp.example/ticket/777", instructions.TicketURL)
	assert.Equal(t, mpTestNow.Add(24*time.Hour), instructions.ExpiresAt)
}

func TestMercadoPagoCreateBoletoPayment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "bolbradesco", payload["payment_method_id"])
		payer := payload["payer"].(map[string]any)
		assert.Equal(t, "12345678901", payer["identification"].(map[string]any)["number"])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"id":     888,
			"status": "pending",
			"transaction_details": map[string]any{
				"external_resource_url": "https://mp.example/boleto/888",
			},
			"barcode": map[string]any{"content": "23790000049900000"},
		}))
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	instructions, err := m.CreateBoletoPayment(t.Context(), FixedTermInput{
		AccountID:      uuid.New(),
		Plan:           billing.Plan{ID: "pro-monthly", Name: "Pro", Price: billing.Money{Amount: 4990, Currency: "BRL"}},
		Email:          "user@example.com",
		FirstName:      "Ana",
		LastName:       "Souza",
		DocumentNumber: "12345678901",
	})
	require.NoError(t, err)

	assert.Equal(t, "888", instructions.PaymentID)
	assert.Equal(t, billing.MethodBoleto, instructions.Method)
	assert.Equal(t, "https://mp.example/boleto/888", instructions.TicketURL)
	assert.Equal(t, "23790000049900000", instructions.BarcodeData)
	assert.Equal(t, mpTestNow.AddDate(0, 0, 3), instructions.ExpiresAt)
}

func TestMercadoPagoSubscriptionActions(t *testing.T) {
	t.Parallel()

	var statuses []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/preapproval/pre_1", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		statuses = append(statuses, payload["status"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := newTestMercadoPago(srv.URL)
	ctx := t.Context()
	require.NoError(t, m.CancelSubscription(ctx, "pre_1"))
	require.NoError(t, m.PauseSubscription(ctx, "pre_1"))
	require.NoError(t, m.ReactivateSubscription(ctx, "pre_1"))

	assert.Equal(t, []string{"cancelled", "paused", "authorized"}, statuses)
}

func TestNewMercadoPagoRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewMercadoPago(MercadoPagoConfig{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewMercadoPago(MercadoPagoConfig{AccessToken: "tok"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
