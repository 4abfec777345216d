package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
)

// MercadoPagoConfig holds credentials and endpoints for the Mercado Pago
// integration.
type MercadoPagoConfig struct {
	AccessToken     config.Secret `env:"MERCADOPAGO_ACCESS_TOKEN,required"`
	WebhookSecret   config.Secret `env:"MERCADOPAGO_WEBHOOK_SECRET,required"`
	BaseURL         string        `env:"MERCADOPAGO_BASE_URL" envDefault:"https://api.mercadopago.com"`
	NotificationURL string        `env:"MERCADOPAGO_NOTIFICATION_URL"`
	SuccessURL      string        `env:"MERCADOPAGO_SUCCESS_URL"`
	FailureURL      string        `env:"MERCADOPAGO_FAILURE_URL"`
	RequestTimeout  time.Duration `env:"MERCADOPAGO_REQUEST_TIMEOUT" envDefault:"10s"`
	// SignatureMaxAge bounds webhook timestamp freshness to limit replay.
	SignatureMaxAge time.Duration `env:"MERCADOPAGO_SIGNATURE_MAX_AGE" envDefault:"5m"`
}

// MercadoPago implements Adapter against the Mercado Pago REST API.
// There is no official maintained Go SDK, so the adapter speaks HTTP
// directly with an explicit per-request timeout.
type MercadoPago struct {
	cfg    MercadoPagoConfig
	client *http.Client
	now    func() time.Time
}

// NewMercadoPago creates the adapter.
func NewMercadoPago(cfg MercadoPagoConfig) (*MercadoPago, error) {
	if cfg.AccessToken.IsZero() || cfg.WebhookSecret.IsZero() {
		return nil, ErrMissingCredentials
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.SignatureMaxAge <= 0 {
		cfg.SignatureMaxAge = 5 * time.Minute
	}
	return &MercadoPago{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		now:    time.Now,
	}, nil
}

func (m *MercadoPago) Provider() billing.Provider { return billing.ProviderMercadoPago }

// do performs one API call. Timeouts and 5xx responses are wrapped with
// ErrProviderAPI so webhook handlers can leave the event unacknowledged.
func (m *MercadoPago) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken.Unmask())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", uuid.New().String())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Join(ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Join(ErrProviderAPI, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Join(ErrProviderAPI,
			fmt.Errorf("mercadopago %s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("mercadopago %s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw, 256))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Join(ErrProviderAPI, err)
		}
	}
	return nil
}

// flexID decodes Mercado Pago resource ids, which arrive as JSON numbers
// for payments and as strings for preapprovals.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func toUnits(m billing.Money) float64 {
	return float64(m.Amount) / 100
}

func toMinorUnits(units float64, currency string) billing.Money {
	return billing.Money{Amount: int64(units*100 + 0.5), Currency: currency}
}

func (m *MercadoPago) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	payload := map[string]any{
		"items": []map[string]any{{
			"title":       in.Plan.Name,
			"description": in.Plan.Description,
			"quantity":    1,
			"currency_id": in.Plan.Price.Currency,
			"unit_price":  toUnits(in.Plan.Price),
		}},
		"payer": map[string]any{
			"email": in.Email,
			"name":  in.DisplayName,
		},
		"external_reference": in.AccountID.String(),
		"auto_return":        "approved",
	}
	if m.cfg.NotificationURL != "" {
		payload["notification_url"] = m.cfg.NotificationURL
	}
	if m.cfg.SuccessURL != "" || m.cfg.FailureURL != "" {
		payload["back_urls"] = map[string]any{
			"success": m.cfg.SuccessURL,
			"failure": m.cfg.FailureURL,
			"pending": m.cfg.SuccessURL,
		}
	}

	var resp struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := m.do(ctx, http.MethodPost, "/checkout/preferences", payload, &resp); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		CheckoutURL:  resp.InitPoint,
		PreferenceID: resp.ID,
		Price:        in.Plan.Price,
	}, nil
}

func (m *MercadoPago) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	frequencyType := "months"
	frequency := 1
	if in.Plan.Interval == billing.IntervalAnnual {
		frequency = 12
	}

	payload := map[string]any{
		"reason":             in.Plan.Name,
		"external_reference": in.AccountID.String(),
		"payer_email":        in.Email,
		"auto_recurring": map[string]any{
			"frequency":          frequency,
			"frequency_type":     frequencyType,
			"transaction_amount": toUnits(in.Plan.Price),
			"currency_id":        in.Plan.Price.Currency,
		},
		"back_url": m.cfg.SuccessURL,
		"status":   "pending",
	}
	if in.CardToken != "" {
		payload["card_token_id"] = in.CardToken
		payload["status"] = "authorized"
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := m.do(ctx, http.MethodPost, "/preapproval", payload, &resp); err != nil {
		return nil, err
	}

	return &SubscriptionResult{
		SubscriptionID: resp.ID,
		PlanID:         in.Plan.ID,
		PlanName:       in.Plan.Name,
		Price:          in.Plan.Price,
	}, nil
}

// mpPayment is the subset of the payment resource the adapter reads.
type mpPayment struct {
	ID                 flexID  `json:"id"`
	Status             string  `json:"status"`
	StatusDetail       string  `json:"status_detail"`
	TransactionAmount  float64 `json:"transaction_amount"`
	CurrencyID         string  `json:"currency_id"`
	PaymentMethodID    string  `json:"payment_method_id"`
	ExternalReference  string  `json:"external_reference"`
	PreapprovalID      string  `json:"preapproval_id"`
	DateOfExpiration   string  `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
	Barcode struct {
		Content string `json:"content"`
	} `json:"barcode"`
	Metadata map[string]any `json:"metadata"`
}

func (m *MercadoPago) CreatePixPayment(ctx context.Context, in FixedTermInput) (*PaymentInstructions, error) {
	expires := m.now().Add(24 * time.Hour).UTC()
	payload := map[string]any{
		"transaction_amount": toUnits(in.Plan.Price),
		"description":        in.Plan.Name,
		"payment_method_id":  "pix",
		"external_reference": in.AccountID.String(),
		"date_of_expiration": expires.Format("2006-01-02T15:04:05.000-07:00"),
		"metadata":           map[string]any{"plan_id": in.Plan.ID},
		"payer":              map[string]any{"email": in.Email},
	}
	if m.cfg.NotificationURL != "" {
		payload["notification_url"] = m.cfg.NotificationURL
	}

	var resp mpPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments", payload, &resp); err != nil {
		return nil, err
	}

	code := resp.PointOfInteraction.TransactionData.QRCode
	var png []byte
	if code != "" {
		// Render the copy-and-paste payload as a scannable image; the
		// provider's pre-rendered base64 is not always present.
		if img, err := qrcode.Encode(code, qrcode.Medium, 256); err == nil {
			png = img
		}
	}

	return &PaymentInstructions{
		PaymentID: resp.ID.String(),
		Method:    billing.MethodPix,
		QRCode:    code,
		QRCodePNG: png,
		TicketURL: resp.PointOfInteraction.TransactionData.TicketURL,
		Amount:    in.Plan.Price,
		ExpiresAt: expires,
	}, nil
}

func (m *MercadoPago) CreateBoletoPayment(ctx context.Context, in FixedTermInput) (*PaymentInstructions, error) {
	expires := m.now().AddDate(0, 0, 3).UTC()
	payload := map[string]any{
		"transaction_amount": toUnits(in.Plan.Price),
		"description":        in.Plan.Name,
		"payment_method_id":  "bolbradesco",
		"external_reference": in.AccountID.String(),
		"date_of_expiration": expires.Format("2006-01-02T15:04:05.000-07:00"),
		"metadata":           map[string]any{"plan_id": in.Plan.ID},
		"payer": map[string]any{
			"email":      in.Email,
			"first_name": in.FirstName,
			"last_name":  in.LastName,
			"identification": map[string]any{
				"type":   "CPF",
				"number": in.DocumentNumber,
			},
		},
	}
	if m.cfg.NotificationURL != "" {
		payload["notification_url"] = m.cfg.NotificationURL
	}

	var resp mpPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments", payload, &resp); err != nil {
		return nil, err
	}

	return &PaymentInstructions{
		PaymentID:   resp.ID.String(),
		Method:      billing.MethodBoleto,
		TicketURL:   resp.TransactionDetails.ExternalResourceURL,
		BarcodeData: resp.Barcode.Content,
		Amount:      in.Plan.Price,
		ExpiresAt:   expires,
	}, nil
}

func (m *MercadoPago) CancelSubscription(ctx context.Context, externalID string) error {
	return m.updatePreapprovalStatus(ctx, externalID, "cancelled")
}

func (m *MercadoPago) PauseSubscription(ctx context.Context, externalID string) error {
	return m.updatePreapprovalStatus(ctx, externalID, "paused")
}

func (m *MercadoPago) ReactivateSubscription(ctx context.Context, externalID string) error {
	return m.updatePreapprovalStatus(ctx, externalID, "authorized")
}

func (m *MercadoPago) updatePreapprovalStatus(ctx context.Context, id, status string) error {
	return m.do(ctx, http.MethodPut, "/preapproval/"+id, map[string]any{"status": status}, nil)
}

type mpPreapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
	NextPaymentDate   string `json:"next_payment_date"`
}

func (m *MercadoPago) GetSubscriptionDetails(ctx context.Context, externalID string) (*SubscriptionDetails, error) {
	var resp mpPreapproval
	if err := m.do(ctx, http.MethodGet, "/preapproval/"+externalID, nil, &resp); err != nil {
		return nil, err
	}

	details := &SubscriptionDetails{
		ID:     resp.ID,
		Status: resp.Status,
	}
	if ts, err := time.Parse(time.RFC3339, resp.NextPaymentDate); err == nil {
		details.NextBillingAt = &ts
	}
	return details, nil
}

// VerifyWebhookSignature checks the x-signature header: a "ts=...,v1=..."
// pair where v1 is HMAC-SHA256 over the manifest
// "id:{data.id};request-id:{x-request-id};ts:{ts};".
func (m *MercadoPago) VerifyWebhookSignature(signature, requestID string, rawBody []byte) error {
	ts, v1, err := parseXSignature(signature)
	if err != nil {
		return err
	}

	// Reject stale timestamps to limit replay of captured deliveries.
	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Join(ErrSignatureInvalid, errors.New("malformed ts"))
	}
	age := m.now().Sub(time.Unix(tsSec, 0))
	if age > m.cfg.SignatureMaxAge || age < -time.Minute {
		return errors.Join(ErrSignatureInvalid, errors.New("signature timestamp out of window"))
	}

	var body struct {
		Data struct {
			ID flexID `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return errors.Join(ErrSignatureInvalid, errors.New("malformed payload"))
	}

	// Alphanumeric data ids are lowercased in the manifest per the
	// provider's verification rules.
	dataID := strings.ToLower(body.Data.ID.String())
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)

	mac := hmac.New(sha256.New, []byte(m.cfg.WebhookSecret.Unmask()))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return ErrSignatureInvalid
	}
	return nil
}

func parseXSignature(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", errors.Join(ErrSignatureInvalid, errors.New("missing ts or v1 in x-signature"))
	}
	return ts, v1, nil
}

// ProcessWebhookNotification classifies a verified delivery. The payload
// carries only the resource id; the adapter fetches the resource to
// normalize it, so a provider outage here leaves the event unprocessed.
func (m *MercadoPago) ProcessWebhookNotification(ctx context.Context, rawBody []byte) (*billing.PaymentEvent, error) {
	var notification struct {
		ID     flexID `json:"id"`
		Type   string `json:"type"`
		Action string `json:"action"`
		Data   struct {
			ID flexID `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		return nil, fmt.Errorf("malformed notification payload: %w", err)
	}

	switch notification.Type {
	case "payment":
		return m.normalizePayment(ctx, notification.Data.ID.String(), notification.ID.String(), billing.KindCheckout)
	case "subscription_authorized_payment":
		return m.normalizePayment(ctx, notification.Data.ID.String(), notification.ID.String(), billing.KindRenewal)
	case "subscription_preapproval", "preapproval":
		return m.normalizePreapproval(ctx, notification.Data.ID.String(), notification.ID.String())
	default:
		// Test pings and resource types outside this subsystem.
		return nil, nil
	}
}

func (m *MercadoPago) normalizePayment(ctx context.Context, paymentID, sourceEventID string, kind billing.EventKind) (*billing.PaymentEvent, error) {
	var payment mpPayment
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}

	event := &billing.PaymentEvent{
		SourceEventID:     sourceEventID,
		Provider:          billing.ProviderMercadoPago,
		Kind:              kind,
		ExternalPaymentID: payment.ID.String(),
		SubscriptionID:    payment.PreapprovalID,
		Amount:            toMinorUnits(payment.TransactionAmount, payment.CurrencyID),
		Method:            mpPaymentMethod(payment.PaymentMethodID),
		ProviderStatus:    payment.Status,
	}
	if payment.PreapprovalID != "" {
		event.Kind = billing.KindRenewal
	}
	if id, err := uuid.Parse(payment.ExternalReference); err == nil {
		event.AccountID = id
	}
	if planID, ok := payment.Metadata["plan_id"].(string); ok {
		event.PlanID = planID
	}

	switch payment.Status {
	case "approved":
		event.Outcome = billing.OutcomeApproved
	case "rejected", "cancelled":
		event.Outcome = billing.OutcomeRejected
	case "charged_back":
		event.Kind = billing.KindChargeback
		event.Outcome = billing.OutcomeRejected
	case "refunded":
		event.Kind = billing.KindChargeback
		event.Outcome = billing.OutcomeRejected
	default:
		// pending, in_process, authorized
		event.Outcome = billing.OutcomePending
	}
	return event, nil
}

func (m *MercadoPago) normalizePreapproval(ctx context.Context, preapprovalID, sourceEventID string) (*billing.PaymentEvent, error) {
	var pre mpPreapproval
	if err := m.do(ctx, http.MethodGet, "/preapproval/"+preapprovalID, nil, &pre); err != nil {
		return nil, err
	}

	event := &billing.PaymentEvent{
		SourceEventID:  sourceEventID,
		Provider:       billing.ProviderMercadoPago,
		Kind:           billing.KindLifecycle,
		SubscriptionID: pre.ID,
		Method:         billing.MethodCard,
		ProviderStatus: pre.Status,
	}
	if id, err := uuid.Parse(pre.ExternalReference); err == nil {
		event.AccountID = id
	}
	return event, nil
}

func mpPaymentMethod(methodID string) billing.PaymentMethod {
	switch methodID {
	case "pix":
		return billing.MethodPix
	case "bolbradesco", "boleto", "pec":
		return billing.MethodBoleto
	default:
		return billing.MethodCard
	}
}
