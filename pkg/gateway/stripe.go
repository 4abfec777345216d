package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
)

// StripeConfig holds credentials for the Stripe integration.
type StripeConfig struct {
	APIKey        config.Secret `env:"STRIPE_API_KEY,required"`
	WebhookSecret config.Secret `env:"STRIPE_WEBHOOK_SECRET,required"`
	SuccessURL    string        `env:"STRIPE_SUCCESS_URL"`
	CancelURL     string        `env:"STRIPE_CANCEL_URL"`
}

// Stripe implements Adapter on the official Stripe SDK. Stripe only
// supports recurring card billing here; the fixed-term cash methods
// return ErrMethodNotSupported.
type Stripe struct {
	cfg StripeConfig
	api *client.API
}

// NewStripe creates the adapter.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.APIKey.IsZero() || cfg.WebhookSecret.IsZero() {
		return nil, ErrMissingCredentials
	}
	api := &client.API{}
	api.Init(cfg.APIKey.Unmask(), nil)
	return &Stripe{cfg: cfg, api: api}, nil
}

func (s *Stripe) Provider() billing.Provider { return billing.ProviderStripe }

func (s *Stripe) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(in.Plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(in.AccountID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"account_id": in.AccountID.String(),
				"plan_id":    in.Plan.ID,
			},
		},
	}
	params.Context = ctx
	if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	if s.cfg.SuccessURL != "" {
		params.SuccessURL = stripe.String(s.cfg.SuccessURL)
	}
	if s.cfg.CancelURL != "" {
		params.CancelURL = stripe.String(s.cfg.CancelURL)
	}
	params.AddMetadata("account_id", in.AccountID.String())
	params.AddMetadata("plan_id", in.Plan.ID)

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &CheckoutResult{
		CheckoutURL:  session.URL,
		PreferenceID: session.ID,
		Price:        in.Plan.Price,
	}, nil
}

func (s *Stripe) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	if in.CustomerID == "" {
		return nil, errors.New("stripe: customer ID is required for direct subscription creation")
	}
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price: stripe.String(in.Plan.StripePriceID),
		}},
	}
	params.Context = ctx
	params.AddMetadata("account_id", in.AccountID.String())
	params.AddMetadata("plan_id", in.Plan.ID)

	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &SubscriptionResult{
		SubscriptionID: sub.ID,
		PlanID:         in.Plan.ID,
		PlanName:       in.Plan.Name,
		Price:          in.Plan.Price,
	}, nil
}

func (s *Stripe) CreatePixPayment(context.Context, FixedTermInput) (*PaymentInstructions, error) {
	return nil, ErrMethodNotSupported
}

func (s *Stripe) CreateBoletoPayment(context.Context, FixedTermInput) (*PaymentInstructions, error) {
	return nil, ErrMethodNotSupported
}

func (s *Stripe) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := s.api.Subscriptions.Cancel(externalID, params)
	return wrapStripeErr(err)
}

func (s *Stripe) PauseSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		},
	}
	params.Context = ctx
	_, err := s.api.Subscriptions.Update(externalID, params)
	return wrapStripeErr(err)
}

func (s *Stripe) ReactivateSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	// Clearing pause_collection requires sending an empty value, which the
	// typed params cannot express.
	params.AddExtra("pause_collection", "")
	_, err := s.api.Subscriptions.Update(externalID, params)
	return wrapStripeErr(err)
}

func (s *Stripe) GetSubscriptionDetails(ctx context.Context, externalID string) (*SubscriptionDetails, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(externalID, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	details := &SubscriptionDetails{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		details.PlanID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		ts := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		details.NextBillingAt = &ts
	}
	return details, nil
}

// VerifyWebhookSignature validates the Stripe-Signature header over the
// unmodified raw body. The requestID argument is unused; Stripe carries
// everything in the single header. API version mismatches are tolerated:
// the endpoint's pinned version is independent of the SDK's, and
// ProcessWebhookNotification parses the payload itself.
func (s *Stripe) VerifyWebhookSignature(signature, _ string, rawBody []byte) error {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	if _, err := webhook.ConstructEventWithOptions(rawBody, signature, s.cfg.WebhookSecret.Unmask(), opts); err != nil {
		return errors.Join(ErrSignatureInvalid, err)
	}
	return nil
}

// ProcessWebhookNotification normalizes a verified Stripe event. The
// payload is self-contained, so no outbound call is needed here.
func (s *Stripe) ProcessWebhookNotification(_ context.Context, rawBody []byte) (*billing.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.normalizeCheckoutSession(event)
	case "invoice.payment_succeeded":
		return s.normalizeInvoice(event, billing.OutcomeApproved)
	case "invoice.payment_failed":
		return s.normalizeInvoice(event, billing.OutcomeRejected)
	case "customer.subscription.updated":
		return s.normalizeSubscription(event, "")
	case "customer.subscription.deleted":
		// Deletion always means the subscription ended, whatever status
		// the embedded object carries.
		return s.normalizeSubscription(event, "canceled")
	case "charge.dispute.created":
		return s.normalizeDispute(event)
	default:
		return nil, nil
	}
}

func (s *Stripe) normalizeCheckoutSession(event stripe.Event) (*billing.PaymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("malformed checkout session: %w", err)
	}

	out := &billing.PaymentEvent{
		SourceEventID:     event.ID,
		Provider:          billing.ProviderStripe,
		Kind:              billing.KindCheckout,
		Outcome:           billing.OutcomeApproved,
		ExternalPaymentID: session.ID,
		Method:            billing.MethodCard,
		Amount:            billing.Money{Amount: session.AmountTotal, Currency: string(session.Currency)},
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if session.Invoice != nil {
		out.RelatedPaymentIDs = append(out.RelatedPaymentIDs, session.Invoice.ID)
	}
	if session.Customer != nil {
		out.RelatedPaymentIDs = append(out.RelatedPaymentIDs, session.Customer.ID)
	}
	if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
		out.AccountID = id
	}
	if planID, ok := session.Metadata["plan_id"]; ok {
		out.PlanID = planID
	}
	return out, nil
}

func (s *Stripe) normalizeInvoice(event stripe.Event, outcome billing.EventOutcome) (*billing.PaymentEvent, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("malformed invoice: %w", err)
	}

	out := &billing.PaymentEvent{
		SourceEventID:     event.ID,
		Provider:          billing.ProviderStripe,
		Kind:              billing.KindRenewal,
		Outcome:           outcome,
		ExternalPaymentID: invoice.ID,
		Method:            billing.MethodCard,
		Amount:            billing.Money{Amount: invoice.AmountPaid, Currency: string(invoice.Currency)},
	}
	if outcome == billing.OutcomeRejected {
		out.Amount.Amount = invoice.AmountDue
	}
	if invoice.Subscription != nil {
		out.SubscriptionID = invoice.Subscription.ID
	}
	if invoice.Charge != nil {
		out.RelatedPaymentIDs = append(out.RelatedPaymentIDs, invoice.Charge.ID)
	}
	if invoice.PaymentIntent != nil {
		out.RelatedPaymentIDs = append(out.RelatedPaymentIDs, invoice.PaymentIntent.ID)
	}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Price != nil {
		out.PlanID = invoice.Lines.Data[0].Price.ID
	}
	return out, nil
}

func (s *Stripe) normalizeSubscription(event stripe.Event, statusOverride string) (*billing.PaymentEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("malformed subscription: %w", err)
	}

	out := &billing.PaymentEvent{
		SourceEventID:  event.ID,
		Provider:       billing.ProviderStripe,
		Kind:           billing.KindLifecycle,
		SubscriptionID: sub.ID,
		Method:         billing.MethodCard,
		ProviderStatus: string(sub.Status),
	}
	if statusOverride != "" {
		out.ProviderStatus = statusOverride
	}
	if accountID, ok := sub.Metadata["account_id"]; ok {
		if id, err := uuid.Parse(accountID); err == nil {
			out.AccountID = id
		}
	}
	if planID, ok := sub.Metadata["plan_id"]; ok {
		out.PlanID = planID
	} else if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanID = sub.Items.Data[0].Price.ID
	}
	return out, nil
}

func (s *Stripe) normalizeDispute(event stripe.Event) (*billing.PaymentEvent, error) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return nil, fmt.Errorf("malformed dispute: %w", err)
	}

	out := &billing.PaymentEvent{
		SourceEventID: event.ID,
		Provider:      billing.ProviderStripe,
		Kind:          billing.KindChargeback,
		Outcome:       billing.OutcomeRejected,
		Method:        billing.MethodCard,
		Amount:        billing.Money{Amount: dispute.Amount, Currency: string(dispute.Currency)},
	}
	// The dispute references the charge, which the reconciler indexed as a
	// related payment id at approval time.
	if dispute.Charge != nil {
		out.ExternalPaymentID = dispute.Charge.ID
	}
	if dispute.PaymentIntent != nil {
		if out.ExternalPaymentID == "" {
			out.ExternalPaymentID = dispute.PaymentIntent.ID
		} else {
			out.RelatedPaymentIDs = append(out.RelatedPaymentIDs, dispute.PaymentIntent.ID)
		}
	}
	return out, nil
}

// wrapStripeErr folds transport-level and server-side failures into
// ErrProviderAPI; API errors caused by our own request pass through for
// the interactive paths to surface.
func wrapStripeErr(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return errors.Join(ErrProviderAPI, err)
		}
		return err
	}
	return errors.Join(ErrProviderAPI, err)
}
