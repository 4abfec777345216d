package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// Adapter is the contract every payment provider integration implements.
// All blocking operations take a context; outbound HTTP calls must carry
// an explicit timeout because webhook processing sits on the provider's
// redelivery critical path.
type Adapter interface {
	// Provider returns the key this adapter serves.
	Provider() billing.Provider

	// CreateCheckout creates a hosted checkout for the given plan.
	CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)

	// CreateSubscription creates a recurring (card) subscription.
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error)

	// CreatePixPayment and CreateBoletoPayment create one-off fixed-term
	// payments. Providers without cash-equivalent methods return
	// ErrMethodNotSupported.
	CreatePixPayment(ctx context.Context, in FixedTermInput) (*PaymentInstructions, error)
	CreateBoletoPayment(ctx context.Context, in FixedTermInput) (*PaymentInstructions, error)

	CancelSubscription(ctx context.Context, externalID string) error
	PauseSubscription(ctx context.Context, externalID string) error
	ReactivateSubscription(ctx context.Context, externalID string) error

	// VerifyWebhookSignature authenticates a webhook delivery. It must be
	// called before the payload is interpreted in any way.
	// Returns ErrSignatureInvalid on failure.
	VerifyWebhookSignature(signature, requestID string, rawBody []byte) error

	// ProcessWebhookNotification classifies and normalizes a verified
	// delivery. A (nil, nil) return means the event is irrelevant and
	// should be acknowledged without action. Errors wrapping
	// ErrProviderAPI mean the event was not processed and must not be
	// acknowledged.
	ProcessWebhookNotification(ctx context.Context, rawBody []byte) (*billing.PaymentEvent, error)

	// GetSubscriptionDetails fetches the provider-native subscription
	// state for the given external id.
	GetSubscriptionDetails(ctx context.Context, externalID string) (*SubscriptionDetails, error)
}

// CheckoutInput identifies who is buying what.
type CheckoutInput struct {
	AccountID   uuid.UUID
	Plan        billing.Plan
	Email       string
	DisplayName string
}

// CheckoutResult is what the UI needs to send the user to the provider.
type CheckoutResult struct {
	CheckoutURL  string
	PreferenceID string
	Price        billing.Money
	IsTrial      bool
}

// SubscriptionInput creates a recurring subscription directly.
type SubscriptionInput struct {
	AccountID  uuid.UUID
	Plan       billing.Plan
	Email      string
	CustomerID string // provider customer id when already known
	CardToken  string // tokenized card for providers that require it
}

// SubscriptionResult reports the created subscription.
type SubscriptionResult struct {
	SubscriptionID string
	PlanID         string
	PlanName       string
	Price          billing.Money
}

// FixedTermInput creates a one-off cash-equivalent payment.
type FixedTermInput struct {
	AccountID      uuid.UUID
	Plan           billing.Plan
	Email          string
	FirstName      string
	LastName       string
	DocumentNumber string // payer tax id, required for boleto
}

// PaymentInstructions is what the user needs to complete a Pix or Boleto
// payment.
type PaymentInstructions struct {
	PaymentID   string
	Method      billing.PaymentMethod
	QRCode      string // Pix copy-and-paste payload
	QRCodePNG   []byte // rendered QR image, PNG
	TicketURL   string // hosted payment/boleto page
	BarcodeData string // boleto barcode digits
	Amount      billing.Money
	ExpiresAt   time.Time
}

// SubscriptionDetails is the normalized view of a provider subscription.
type SubscriptionDetails struct {
	ID            string
	Status        string // provider-native status vocabulary
	PlanID        string
	NextBillingAt *time.Time
}
