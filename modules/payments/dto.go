package payments

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// CreateCheckoutRequest starts a checkout for a plan. Provider is
// optional; when empty the service picks the provider the plan is
// configured for.
type CreateCheckoutRequest struct {
	PlanID   string `json:"planId" validate:"required"`
	Provider string `json:"provider" validate:"omitempty,oneof=mercadopago stripe"`
}

// CheckoutResponse is what the client needs to continue the purchase.
// Trials complete locally, so both URL fields stay empty and IsTrial is
// set.
type CheckoutResponse struct {
	CheckoutURL  string        `json:"checkoutUrl,omitempty"`
	PreferenceID string        `json:"preferenceId,omitempty"`
	Price        billing.Money `json:"price"`
	IsTrial      bool          `json:"isTrial"`
}

// CreatePixRequest creates a Pix payment for a plan.
type CreatePixRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// CreateBoletoRequest creates a Boleto payment for a plan. The payer tax
// id is required by the issuing bank.
type CreateBoletoRequest struct {
	PlanID         string `json:"planId" validate:"required"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	DocumentNumber string `json:"documentNumber" validate:"required,min=11,max=14"`
}

// PaymentInstructionsResponse carries what the user needs to pay.
type PaymentInstructionsResponse struct {
	PaymentID   string        `json:"paymentId"`
	Method      string        `json:"method"`
	QRCode      string        `json:"qrCode,omitempty"`
	QRCodePNG   []byte        `json:"qrCodePng,omitempty"` // base64 in JSON
	TicketURL   string        `json:"ticketUrl,omitempty"`
	BarcodeData string        `json:"barcodeData,omitempty"`
	Amount      billing.Money `json:"amount"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// SubscriptionStatusResponse is the account's billing state as shown in
// the UI. DaysRemaining is -1 for provider-managed recurring access.
type SubscriptionStatusResponse struct {
	PlanID        string `json:"planId"`
	Status        string `json:"status"`
	HasAccess     bool   `json:"hasAccess"`
	DaysRemaining int    `json:"daysRemaining"`
	IsRecurring   bool   `json:"isRecurring"`
	CanCancel     bool   `json:"canCancel"`
}
