package billing

// PlanTier represents the product access level an account is entitled to.
type PlanTier string

const (
	TierFree   PlanTier = "FREE"
	TierTrial  PlanTier = "TRIAL"
	TierPro    PlanTier = "PRO"
	TierAgency PlanTier = "AGENCY"
)

// AccessStatus represents the current state of an account's access.
type AccessStatus string

const (
	StatusActive   AccessStatus = "ACTIVE"
	StatusPastDue  AccessStatus = "PAST_DUE"
	StatusCanceled AccessStatus = "CANCELED"
)

// Provider identifies an external payment provider.
type Provider string

const (
	ProviderNone        Provider = ""
	ProviderMercadoPago Provider = "mercadopago"
	ProviderStripe      Provider = "stripe"
)

// PaymentMethod is how a payment was (or will be) collected.
// Card payments create a recurring subscription; pix and boleto are
// cash-equivalent methods granting fixed-term access with no subscription
// object on the provider side.
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodPix    PaymentMethod = "pix"
	MethodBoleto PaymentMethod = "boleto"
)

// IsFixedTerm reports whether the method grants fixed-term access.
func (m PaymentMethod) IsFixedTerm() bool {
	return m == MethodPix || m == MethodBoleto
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxSubscriptionCreated TransactionType = "subscription_created"
	TxPaymentApproved     TransactionType = "payment_approved"
	TxPaymentFailed       TransactionType = "payment_failed"
	TxChargeback          TransactionType = "chargeback"
	TxRefund              TransactionType = "refund"
)

// Role represents the account's role for access-gate purposes.
// Authentication and role assignment live outside this module; the gate
// only needs to recognize the admin bypass.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Money represents a monetary amount in the smallest currency unit.
// R$ 49,90 is Money{Amount: 4990, Currency: "BRL"}.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount" bson:"amount"`
	Currency string `json:"currency" yaml:"currency" bson:"currency"`
}

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	IntervalNone    BillingInterval = "none" // free and trial plans
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)
