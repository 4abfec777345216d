package billing

import "github.com/google/uuid"

// EventOutcome is the normalized result of a payment attempt.
type EventOutcome string

const (
	OutcomeApproved EventOutcome = "approved"
	OutcomeRejected EventOutcome = "rejected"
	OutcomePending  EventOutcome = "pending"
)

// EventKind classifies what a provider notification is about.
type EventKind string

const (
	KindCheckout   EventKind = "checkout"
	KindRenewal    EventKind = "renewal"
	KindChargeback EventKind = "chargeback"
	KindLifecycle  EventKind = "subscription-lifecycle"
)

// PaymentEvent is the provider-neutral form of a webhook notification.
// Adapters produce it, the reconciler consumes it; it is never persisted.
type PaymentEvent struct {
	// SourceEventID is the provider's delivery/event id, used for audit
	// trail correlation only. Idempotency is keyed on ExternalPaymentID.
	SourceEventID string

	// AccountID resolves the paying account when the provider echoes our
	// reference back (metadata / external_reference). Zero when the event
	// must be resolved by subscription or payment id instead.
	AccountID uuid.UUID

	Provider          Provider
	Kind              EventKind
	Outcome           EventOutcome
	PlanID            string
	ExternalPaymentID string
	SubscriptionID    string
	Amount            Money
	Method            PaymentMethod

	// ProviderStatus is the provider-native subscription status carried by
	// lifecycle events. The reconciler maps it through an explicit table.
	ProviderStatus string

	// RelatedPaymentIDs are additional provider ids referring to the same
	// payment (e.g. the charge behind an invoice). The reconciler indexes
	// them at approval time so later chargebacks resolve regardless of
	// which id the provider sends.
	RelatedPaymentIDs []string
}
