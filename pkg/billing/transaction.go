package billing

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is an immutable ledger entry. Rows are created only by the
// reconciler, never updated and never deleted (audit/legal retention).
// The pair (Provider, ExternalPaymentID) is unique per provider and serves
// as the idempotency key for webhook redeliveries.
type Transaction struct {
	ID                string          `json:"id" bson:"_id"`
	AccountID         uuid.UUID       `json:"account_id" bson:"account_id"`
	Type              TransactionType `json:"type" bson:"type"`
	Provider          Provider        `json:"provider" bson:"provider"`
	ExternalPaymentID string          `json:"external_payment_id" bson:"external_payment_id"`
	SubscriptionID    string          `json:"subscription_id,omitempty" bson:"subscription_id,omitempty"`
	PlanID            string          `json:"plan_id" bson:"plan_id"`
	Amount            Money           `json:"amount" bson:"amount"`
	Status            string          `json:"status" bson:"status"`
	Method            PaymentMethod   `json:"method" bson:"method"`
	CreatedAt         time.Time       `json:"created_at" bson:"created_at"`
}

// PaymentRef maps a provider payment id back to the paying account. The
// reconciler records one at approval time so that a later chargeback,
// which carries only the payment id, always resolves to an account.
type PaymentRef struct {
	Provider          Provider  `json:"provider" bson:"provider"`
	ExternalPaymentID string    `json:"external_payment_id" bson:"external_payment_id"`
	AccountID         uuid.UUID `json:"account_id" bson:"account_id"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}
