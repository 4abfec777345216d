package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists billing accounts.
type AccountStore interface {
	// Get retrieves an account by ID.
	// Returns ErrAccountNotFound if no account exists.
	Get(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByCustomerID resolves an account from a provider customer id.
	GetByCustomerID(ctx context.Context, provider Provider, customerID string) (*Account, error)

	// GetBySubscriptionID resolves an account from a provider subscription id.
	GetBySubscriptionID(ctx context.Context, provider Provider, subscriptionID string) (*Account, error)

	// Create inserts a new account. Returns ErrAccountExists on duplicate ID.
	Create(ctx context.Context, account *Account) error

	// Save updates an account with a conditional write on Version.
	// On success the stored and in-memory Version are incremented.
	// Returns ErrVersionConflict when the stored version differs.
	Save(ctx context.Context, account *Account) error

	// ListExpiredTrials returns accounts still marked as live trials whose
	// trial window lapsed before the given time.
	ListExpiredTrials(ctx context.Context, before time.Time) ([]*Account, error)

	// ListExpiredFixedTerm returns active fixed-term accounts whose
	// validity lapsed before the given time.
	ListExpiredFixedTerm(ctx context.Context, before time.Time) ([]*Account, error)
}

// TransactionStore persists the append-only payment ledger.
type TransactionStore interface {
	// Append inserts a ledger row. Returns ErrDuplicateTransaction when a
	// row already exists for (tx.Provider, tx.ExternalPaymentID); the
	// uniqueness must hold under concurrent appends.
	Append(ctx context.Context, tx *Transaction) error

	// GetByProviderPaymentID fetches the row for the idempotency key.
	// Returns ErrTransactionNotFound when absent.
	GetByProviderPaymentID(ctx context.Context, provider Provider, paymentID string) (*Transaction, error)

	// ListByAccount returns the account's ledger, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error)
}

// PaymentRefStore persists the payment-id to account index used to resolve
// chargebacks. Put is idempotent: re-recording the same reference is a
// no-op.
type PaymentRefStore interface {
	Put(ctx context.Context, ref *PaymentRef) error
	Resolve(ctx context.Context, provider Provider, paymentID string) (uuid.UUID, error)
}
