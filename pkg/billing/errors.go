package billing

import "errors"

var (
	ErrAccountNotFound = errors.New("billing account not found")
	ErrAccountExists   = errors.New("billing account already exists")

	// ErrVersionConflict signals an optimistic-concurrency failure: the
	// account changed between read and write. Callers retry the whole
	// read-modify-write cycle.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrDuplicateTransaction is returned by TransactionStore.Append when a
	// ledger row already exists for (provider, external payment id). The
	// reconciler treats it as a clean already-applied outcome.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentRefNotFound  = errors.New("payment reference not found")

	ErrPlanNotFound             = errors.New("billing plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid billing plan configuration")

	ErrTrialAlreadyUsed = errors.New("trial already used")
)
