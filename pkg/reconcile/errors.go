package reconcile

import "errors"

var (
	// ErrAccountNotResolved means the event references no known account.
	// On the webhook path this is logged as a warning and the event is
	// still acknowledged: nothing to do is not a delivery failure.
	ErrAccountNotResolved = errors.New("event account could not be resolved")

	// ErrUnresolvedChargeback is the hard variant for chargebacks: losing
	// track of who was charged back is a data-integrity incident that
	// must page someone, not produce an orphan ledger row.
	ErrUnresolvedChargeback = errors.New("chargeback account could not be resolved")

	// ErrUnmappedProviderStatus means a lifecycle event carried a status
	// missing from the provider's mapping table.
	ErrUnmappedProviderStatus = errors.New("provider status has no internal mapping")

	// ErrConflictRetryExhausted means the per-account optimistic write
	// kept conflicting. With the account lock held this indicates an
	// out-of-band writer.
	ErrConflictRetryExhausted = errors.New("account write conflict retries exhausted")
)
