// Package reconcile applies normalized payment events to account state
// and the transaction ledger, idempotently and under a per-account lock.
//
// Every Apply call is one logical unit: resolve the paying account,
// check the (provider, payment id) idempotency key, mutate the account
// access state, append the ledger row and the audit entry. Redeliveries
// and racing duplicates observe a clean already-applied outcome. The
// account mutation is saved before the ledger row is appended: a crash
// between the two leaves no ledger row, the delivery is not acknowledged
// and the provider's redelivery converges the state (mutations set
// absolute state, so reapplying is harmless).
//
// Provider status vocabularies are mapped to the internal vocabulary
// through explicit, total tables; an unknown provider status is an error,
// never an inference.
package reconcile
