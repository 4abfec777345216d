// Package billing defines the account access/billing data model, the
// immutable transaction ledger and the storage contracts shared by the
// payment gateways, the reconciler and the access gate.
//
// An account carries two independent sub-records: the access state that
// gates product features (tier, status, trial/fixed-term expiry) and the
// billing state that links the account to an external payment provider.
// Transitions of the access state come only from the self-service payment
// endpoints or from the reconciler applying provider webhooks; ledger rows
// are created only by the reconciler and are never updated or deleted.
//
// Store implementations are provided for MongoDB, PostgreSQL and an
// in-memory variant used in tests and local development. All account
// writes are guarded by an optimistic-concurrency version field so that
// racing writers (a webhook redelivery against a user-initiated cancel)
// can never interleave a lost update.
package billing
