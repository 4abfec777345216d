// Package notify sends transactional billing email through Postmark:
// dunning notices on failed renewals, cancellation confirmations and
// operational alerts for chargebacks.
//
// Delivery is best-effort and never blocks reconciliation; send failures
// are logged, not returned, because access state must converge whether or
// not the mail provider is reachable.
package notify
