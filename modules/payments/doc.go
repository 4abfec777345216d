// Package payments exposes the billing HTTP surface: provider webhooks
// and the authenticated self-service subscription endpoints.
//
// Webhook handling follows a strict order: the raw body is read once,
// the provider signature is verified before the payload is interpreted,
// then the notification is normalized and reconciled. An invalid
// signature is rejected with zero state change and the payload is never
// logged. Once the signature passes, business faults are logged and the
// delivery is still acknowledged; only provider API failures and storage
// failures leave the delivery unacknowledged so the provider retries.
//
// Authenticated endpoints resolve the caller through an injected account
// loader; authentication itself lives outside this module.
package payments
