// Package gateway abstracts the external payment providers behind one
// Adapter contract and a Registry that selects the adapter for a provider
// key.
//
// Two adapters are implemented. Mercado Pago supports recurring
// subscriptions (preapprovals) plus the fixed-term cash-equivalent
// methods Pix and Boleto, and verifies webhooks with an HMAC computed
// from delivery headers. Stripe supports recurring card billing only and
// verifies webhooks with a signature over the unmodified raw body.
//
// Adapters normalize provider notifications into billing.PaymentEvent;
// they never touch account state themselves.
package gateway
