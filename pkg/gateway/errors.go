package gateway

import "errors"

var (
	// ErrProviderNotConfigured is a configuration error: the requested
	// provider has no registered adapter. It disables only requests
	// needing that provider, never the whole service.
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// ErrSignatureInvalid means webhook authentication failed. The caller
	// must reject the delivery without any state change and must not log
	// the payload in full.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrProviderAPI wraps timeouts and 5xx responses from outbound
	// provider calls. On the webhook path the event must be left
	// unacknowledged so the provider redelivers.
	ErrProviderAPI = errors.New("payment provider API error")

	// ErrMethodNotSupported is returned for payment methods the provider
	// does not offer (e.g. Pix on a card-only provider).
	ErrMethodNotSupported = errors.New("payment method not supported by provider")

	ErrMissingCredentials = errors.New("payment provider credentials missing")
)
