package payments

import "errors"

var (
	// ErrNoSubscription means the account has nothing to cancel, pause or
	// reactivate on the provider side.
	ErrNoSubscription = errors.New("account has no active subscription")

	// ErrValidation wraps request DTO validation failures.
	ErrValidation = errors.New("invalid request")

	// ErrCheckoutFailed is the generic user-facing failure for provider
	// errors on the interactive checkout path.
	ErrCheckoutFailed = errors.New("checkout could not be created")
)
