package reconcile

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// Provider lifecycle statuses map to the internal vocabulary through
// these tables. Every status a provider can send must appear exactly
// once; an absent status fails reconciliation loudly instead of being
// guessed at.

var mercadoPagoStatusMap = map[string]billing.AccessStatus{
	"pending":    billing.StatusPastDue, // awaiting authorization, no access yet
	"authorized": billing.StatusActive,
	"paused":     billing.StatusPastDue,
	"cancelled":  billing.StatusCanceled,
}

var stripeStatusMap = map[string]billing.AccessStatus{
	"trialing":           billing.StatusActive,
	"active":             billing.StatusActive,
	"past_due":           billing.StatusPastDue,
	"unpaid":             billing.StatusPastDue,
	"incomplete":         billing.StatusPastDue,
	"incomplete_expired": billing.StatusCanceled,
	"paused":             billing.StatusPastDue,
	"canceled":           billing.StatusCanceled,
}

// mapProviderStatus resolves a provider-native subscription status to the
// internal access status.
func mapProviderStatus(provider billing.Provider, status string) (billing.AccessStatus, error) {
	var table map[string]billing.AccessStatus
	switch provider {
	case billing.ProviderMercadoPago:
		table = mercadoPagoStatusMap
	case billing.ProviderStripe:
		table = stripeStatusMap
	default:
		return "", errors.Join(ErrUnmappedProviderStatus,
			fmt.Errorf("no status table for provider %q", provider))
	}

	mapped, ok := table[status]
	if !ok {
		return "", errors.Join(ErrUnmappedProviderStatus,
			fmt.Errorf("provider %q status %q", provider, status))
	}
	return mapped, nil
}
