package gateway

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// Registry is a pure lookup from provider key to a singleton adapter.
// Adapters are registered once at startup; a provider whose credentials
// are missing is simply not registered, which disables that provider
// without affecting the others.
type Registry struct {
	adapters map[billing.Provider]Adapter
}

// NewRegistry returns a registry with the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[billing.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, exists := r.adapters[a.Provider()]; exists {
			panic(fmt.Sprintf("gateway: adapter for provider %q already registered", a.Provider()))
		}
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter returns the adapter for the given provider key.
// Returns ErrProviderNotConfigured for unknown or disabled providers.
func (r *Registry) Adapter(provider billing.Provider) (Adapter, error) {
	a, exists := r.adapters[provider]
	if !exists {
		return nil, errors.Join(ErrProviderNotConfigured,
			fmt.Errorf("provider %q", provider))
	}
	return a, nil
}

// Has reports whether the provider is configured.
func (r *Registry) Has(provider billing.Provider) bool {
	_, exists := r.adapters[provider]
	return exists
}
