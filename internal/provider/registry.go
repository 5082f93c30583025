package provider

import (
	"fmt"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
)

type registryKey struct {
	kind    domain.ProviderKind
	service string
}

// Registry maps (provider kind, service) pairs to adapters.
type Registry struct {
	adapters map[registryKey]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register binds an adapter. Manual CSV adapters register with an empty
// service.
func (r *Registry) Register(kind domain.ProviderKind, service string, a Adapter) {
	r.adapters[registryKey{kind: kind, service: service}] = a
}

// For returns the adapter serving acct.
func (r *Registry) For(acct configstore.AccountConfig) (Adapter, error) {
	service := acct.Service
	if acct.ProviderKind == domain.ProviderManualCSV {
		service = ""
	}
	a, ok := r.adapters[registryKey{kind: acct.ProviderKind, service: service}]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for provider %q service %q",
			domain.ErrProviderData, acct.ProviderKind, acct.Service)
	}
	return a, nil
}
