package payment

import (
	"sync"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

// Registry resolves a provider name to its configured adapter.
type Registry struct {
	mtx      sync.RWMutex
	adapters map[enums.GatewayProvider]Adapter
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[enums.GatewayProvider]Adapter)}
}

// Register adds an adapter. Registering nil is a no-op.
func (r *Registry) Register(adapter Adapter) {
	if adapter == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.adapters[adapter.Provider()] = adapter
}

// Resolve returns the adapter for the provider or a validation error when
// none is configured.
func (r *Registry) Resolve(provider enums.GatewayProvider) (Adapter, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment provider").
			WithDetails(map[string]any{"provider": provider})
	}
	return adapter, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []enums.GatewayProvider {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]enums.GatewayProvider, 0, len(r.adapters))
	for provider := range r.adapters {
		out = append(out, provider)
	}
	return out
}
