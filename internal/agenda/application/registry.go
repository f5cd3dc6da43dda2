package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/google/uuid"
)

// RemoteCalendarFactory builds a remote client bound to one owner's
// credentials and calendar configuration.
type RemoteCalendarFactory func(ctx context.Context, ownerID uuid.UUID) (RemoteCalendar, error)

// ProviderRegistry maps provider types to remote client factories, so the
// reconciler never depends on a concrete backend.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[domain.ProviderType]RemoteCalendarFactory
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		factories: make(map[domain.ProviderType]RemoteCalendarFactory),
	}
}

// Register installs a factory for a provider type, replacing any previous one.
func (r *ProviderRegistry) Register(provider domain.ProviderType, factory RemoteCalendarFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Create builds a remote client for the given provider and owner.
func (r *ProviderRegistry) Create(ctx context.Context, provider domain.ProviderType, ownerID uuid.UUID) (RemoteCalendar, error) {
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no remote calendar registered for provider: %s", provider)
	}
	return factory(ctx, ownerID)
}

// HasProvider returns true if a factory is registered for the provider.
func (r *ProviderRegistry) HasProvider(provider domain.ProviderType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[provider]
	return ok
}

// SupportedProviders returns all registered provider types.
func (r *ProviderRegistry) SupportedProviders() []domain.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]domain.ProviderType, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	return providers
}
