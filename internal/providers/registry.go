package providers

import (
	"fmt"
	"sync"

	"github.com/aleck31/aibox/internal/models"
)

// Registry maps API providers to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.APIProvider]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[models.APIProvider]Adapter{}}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// For returns the adapter that serves the given model.
func (r *Registry) For(m *models.Model) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[m.Provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", m.Provider)
	}
	return a, nil
}
