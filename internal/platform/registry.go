package platform

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps platform identifiers to configured adapter instances.
// Adapters are registered once at configuration time, not resolved per call.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its platform identifier. Registering the
// same identifier twice is a configuration bug.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Platform()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter already registered for platform %q", name)
	}
	r.adapters[name] = a
	return nil
}

// Get resolves the adapter for a platform identifier.
func (r *Registry) Get(platform string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// Platforms returns the registered platform identifiers in sorted order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
