package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new Connector instance.
type Factory func() Connector

// Registry manages registered connector plugins. Adapters register
// themselves at init time; the sync engine instantiates them by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry. Tests use isolated instances;
// production code usually uses the package-level Default registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default is the registry adapters register into from init().
var Default = NewRegistry()

// Register adds a factory to the default registry. The name should be
// lowercase (e.g. "azuredevops").
func Register(name string, factory Factory) {
	Default.Register(name, factory)
}

// Register adds a factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// List returns the names of all registered connectors, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a new instance of the named connector.
func (r *Registry) New(name string) (Connector, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown connector %q (available: %v)", name, r.List())
	}
	return factory(), nil
}

// IsRegistered reports whether a connector with the given name exists.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}
