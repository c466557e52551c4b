package agent

import (
	"fmt"
	"slices"
	"sync"
)

// Constructor builds a fresh agent instance.
type Constructor func() (*ReActAgent, error)

// Registry maps agent names to constructors. It is built explicitly and
// passed where needed.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	desc  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]Constructor),
		desc:  make(map[string]string),
	}
}

// Register adds a constructor under name. Registering a name twice is an error.
func (r *Registry) Register(name, description string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if ctor == nil {
		return fmt.Errorf("agent %q: constructor is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return fmt.Errorf("agent %q is already registered", name)
	}
	r.ctors[name] = ctor
	r.desc[name] = description
	return nil
}

// New builds a fresh instance of the named agent.
func (r *Registry) New(name string) (*ReActAgent, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", name)
	}
	return ctor()
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// Description returns the description given at registration.
func (r *Registry) Description(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.desc[name]
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
