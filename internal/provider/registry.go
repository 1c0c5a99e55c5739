package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds an adapter from its configuration.
type Constructor func(cfg Config) (Adapter, error)

// Registry maps provider names to adapter constructors. It is built once at
// startup and passed to whoever instantiates adapters.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds name to ctor. Binding a name twice is a configuration
// error and fails with DUPLICATE_PROVIDER.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("register provider: name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[name]; ok {
		return &Error{Code: CodeDuplicateProvider, Provider: name, Message: "provider already registered"}
	}
	r.ctors[name] = ctor
	return nil
}

// Create instantiates the adapter registered under name.
func (r *Registry) Create(name string, cfg Config) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknownProvider(name)
	}
	a, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	return a, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set is the collection of instantiated adapters the orchestrator works with.
// It is read-only after construction.
type Set struct {
	adapters map[string]Adapter
	names    []string
}

// NewSet indexes adapters by Name.
func NewSet(adapters ...Adapter) (*Set, error) {
	s := &Set{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		name := a.Name()
		if _, ok := s.adapters[name]; ok {
			return nil, &Error{Code: CodeDuplicateProvider, Provider: name, Message: "provider configured twice"}
		}
		s.adapters[name] = a
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Get returns the adapter bound to name.
func (s *Set) Get(name string) (Adapter, error) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, unknownProvider(name)
	}
	return a, nil
}

// Names returns the configured provider names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

func unknownProvider(name string) *Error {
	return &Error{Code: CodeUnknownProvider, Provider: name, Message: "provider not registered"}
}
