package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Factory builds a Queue from config. Each backend registers itself in
// init(); the server picks one by its configured name.
type Factory interface {
	Name() string
	Create(cfg Config, logger zerolog.Logger) (Queue, error)
}

// Registry holds registered queue backends.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a backend factory.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

// Create builds a Queue for the named backend.
func (r *Registry) Create(name string, cfg Config, logger zerolog.Logger) (Queue, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown queue backend: %s (have %v)", name, r.ListRegistered())
	}
	return factory.Create(cfg, logger)
}

// ListRegistered returns registered backend names, sorted.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlobalRegistry is the registry backends attach to from init().
var GlobalRegistry = NewRegistry()
