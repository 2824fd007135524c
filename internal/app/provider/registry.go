package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Spec names an adapter and its settings.
type Spec struct {
	Name    string         `yaml:"name" json:"name"`
	Adapter string         `yaml:"adapter" json:"adapter"`
	Config  map[string]any `yaml:"config" json:"config,omitempty"`
}

// Factory constructs an adapter from its settings.
type Factory func(ctx context.Context, cfg map[string]any) (Adapter, error)

// Registry maintains adapter factories keyed by adapter identifier.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty adapter factory registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		factories: make(map[string]Factory),
	}
}

// Register registers a factory for the adapter identifier.
func (r *Registry) Register(adapter string, factory Factory) {
	if factory == nil {
		panic("adapter factory required")
	}
	r.mu.Lock()
	r.factories[strings.ToLower(strings.TrimSpace(adapter))] = factory
	r.mu.Unlock()
}

// Adapters lists registered identifiers in sorted order.
func (r *Registry) Adapters() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Create builds the adapter described by spec.
func (r *Registry) Create(ctx context.Context, spec Spec) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(spec.Adapter))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", spec.Adapter)
	}
	adapter, err := factory(ctx, spec.Config)
	if err != nil {
		return nil, fmt.Errorf("instantiate adapter %s(%s): %w", spec.Name, spec.Adapter, err)
	}
	return adapter, nil
}
