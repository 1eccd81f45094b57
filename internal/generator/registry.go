package generator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Errors for registry operations.
var (
	ErrUnknownGenerator = errors.New("unknown generator")
	ErrDuplicateName    = errors.New("generator already registered")
)

// Factory constructs a Generator from its opaque pass-through configuration.
type Factory func(cfg map[string]any, logger *zap.Logger) (Generator, error)

// Registry maps generator names to factories. It is constructed once at
// process start and passed by reference wherever resolution is needed.
// Lookups are read-mostly and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in generators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Built-in names cannot collide on a fresh registry.
	_ = r.Register("template", NewTemplate)
	_ = r.Register("phased", NewPhased)
	_ = r.Register("stub", NewStub)
	return r
}

// Register adds a named factory. Duplicate names are rejected so a typo in
// plugin wiring surfaces immediately.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("generator name is required")
	}
	if f == nil {
		return errors.New("generator factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.factories[name] = f
	return nil
}

// Resolve looks up a factory by name and constructs the generator. Unknown
// names fail closed with ErrUnknownGenerator; there is no default.
func (r *Registry) Resolve(name string, cfg map[string]any, logger *zap.Logger) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
	}
	return f(cfg, logger)
}

// Names returns the registered generator names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
