package brick

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
)

// ErrUnknownModule is returned when no factory serves a module path.
var ErrUnknownModule = errors.New("unknown brick module")

// Factory builds a plugin for a description. It may return a Processor or a
// legacy Func/Module.
type Factory func(desc Description) (any, error)

// Registry maps module paths to plugin factories. Modules that are files
// (e.g. "bricks/double.js") are served by the loader registered for their
// extension.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loaders   map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		loaders:   make(map[string]Factory),
	}
}

// Register serves module with factory, replacing any previous registration.
func (r *Registry) Register(module string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[module] = factory
}

// RegisterLoader serves every module whose path ends in ext (".js").
func (r *Registry) RegisterLoader(ext string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[ext] = factory
}

// Resolve finds the factory for desc.Module.
func (r *Registry) Resolve(desc Description) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.factories[desc.Module]; ok {
		return f, nil
	}
	if ext := path.Ext(desc.Module); ext != "" {
		if f, ok := r.loaders[ext]; ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModule, desc.Module)
}

// Modules lists registered module paths.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for m := range r.factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Instantiate resolves and builds a Processor for desc.
func (r *Registry) Instantiate(desc Description) (Processor, error) {
	factory, err := r.Resolve(desc)
	if err != nil {
		return nil, err
	}
	plugin, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create brick %s from %s: %w", desc.UID, desc.Module, err)
	}
	return Lift(plugin)
}
