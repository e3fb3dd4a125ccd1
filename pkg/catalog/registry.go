package catalog

import (
	"fmt"
	"sort"
)

// Registry is the read-only mapping from component name to its
// definition. It is populated once at startup and never mutated
// afterwards, so concurrent readers need no locking.
type Registry struct {
	defs map[string]*ComponentDefinition
}

// NewRegistry builds a registry from loaded definitions, rejecting
// duplicate component names.
func NewRegistry(defs []*ComponentDefinition) (*Registry, error) {
	byName := make(map[string]*ComponentDefinition, len(defs))
	for _, def := range defs {
		if _, exists := byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate component definition: %s", def.Name)
		}
		byName[def.Name] = def
	}
	return &Registry{defs: byName}, nil
}

// Get returns the definition for the given component name.
func (r *Registry) Get(name string) (*ComponentDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered component names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.defs)
}
