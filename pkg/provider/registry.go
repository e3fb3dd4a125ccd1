// Package provider holds the provider registry and the in-memory
// provider used for development and tests. Real cloud providers
// implement engine.Provider and register by component type.
package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/stackform/stackform/pkg/engine"
)

// Registry maps component types to their providers. It is populated at
// startup and read-only afterwards.
type Registry struct {
	providers map[string]engine.Provider
}

// NewRegistry builds a registry from the given providers, keyed by
// their component type. Duplicate registrations fail.
func NewRegistry(providers ...engine.Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]engine.Provider, len(providers))}
	for _, prov := range providers {
		componentType := prov.Type()
		if _, exists := r.providers[componentType]; exists {
			return nil, fmt.Errorf("duplicate provider for component type %s", componentType)
		}
		r.providers[componentType] = prov
	}
	return r, nil
}

// Provider returns the provider for a component type.
func (r *Registry) Provider(componentType string) (engine.Provider, bool) {
	prov, ok := r.providers[componentType]
	return prov, ok
}

// Observe lists every resource from every registered provider and
// returns them as the observed side of reconciliation, tagged with
// their component type.
func (r *Registry) Observe(ctx context.Context) ([]*engine.ObservedResource, error) {
	var observed []*engine.ObservedResource
	for _, componentType := range r.Types() {
		prov := r.providers[componentType]
		descriptors, err := prov.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s resources: %w", componentType, err)
		}
		for _, desc := range descriptors {
			observed = append(observed, &engine.ObservedResource{
				ID:     desc.ID,
				Type:   componentType,
				Name:   desc.Name,
				Fields: desc.Fields,
				Props:  desc.Props,
				Links:  desc.Links,
				Tags:   desc.Tags,
			})
		}
	}
	return observed, nil
}

// Types returns the registered component types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.providers))
	for componentType := range r.providers {
		types = append(types, componentType)
	}
	sort.Strings(types)
	return types
}
