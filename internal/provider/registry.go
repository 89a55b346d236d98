package provider

import "fmt"

// Registry maps provider IDs to their adapter instances. It is built once at
// startup from process configuration and reused for every sync; adapters are
// stateless apart from their HTTP clients and pacers.
type Registry struct {
	adapters map[ID]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for a provider.
func (r *Registry) Get(id ID) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", id)
	}
	return a, nil
}

// IDs returns the registered provider IDs.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
