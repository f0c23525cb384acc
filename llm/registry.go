package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds constructed provider adapters by name. It tracks a default
// adapter for requests that name no provider and answers capability lookups
// for fallback decisions. Safe for concurrent use.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds or replaces the provider stored under name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Default returns the designated default provider. With no designation and
// exactly one registered provider, that provider is the default; otherwise
// an undesignated registry has no default.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultProvider != "" {
		p, ok := r.providers[r.defaultProvider]
		if !ok {
			return nil, fmt.Errorf("default provider %q no longer registered", r.defaultProvider)
		}
		return p, nil
	}
	if len(r.providers) == 1 {
		for _, p := range r.providers {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no default provider designated among %d registered", len(r.providers))
}

// SetDefault designates a registered provider as the default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// FirstWithCapability returns a provider whose declared capabilities cover
// want. The default provider wins when it qualifies; otherwise candidates
// are considered in name order so the choice is stable across runs.
func (r *Registry) FirstWithCapability(want Capability) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.providers[r.defaultProvider]; ok && d.Capabilities().Has(want) {
		return d, true
	}

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := r.providers[name]; p.Capabilities().Has(want) {
			return p, true
		}
	}
	return nil, false
}

// List returns the sorted names of all registered providers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a provider. Removing the designated default clears
// the designation.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	if r.defaultProvider == name {
		r.defaultProvider = ""
	}
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
