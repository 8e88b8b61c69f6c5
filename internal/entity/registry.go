package entity

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultVariant is the variant used for kinds without a configured choice.
const DefaultVariant = "default"

// Constructor builds a fresh behavior for one kind.
type Constructor func() Behavior

// Registry maps a kind to its named behavior variants and remembers which
// variant is selected.
type Registry struct {
	mu       sync.RWMutex
	variants map[Kind]map[string]Constructor
	selected map[Kind]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[Kind]map[string]Constructor),
		selected: make(map[Kind]string),
	}
}

// Register adds a variant for a kind.
func (r *Registry) Register(kind Kind, variant string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.variants[kind] == nil {
		r.variants[kind] = make(map[string]Constructor)
	}
	r.variants[kind][variant] = fn
}

// Select chooses variants by kind name, typically from the entities section
// of the configuration. Unknown kinds or variants are rejected.
func (r *Registry) Select(choices map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kindName, variant := range choices {
		kind := Kind(kindName)
		variants, ok := r.variants[kind]
		if !ok {
			return fmt.Errorf("unknown entity kind %q", kindName)
		}
		if _, ok := variants[variant]; !ok {
			return fmt.Errorf("unknown variant %q for entity kind %q", variant, kindName)
		}
		r.selected[kind] = variant
	}
	return nil
}

// Selected returns the variant in use for a kind.
func (r *Registry) Selected(kind Kind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.selected[kind]; ok {
		return v
	}
	return DefaultVariant
}

// Behavior builds the selected behavior of a kind.
func (r *Registry) Behavior(kind Kind) (Behavior, error) {
	variant := r.Selected(kind)
	r.mu.RLock()
	fn := r.variants[kind][variant]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("no behavior registered for %s (variant %q)", kind, variant)
	}
	return fn(), nil
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.variants))
	for k := range r.variants {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
