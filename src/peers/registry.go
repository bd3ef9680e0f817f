package peers

import (
	"iter"
	"slices"
)

// Registry is the set of peers known to a node. Membership is exact: two IDs
// are merged only if they are equal. Iteration follows insertion order.
//
// Registry is not safe for concurrent use.
type Registry struct {
	ids   []ID
	index map[ID]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[ID]struct{}),
	}
}

// Add inserts id if it is not present yet and returns the number of peers.
func (r *Registry) Add(id ID) int {
	if _, ok := r.index[id]; !ok {
		r.index[id] = struct{}{}
		r.ids = append(r.ids, id)
	}
	return len(r.ids)
}

// Remove deletes id if present. It reports whether the registry changed.
func (r *Registry) Remove(id ID) bool {
	if _, ok := r.index[id]; !ok {
		return false
	}
	delete(r.index, id)
	r.ids = slices.DeleteFunc(r.ids, func(p ID) bool { return p == id })
	return true
}

// Contains ...
func (r *Registry) Contains(id ID) bool {
	_, ok := r.index[id]
	return ok
}

// Len returns the number of peers.
func (r *Registry) Len() int {
	return len(r.ids)
}

// All yields the peers in insertion order. The sequence may be ranged over
// any number of times; each pass observes the registry as it is when the
// pass starts.
func (r *Registry) All() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for _, id := range slices.Clone(r.ids) {
			if !yield(id) {
				return
			}
		}
	}
}

// IDs returns a copy of the peers in insertion order.
func (r *Registry) IDs() []ID {
	return slices.Clone(r.ids)
}
