package task

import (
	"sync"

	"github.com/archlm/reactive-runtime/rterrors"
)

// Registry maps task-type strings to their Definition. Lookups are O(1).
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def under def.Type. It fails with rterrors.ErrAlreadyRegistered
// if the type is already present.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Type]; ok {
		return rterrors.Wrap(rterrors.ErrAlreadyRegistered, "task type "+def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Unregister removes taskType. It fails with rterrors.ErrNotFound if no
// definition is registered under that type.
func (r *Registry) Unregister(taskType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[taskType]; !ok {
		return rterrors.Wrap(rterrors.ErrNotFound, "task type "+taskType)
	}
	delete(r.defs, taskType)
	return nil
}

// Get returns the Definition registered for taskType, or
// rterrors.ErrNotFound if none is registered.
func (r *Registry) Get(taskType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[taskType]
	if !ok {
		return Definition{}, rterrors.Wrap(rterrors.ErrNotFound, "task type "+taskType)
	}
	return def, nil
}

// Has reports whether taskType is registered.
func (r *Registry) Has(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[taskType]
	return ok
}

// List returns every registered Definition, in no particular order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Filter returns every registered Definition for which pred returns true.
func (r *Registry) Filter(pred func(Definition) bool) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, d := range r.defs {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// FilterByResource returns every registered Definition that lists resource
// among its required Resources.
func (r *Registry) FilterByResource(resource string) []Definition {
	return r.Filter(func(d Definition) bool {
		for _, res := range d.Resources {
			if res == resource {
				return true
			}
		}
		return false
	})
}
