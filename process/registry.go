// Package process implements the runtime's process registry and manager:
// versioned finite-state-machine definitions, instances, transitions with
// guards and entry/exit actions, and checkpoint/restore.
package process

import (
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/archlm/reactive-runtime/rterrors"
)

// Transition is one legal {from, event} -> to edge. Guard, when set, must
// return true for the transition to apply.
type Transition struct {
	From  string
	To    string
	Event string
	Guard func(data, payload any) bool
}

// ActionFunc runs on entry to, or exit from, a state. It may return a
// replacement for data; errors are logged by the manager but never abort
// the containing operation.
type ActionFunc func(data any) (any, error)

// Definition describes a versioned process type: its states, legal
// transitions, and entry/exit actions.
type Definition struct {
	Type         string
	Version      string
	InitialState string
	States       []string
	FinalStates  []string
	Transitions  []Transition
	EntryActions map[string]ActionFunc
	ExitActions  map[string]ActionFunc
	Metadata     map[string]any
}

func (d Definition) hasState(s string) bool {
	for _, st := range d.States {
		if st == s {
			return true
		}
	}
	return false
}

// validate checks that InitialState and every transition endpoint lie
// within States.
func (d Definition) validate() error {
	if !d.hasState(d.InitialState) {
		return rterrors.Wrap(rterrors.ErrInvalidDefinition, "initial state "+d.InitialState+" not in states")
	}
	for _, t := range d.Transitions {
		if !d.hasState(t.From) {
			return rterrors.Wrap(rterrors.ErrInvalidDefinition, "transition from-state "+t.From+" not in states")
		}
		if !d.hasState(t.To) {
			return rterrors.Wrap(rterrors.ErrInvalidDefinition, "transition to-state "+t.To+" not in states")
		}
	}
	return nil
}

// findTransition returns the transition matching (from, event), if any.
func (d Definition) findTransition(from, event string) (Transition, bool) {
	for _, t := range d.Transitions {
		if t.From == from && t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

type versionKey struct {
	typ     string
	version string
}

// Registry indexes process definitions by both type and (type, version).
type Registry struct {
	mu     sync.RWMutex
	byKey  map[versionKey]Definition
	byType map[string][]Definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[versionKey]Definition),
		byType: make(map[string][]Definition),
	}
}

// RegisterProcess validates def and adds it to the registry. It fails
// with rterrors.ErrInvalidDefinition if InitialState or a transition
// endpoint lies outside def.States, or with rterrors.ErrAlreadyRegistered
// if (def.Type, def.Version) is already registered.
func (r *Registry) RegisterProcess(def Definition) error {
	if _, err := semver.NewVersion(def.Version); err != nil {
		return rterrors.Wrap(rterrors.ErrInvalidDefinition, "version "+def.Version+" is not valid semver")
	}
	if err := def.validate(); err != nil {
		return err
	}

	key := versionKey{typ: def.Type, version: def.Version}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; ok {
		return rterrors.Wrap(rterrors.ErrAlreadyRegistered, "process "+def.Type+"@"+def.Version)
	}
	r.byKey[key] = def
	r.byType[def.Type] = append(r.byType[def.Type], def)
	return nil
}

// UnregisterProcess removes the (type, version) definition. It fails with
// rterrors.ErrNotFound if no such definition is registered.
func (r *Registry) UnregisterProcess(typ, version string) error {
	key := versionKey{typ: typ, version: version}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; !ok {
		return rterrors.Wrap(rterrors.ErrNotFound, "process "+typ+"@"+version)
	}
	delete(r.byKey, key)
	defs := r.byType[typ]
	for i, d := range defs {
		if d.Version == version {
			r.byType[typ] = append(defs[:i], defs[i+1:]...)
			break
		}
	}
	return nil
}

// GetProcessDefinition returns the (type, version) definition exactly, or
// rterrors.ErrNotFound.
func (r *Registry) GetProcessDefinition(typ, version string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[versionKey{typ: typ, version: version}]
	if !ok {
		return Definition{}, rterrors.Wrap(rterrors.ErrNotFound, "process "+typ+"@"+version)
	}
	return def, nil
}

// GetProcessDefinitionByType returns the exact (type, version) match when
// version is non-empty, else the semver-highest definition registered for
// typ. Fails with rterrors.ErrNotFound if typ has no registered
// definitions, or the exact version is missing.
func (r *Registry) GetProcessDefinitionByType(typ, version string) (Definition, error) {
	if version != "" {
		return r.GetProcessDefinition(typ, version)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := r.byType[typ]
	if len(defs) == 0 {
		return Definition{}, rterrors.Wrap(rterrors.ErrNotFound, "process type "+typ)
	}

	best := defs[0]
	bestVer := semver.MustParse(best.Version)
	for _, d := range defs[1:] {
		v := semver.MustParse(d.Version)
		if v.GreaterThan(bestVer) {
			best = d
			bestVer = v
		}
	}
	return best, nil
}

// List returns every registered definition across every type and version.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byKey))
	for _, d := range r.byKey {
		out = append(out, d)
	}
	return out
}
