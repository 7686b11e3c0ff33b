// Package extension implements the runtime's named extension points: a
// closed set of sites at which registered hooks may observe or rewrite the
// parameters flowing through a core operation. The shape mirrors the
// registration-ordered, fan-out-with-short-circuit pattern used by the
// reference runtime's hook bus, generalized here to support priority
// ordering and per-point parameter threading.
package extension

import (
	"context"
	"sort"
	"sync"

	"github.com/archlm/reactive-runtime/rterrors"
)

// Point names one of the closed set of extension points a hook may attach
// to. The set is fixed; there is no mechanism to register a new point name.
type Point string

// The canonical extension points named by the runtime's components.
const (
	EventBeforePublish     Point = "EVENT_BEFORE_PUBLISH"
	EventAfterPublish      Point = "EVENT_AFTER_PUBLISH"
	TaskBeforeExecution    Point = "TASK_BEFORE_EXECUTION"
	TaskAfterCompletion    Point = "TASK_AFTER_COMPLETION"
	TaskOnError            Point = "TASK_ON_ERROR"
	ProcessBeforeCreate    Point = "PROCESS_BEFORE_CREATE"
	ProcessAfterTransition Point = "PROCESS_AFTER_TRANSITION"
)

// Hook receives the current params for a point and returns the params to
// use downstream (unchanged, or a replacement) along with an error. A
// non-nil error aborts the containing operation; the remaining hooks at
// that point never run.
type Hook func(ctx context.Context, params any) (any, error)

// Skip is the sentinel a TASK_BEFORE_EXECUTION hook returns as params to
// short-circuit the task executor and supply the execution's result
// directly, without invoking the task handler.
type Skip struct {
	Result any
}

// HookRegistration attaches a Hook to a Point with a priority. Hooks at the
// same point execute in descending priority, then registration order.
type HookRegistration struct {
	Point    Point
	Priority int
	Hook     Hook
}

// Extension is a named bundle of hook registrations. Extensions are the
// unit of registration and removal; individual hooks cannot be removed
// without removing the whole extension.
type Extension struct {
	Name  string
	Hooks []HookRegistration
}

type entry struct {
	owner    string
	priority int
	seq      int
	hook     Hook
}

// System is the runtime's extension registry and hook executor. It is
// safe for concurrent use.
type System struct {
	mu      sync.RWMutex
	byName  map[string]Extension
	byPoint map[Point][]entry
	seq     int
}

// NewSystem constructs an empty extension system.
func NewSystem() *System {
	return &System{
		byName:  make(map[string]Extension),
		byPoint: make(map[Point][]entry),
	}
}

// RegisterExtension attaches ext's hooks to their points. Registering a
// name that already exists fails with rterrors.ErrAlreadyRegistered and
// leaves the existing registration untouched.
func (s *System) RegisterExtension(ext Extension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[ext.Name]; ok {
		return rterrors.Wrap(rterrors.ErrAlreadyRegistered, "extension "+ext.Name)
	}
	s.byName[ext.Name] = ext
	for _, h := range ext.Hooks {
		s.seq++
		s.byPoint[h.Point] = append(s.byPoint[h.Point], entry{
			owner:    ext.Name,
			priority: h.Priority,
			seq:      s.seq,
			hook:     h.Hook,
		})
		sortEntries(s.byPoint[h.Point])
	}
	return nil
}

// UnregisterExtension removes ext's hooks from every point they were
// attached to. Unregistering a name that does not exist fails with
// rterrors.ErrNotFound.
func (s *System) UnregisterExtension(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return rterrors.Wrap(rterrors.ErrNotFound, "extension "+name)
	}
	delete(s.byName, name)
	for point, entries := range s.byPoint {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.owner != name {
				kept = append(kept, e)
			}
		}
		s.byPoint[point] = kept
	}
	return nil
}

// HasExtension reports whether an extension with the given name is
// currently registered.
func (s *System) HasExtension(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

// Execute threads params through every hook registered at point, in
// descending priority then registration order. Each hook's return value
// replaces params for the next hook. A hook error stops iteration and is
// returned immediately, wrapped as rterrors.ErrHookFailure with the hook's
// error as its cause.
func (s *System) Execute(ctx context.Context, point Point, params any) (any, error) {
	s.mu.RLock()
	entries := make([]entry, len(s.byPoint[point]))
	copy(entries, s.byPoint[point])
	s.mu.RUnlock()

	cur := params
	for _, e := range entries {
		if _, skipped := cur.(Skip); skipped {
			break
		}
		next, err := e.hook(ctx, cur)
		if err != nil {
			return cur, rterrors.Wrapf(rterrors.ErrHookFailure, err, string(point))
		}
		cur = next
	}
	return cur, nil
}

func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
}
