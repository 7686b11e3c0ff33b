package process

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/archlm/reactive-runtime/extension"
	"github.com/archlm/reactive-runtime/ids"
	"github.com/archlm/reactive-runtime/rterrors"
	"github.com/archlm/reactive-runtime/telemetry"
)

// Instance is a running process: a state plus arbitrary data governed by
// a Definition.
type Instance struct {
	ID        string
	Type      string
	Version   string
	State     string
	Data      any
	CreatedAt int64
	UpdatedAt int64
	Metadata  map[string]any
	Recovery  *Recovery
}

// Recovery records the checkpoint an instance was last restored from.
type Recovery struct {
	CheckpointID string
	LastSavedAt  int64
}

// Checkpoint is an immutable snapshot of an instance's state and data.
type Checkpoint struct {
	ID          string
	ProcessID   string
	State       string
	Data        any
	CreatedAt   int64
	Version     string
	ProcessType string
}

type processRecord struct {
	mu       sync.RWMutex
	instance Instance
}

func (r *processRecord) snapshot() Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// ManagerOptions configures a Manager. All fields are optional.
type ManagerOptions struct {
	Extensions *extension.System
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	NewID      func() string
	Now        func() int64
}

// Manager drives process instance lifecycle: creation, event-driven
// transitions, and checkpoint/restore, against a Registry of definitions.
type Manager struct {
	registry   *Registry
	extensions *extension.System
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	newID      func() string
	now        func() int64

	mu          sync.RWMutex
	instances   map[string]*processRecord
	checkpoints map[string]Checkpoint
}

// NewManager constructs a Manager bound to registry.
func NewManager(registry *Registry, opts ManagerOptions) *Manager {
	m := &Manager{
		registry:    registry,
		extensions:  opts.Extensions,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		newID:       opts.NewID,
		now:         opts.Now,
		instances:   make(map[string]*processRecord),
		checkpoints: make(map[string]Checkpoint),
	}
	if m.logger == nil {
		m.logger = telemetry.NoopLogger{}
	}
	if m.metrics == nil {
		m.metrics = telemetry.NoopMetrics{}
	}
	if m.newID == nil {
		m.newID = ids.New
	}
	if m.now == nil {
		m.now = func() int64 { return 0 }
	}
	return m
}

// CreateOptions customizes CreateProcess.
type CreateOptions struct {
	Version  string
	Metadata map[string]any
}

// CreateProcess instantiates a new Instance of typ, running
// entryActions[initialState] over data if present. Entry-action errors
// are logged; the instance still ends up in initialState with the
// original data.
func (m *Manager) CreateProcess(ctx context.Context, typ string, data any, opts CreateOptions) (Instance, error) {
	def, err := m.registry.GetProcessDefinitionByType(typ, opts.Version)
	if err != nil {
		return Instance{}, err
	}

	if m.extensions != nil {
		result, hookErr := m.extensions.Execute(ctx, extension.ProcessBeforeCreate, map[string]any{
			"type": typ,
			"data": data,
		})
		if hookErr != nil {
			return Instance{}, hookErr
		}
		if params, ok := result.(map[string]any); ok {
			if d, ok := params["data"]; ok {
				data = d
			}
		}
	}

	now := m.now()
	inst := Instance{
		ID:        m.newID(),
		Type:      typ,
		Version:   def.Version,
		State:     def.InitialState,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  opts.Metadata,
	}

	if action, ok := def.EntryActions[def.InitialState]; ok {
		newData, err := action(data)
		if err != nil {
			m.logger.Error(ctx, "entry action failed", "processType", typ, "state", def.InitialState, "error", err.Error())
		} else {
			inst.Data = newData
			inst.UpdatedAt = m.now()
		}
	}

	rec := &processRecord{instance: inst}
	m.mu.Lock()
	m.instances[inst.ID] = rec
	m.mu.Unlock()

	m.metrics.IncCounter("process.created", 1, "type", typ)
	return rec.snapshot(), nil
}

// GetProcess returns the instance identified by id, or
// rterrors.ErrNotFound.
func (m *Manager) GetProcess(id string) (Instance, error) {
	m.mu.RLock()
	rec, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return Instance{}, rterrors.Wrap(rterrors.ErrNotFound, "process "+id)
	}
	return rec.snapshot(), nil
}

// ApplyEvent looks up the transition matching the instance's current
// state and eventName. Fails with rterrors.ErrNoTransition if none
// matches, or rterrors.ErrGuardRejected if the matching transition's
// guard rejects payload. On success, runs exit then entry actions
// (errors logged, not propagated), records metadata.lastTransition, and
// emits the PROCESS_AFTER_TRANSITION extension point.
func (m *Manager) ApplyEvent(ctx context.Context, id, eventName string, payload any) (Instance, error) {
	m.mu.RLock()
	rec, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return Instance{}, rterrors.Wrap(rterrors.ErrNotFound, "process "+id)
	}

	inst := rec.snapshot()
	def, err := m.registry.GetProcessDefinition(inst.Type, inst.Version)
	if err != nil {
		return Instance{}, err
	}

	transition, ok := def.findTransition(inst.State, eventName)
	if !ok {
		return Instance{}, rterrors.Wrap(rterrors.ErrNoTransition, inst.State+" -["+eventName+"]-> ?")
	}
	if transition.Guard != nil && !transition.Guard(inst.Data, payload) {
		return Instance{}, rterrors.Wrap(rterrors.ErrGuardRejected, inst.State+" -["+eventName+"]-> "+transition.To)
	}

	if action, ok := def.ExitActions[inst.State]; ok {
		newData, err := action(inst.Data)
		if err != nil {
			m.logger.Error(ctx, "exit action failed", "processType", inst.Type, "state", inst.State, "error", err.Error())
		} else {
			inst.Data = newData
		}
	}

	now := m.now()
	oldState := inst.State
	inst.State = transition.To
	inst.UpdatedAt = now
	inst.Metadata = mergeMetadata(inst.Metadata, map[string]any{
		"lastTransition": map[string]any{
			"from":      oldState,
			"to":        transition.To,
			"event":     eventName,
			"timestamp": now,
		},
	})

	if action, ok := def.EntryActions[transition.To]; ok {
		newData, err := action(inst.Data)
		if err != nil {
			m.logger.Error(ctx, "entry action failed", "processType", inst.Type, "state", transition.To, "error", err.Error())
		} else {
			inst.Data = newData
		}
	}

	rec.mu.Lock()
	rec.instance = inst
	rec.mu.Unlock()

	m.metrics.IncCounter("process.transition", 1, "type", inst.Type, "event", eventName)

	if m.extensions != nil {
		if _, err := m.extensions.Execute(ctx, extension.ProcessAfterTransition, map[string]any{
			"processId": id,
			"from":      oldState,
			"to":        transition.To,
			"event":     eventName,
		}); err != nil {
			m.logger.Error(ctx, "process after-transition hook failed", "processId", id, "error", err.Error())
		}
	}

	return rec.snapshot(), nil
}

// SaveCheckpoint deep-snapshots the instance's state and data into an
// immutable Checkpoint, and stamps instance.metadata.latestCheckpoint.
func (m *Manager) SaveCheckpoint(id string) (Checkpoint, error) {
	m.mu.RLock()
	rec, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return Checkpoint{}, rterrors.Wrap(rterrors.ErrNotFound, "process "+id)
	}

	inst := rec.snapshot()
	cp := Checkpoint{
		ID:          m.newID(),
		ProcessID:   id,
		State:       inst.State,
		Data:        deepCopy(inst.Data),
		CreatedAt:   m.now(),
		Version:     inst.Version,
		ProcessType: inst.Type,
	}

	m.mu.Lock()
	m.checkpoints[cp.ID] = cp
	m.mu.Unlock()

	rec.mu.Lock()
	rec.instance.Metadata = mergeMetadata(rec.instance.Metadata, map[string]any{"latestCheckpoint": cp.ID})
	rec.mu.Unlock()

	return cp, nil
}

// RestoreFromCheckpoint rehydrates the instance identified by id from the
// checkpoint identified by checkpointID: state, data, version, and type
// come from the checkpoint, createdAt is preserved from the existing
// instance, updatedAt is set to now, and recovery/metadata are stamped to
// record the restore.
func (m *Manager) RestoreFromCheckpoint(id, checkpointID string) (Instance, error) {
	m.mu.RLock()
	rec, recOk := m.instances[id]
	cp, cpOk := m.checkpoints[checkpointID]
	m.mu.RUnlock()
	if !cpOk {
		return Instance{}, rterrors.Wrap(rterrors.ErrNotFound, "checkpoint "+checkpointID)
	}

	now := m.now()
	var createdAt int64
	if recOk {
		createdAt = rec.snapshot().CreatedAt
	} else {
		createdAt = now
	}

	inst := Instance{
		ID:        id,
		Type:      cp.ProcessType,
		Version:   cp.Version,
		State:     cp.State,
		Data:      deepCopy(cp.Data),
		CreatedAt: createdAt,
		UpdatedAt: now,
		Metadata: map[string]any{
			"restoredFrom": checkpointID,
			"restoredAt":   now,
		},
		Recovery: &Recovery{CheckpointID: checkpointID, LastSavedAt: cp.CreatedAt},
	}

	newRec := &processRecord{instance: inst}
	m.mu.Lock()
	m.instances[id] = newRec
	m.mu.Unlock()

	return newRec.snapshot(), nil
}

func mergeMetadata(base map[string]any, additions map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(additions))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range additions {
		out[k] = v
	}
	return out
}

// deepCopy produces a structurally independent copy of v via a JSON
// marshal/unmarshal round trip. This is sufficient for the plain
// data/map/slice payloads process instances carry; it does not preserve
// types that do not round-trip through JSON (e.g. channels, funcs).
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
