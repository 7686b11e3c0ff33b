// Package runtime implements the Runtime Facade: the composition root that
// holds references to the bus, extension system, registries, executor,
// scheduler, and process manager, and exposes lifecycle and health
// reporting over them. Noop telemetry implementations are substituted for
// every nil field in Options, following the reference runtime's facade
// constructor convention.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/archlm/reactive-runtime/eventbus"
	"github.com/archlm/reactive-runtime/eventstore"
	"github.com/archlm/reactive-runtime/extension"
	"github.com/archlm/reactive-runtime/process"
	"github.com/archlm/reactive-runtime/task"
	"github.com/archlm/reactive-runtime/taskschedule"
	"github.com/archlm/reactive-runtime/telemetry"
)

// State is one of the Runtime's lifecycle states.
type State string

// The Runtime lifecycle: initializing -> initialized -> running -> stopped.
const (
	StateInitializing State = "initializing"
	StateInitialized  State = "initialized"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
)

// Health summarizes the Runtime's current operating condition.
type Health string

// The three health values getHealth can report.
const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Options configures a Runtime. Every component (bus, extensions, event
// store, registries, executor, scheduler, process manager) is always
// constructed internally by New; Options only supplies telemetry and the
// clock.
type Options struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
	Now     func() int64
}

// Metrics reports the runtime-level counters spec.md 4.I names.
type Metrics struct {
	TasksByStatus  map[task.Status]int
	RunningTasks   int
	ScheduledTasks int
}

// Runtime holds references to every core component and tracks the
// runtime's own lifecycle state.
type Runtime struct {
	Bus          *eventbus.Bus
	Extensions   *extension.System
	EventStore   *eventstore.Store
	EventSource  *eventstore.Source
	TaskRegistry *task.Registry
	Executor     *task.Executor
	Scheduler    *taskschedule.Scheduler
	ProcessReg   *process.Registry
	Manager      *process.Manager

	logger telemetry.Logger

	mu        sync.RWMutex
	state     State
	unhealthy bool
}

// New wires every core component together and returns a Runtime in state
// initializing.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	extensions := extension.NewSystem()
	bus := eventbus.New(eventbus.Options{
		Extensions: extensions,
		Logger:     logger,
		Metrics:    metrics,
	})
	store := eventstore.NewStore()
	source := eventstore.NewSource(store, bus, now)

	taskRegistry := task.NewRegistry()
	executor := task.NewExecutor(taskRegistry, task.ExecutorOptions{
		Bus:        bus,
		Extensions: extensions,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		Now:        now,
	})
	scheduler := taskschedule.New(taskschedule.Options{
		Executor: executor,
		Logger:   logger,
	})

	processRegistry := process.NewRegistry()
	manager := process.NewManager(processRegistry, process.ManagerOptions{
		Extensions: extensions,
		Logger:     logger,
		Metrics:    metrics,
		Now:        now,
	})

	rt := &Runtime{
		Bus:          bus,
		Extensions:   extensions,
		EventStore:   store,
		EventSource:  source,
		TaskRegistry: taskRegistry,
		Executor:     executor,
		Scheduler:    scheduler,
		ProcessReg:   processRegistry,
		Manager:      manager,
		logger:       logger,
		state:        StateInitializing,
	}

	bus.Subscribe(eventbus.Wildcard, rt.persistEvent)
	return rt
}

func (rt *Runtime) persistEvent(_ context.Context, event eventbus.DomainEvent) error {
	rt.EventStore.StoreEvent(event)
	return nil
}

// Initialized transitions the runtime from initializing to initialized.
func (rt *Runtime) Initialized() {
	rt.setState(StateInitialized)
}

// Start transitions the runtime to running.
func (rt *Runtime) Start() {
	rt.setState(StateRunning)
}

// Stop transitions the runtime to stopped.
func (rt *Runtime) Stop() {
	rt.setState(StateStopped)
}

// MarkUnhealthy records a component failure; GetHealth reports
// unhealthy until the runtime is reconstructed.
func (rt *Runtime) MarkUnhealthy() {
	rt.mu.Lock()
	rt.unhealthy = true
	rt.mu.Unlock()
}

func (rt *Runtime) setState(s State) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// GetHealth reports healthy only while running, degraded while
// initializing, and unhealthy once a component failure has been recorded
// or the runtime has stopped.
func (rt *Runtime) GetHealth() Health {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.unhealthy {
		return HealthUnhealthy
	}
	switch rt.state {
	case StateRunning:
		return HealthHealthy
	case StateInitializing:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// GetMetrics rolls up task counts and scheduled-task count across the
// components the Runtime owns.
func (rt *Runtime) GetMetrics() Metrics {
	return Metrics{
		TasksByStatus:  rt.Executor.CountByStatus(),
		RunningTasks:   rt.Executor.RunningCount(),
		ScheduledTasks: len(rt.Scheduler.GetScheduledTasks()),
	}
}
