// Package taskschedule implements deferred one-shot task dispatch: arm a
// timer for a future time, and on fire hand the task to an executor.
// Rescheduling and cancellation are supported; there is no recurrence.
package taskschedule

import (
	"context"
	"sync"
	"time"

	"github.com/archlm/reactive-runtime/ids"
	"github.com/archlm/reactive-runtime/task"
	"github.com/archlm/reactive-runtime/telemetry"
)

// Executor is the subset of task.Executor the scheduler dispatches into.
type Executor interface {
	ExecuteTask(ctx context.Context, taskType string, input any) (task.Execution, error)
}

// Entry is a snapshot of one scheduled task, as returned by
// GetScheduledTasks.
type Entry struct {
	ID            string
	TaskType      string
	ScheduledTime time.Time
}

type scheduled struct {
	id            string
	taskType      string
	input         any
	scheduledTime time.Time
	timer         *time.Timer
}

// Options configures a Scheduler. Executor is required, since every fired
// schedule is dispatched into it; all other fields are optional.
type Options struct {
	Executor Executor
	Logger   telemetry.Logger
	NewID    func() string
	Now      func() time.Time
}

// Scheduler arms single-shot timers that dispatch into an Executor when
// they fire.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*scheduled
	executor Executor
	logger   telemetry.Logger
	newID    func() string
	now      func() time.Time
}

// New constructs an empty Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		entries:  make(map[string]*scheduled),
		executor: opts.Executor,
		logger:   opts.Logger,
		newID:    opts.NewID,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = telemetry.NoopLogger{}
	}
	if s.newID == nil {
		s.newID = ids.New
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ScheduleTask arms a one-shot dispatch of taskType with input at at. A
// time already in the past fires at the next scheduler tick (delay
// clamped to zero). Returns the schedule id.
func (s *Scheduler) ScheduleTask(taskType string, input any, at time.Time) string {
	id := s.newID()
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	entry := &scheduled{id: id, taskType: taskType, input: input, scheduledTime: at}
	entry.timer = time.AfterFunc(delay, func() { s.fire(id) })
	s.entries[id] = entry
	s.mu.Unlock()
	return id
}

// fire atomically removes id from the schedule and dispatches it. Dispatch
// errors are logged and never surfaced; the scheduler has no caller to
// surface them to once the timer has already fired.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if _, err := s.executor.ExecuteTask(ctx, entry.taskType, entry.input); err != nil {
		s.logger.Error(ctx, "scheduled task dispatch failed", "taskType", entry.taskType, "error", err.Error())
	}
}

// CancelScheduledTask stops and removes the schedule identified by id. It
// returns true if a schedule was found and removed, false if id was
// already unknown (not an error).
func (s *Scheduler) CancelScheduledTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, id)
	return true
}

// RescheduleTask rearms id's timer for newTime, preserving its taskType
// and input. Returns false if id is unknown.
func (s *Scheduler) RescheduleTask(id string, newTime time.Time) bool {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	entry.timer.Stop()
	delay := newTime.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	entry.scheduledTime = newTime
	entry.timer = time.AfterFunc(delay, func() { s.fire(id) })
	s.mu.Unlock()
	return true
}

// GetScheduledTasks returns a snapshot of every currently scheduled task.
func (s *Scheduler) GetScheduledTasks() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{ID: e.id, TaskType: e.taskType, ScheduledTime: e.scheduledTime})
	}
	return out
}
