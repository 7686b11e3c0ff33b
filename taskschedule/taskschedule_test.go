package taskschedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlm/reactive-runtime/task"
)

type recordingExecutor struct {
	mu     sync.Mutex
	calls  []string
	inputs []any
}

func (r *recordingExecutor) ExecuteTask(_ context.Context, taskType string, input any) (task.Execution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, taskType)
	r.inputs = append(r.inputs, input)
	r.mu.Unlock()
	return task.Execution{}, nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// S4 — schedule then cancel before fire.
func TestCancelScheduledTaskBeforeFirePreventsDispatch(t *testing.T) {
	exec := &recordingExecutor{}
	sched := New(Options{Executor: exec})

	id := sched.ScheduleTask("t", nil, time.Now().Add(100*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.True(t, sched.CancelScheduledTask(id))

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 0, exec.count())
}

func TestCancelUnknownScheduleReturnsFalse(t *testing.T) {
	sched := New(Options{Executor: &recordingExecutor{}})
	require.False(t, sched.CancelScheduledTask("unknown"))
}

func TestScheduleTaskFiresAndDispatches(t *testing.T) {
	exec := &recordingExecutor{}
	sched := New(Options{Executor: exec})

	sched.ScheduleTask("t", nil, time.Now().Add(10*time.Millisecond))
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPastScheduledTimeFiresImmediately(t *testing.T) {
	exec := &recordingExecutor{}
	sched := New(Options{Executor: exec})

	sched.ScheduleTask("t", nil, time.Now().Add(-time.Hour))
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRescheduleTaskPreservesTypeAndInput(t *testing.T) {
	exec := &recordingExecutor{}
	sched := New(Options{Executor: exec})

	id := sched.ScheduleTask("t", map[string]any{"k": "v"}, time.Now().Add(time.Hour))
	require.True(t, sched.RescheduleTask(id, time.Now().Add(10*time.Millisecond)))
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, []string{"t"}, exec.calls)
	require.Equal(t, map[string]any{"k": "v"}, exec.inputs[0])
}

func TestRescheduleUnknownReturnsFalse(t *testing.T) {
	sched := New(Options{Executor: &recordingExecutor{}})
	require.False(t, sched.RescheduleTask("unknown", time.Now()))
}

func TestGetScheduledTasksSnapshot(t *testing.T) {
	sched := New(Options{Executor: &recordingExecutor{}})
	sched.ScheduleTask("a", nil, time.Now().Add(time.Hour))
	sched.ScheduleTask("b", nil, time.Now().Add(time.Hour))

	entries := sched.GetScheduledTasks()
	require.Len(t, entries, 2)
}
