package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlm/reactive-runtime/task"
)

func TestNewStartsInitializing(t *testing.T) {
	rt := New(Options{})
	require.Equal(t, HealthDegraded, rt.GetHealth())
}

func TestLifecycleTransitionsHealth(t *testing.T) {
	rt := New(Options{})
	require.Equal(t, HealthDegraded, rt.GetHealth())

	rt.Initialized()
	require.Equal(t, HealthUnhealthy, rt.GetHealth())

	rt.Start()
	require.Equal(t, HealthHealthy, rt.GetHealth())

	rt.Stop()
	require.Equal(t, HealthUnhealthy, rt.GetHealth())
}

func TestMarkUnhealthyOverridesRunningState(t *testing.T) {
	rt := New(Options{})
	rt.Start()
	require.Equal(t, HealthHealthy, rt.GetHealth())

	rt.MarkUnhealthy()
	require.Equal(t, HealthUnhealthy, rt.GetHealth())
}

func TestRuntimeWiresEventPersistence(t *testing.T) {
	rt := New(Options{})
	require.NoError(t, rt.TaskRegistry.Register(task.Definition{
		Type: "noop",
		Handler: func(context.Context, *task.Context) (any, error) {
			return "ok", nil
		},
	}))

	_, err := rt.Executor.ExecuteTask(context.Background(), "noop", nil)
	require.NoError(t, err)

	events := rt.EventStore.GetAllEvents()
	require.NotEmpty(t, events)
}

func TestGetMetricsReflectsRunningAndScheduledCounts(t *testing.T) {
	rt := New(Options{})
	require.NoError(t, rt.TaskRegistry.Register(task.Definition{
		Type: "noop",
		Handler: func(context.Context, *task.Context) (any, error) {
			return "ok", nil
		},
	}))
	rt.Scheduler.ScheduleTask("noop", nil, time.Now().Add(time.Hour))

	_, err := rt.Executor.ExecuteTask(context.Background(), "noop", nil)
	require.NoError(t, err)

	m := rt.GetMetrics()
	require.Equal(t, 0, m.RunningTasks)
	require.Equal(t, 1, m.ScheduledTasks)
	require.Equal(t, 1, m.TasksByStatus[task.StatusCompleted])
}
