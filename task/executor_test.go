package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlm/reactive-runtime/eventbus"
	"github.com/archlm/reactive-runtime/extension"
)

type eventRecorder struct {
	mu     sync.Mutex
	byType map[string]int
	order  []string
}

func newEventRecorder(bus *eventbus.Bus) *eventRecorder {
	r := &eventRecorder{byType: make(map[string]int)}
	bus.Subscribe(eventbus.Wildcard, func(_ context.Context, e eventbus.DomainEvent) error {
		r.mu.Lock()
		r.byType[e.Type]++
		r.order = append(r.order, e.Type)
		r.mu.Unlock()
		return nil
	})
	return r
}

func (r *eventRecorder) count(t string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byType[t]
}

func newTestExecutor() (*Executor, *eventbus.Bus, *eventRecorder) {
	bus := eventbus.New(eventbus.Options{})
	rec := newEventRecorder(bus)
	registry := NewRegistry()
	exec := NewExecutor(registry, ExecutorOptions{
		Bus: bus,
		Sleep: func(context.Context, time.Duration) {
			// tests don't need to wait out real backoff delays
		},
	})
	return exec, bus, rec
}

// S1 — retry then success.
func TestExecuteTaskRetryThenSuccess(t *testing.T) {
	exec, _, rec := newTestExecutor()
	require.NoError(t, exec.registry.Register(Definition{
		Type: "double",
		RetryPolicy: &RetryPolicy{
			MaxAttempts:     3,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    10 * time.Millisecond,
			MaxDelay:        100 * time.Millisecond,
		},
		Handler: func(_ context.Context, tc *Context) (any, error) {
			if tc.AttemptNumber < 3 {
				return nil, errors.New("transient")
			}
			return tc.Input.(int) * 2, nil
		},
	}))

	result, err := exec.ExecuteTask(context.Background(), "double", 21)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 42, result.Result)
	require.Equal(t, 3, result.AttemptNumber)

	require.Equal(t, 3, rec.count(EventStarted))
	require.Equal(t, 2, rec.count(EventRetryAttempt))
	require.Equal(t, 1, rec.count(EventCompleted))
	require.Equal(t, 2, rec.count(EventFailed))
}

// S2 — timeout, no retry on timeout.
func TestExecuteTaskTimeoutNoRetry(t *testing.T) {
	exec, _, _ := newTestExecutor()
	require.NoError(t, exec.registry.Register(Definition{
		Type:    "slow",
		Timeout: 20 * time.Millisecond,
		RetryPolicy: &RetryPolicy{
			MaxAttempts:     2,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    time.Millisecond,
			RetryOnTimeout:  false,
		},
		Handler: func(ctx context.Context, tc *Context) (any, error) {
			select {
			case <-time.After(100 * time.Millisecond):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	result, err := exec.ExecuteTask(context.Background(), "slow", nil)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "TIMEOUT", result.Error.Code)
	require.Equal(t, 1, result.AttemptNumber)
}

func TestExecuteTaskTimeoutRetriesWhenRetryOnTimeoutSet(t *testing.T) {
	exec, _, rec := newTestExecutor()
	var attempts int32
	require.NoError(t, exec.registry.Register(Definition{
		Type:    "flaky-slow",
		Timeout: 20 * time.Millisecond,
		RetryPolicy: &RetryPolicy{
			MaxAttempts:     2,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    time.Millisecond,
			RetryOnTimeout:  true,
		},
		Handler: func(ctx context.Context, tc *Context) (any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				select {
				case <-time.After(100 * time.Millisecond):
					return "late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return "on-time", nil
		},
	}))

	result, err := exec.ExecuteTask(context.Background(), "flaky-slow", nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 2, result.AttemptNumber)
	require.Equal(t, 1, rec.count(EventRetryAttempt))
	require.Equal(t, 1, rec.count(EventFailed))
}

// S3 — dependency failure.
func TestExecuteTaskWithDependenciesFailsWhenDepNotCompleted(t *testing.T) {
	exec, _, _ := newTestExecutor()
	require.NoError(t, exec.registry.Register(Definition{
		Type:        "dep",
		RetryPolicy: &RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed},
		Handler: func(context.Context, *Context) (any, error) {
			return nil, errors.New("dep failed")
		},
	}))
	mainCalled := false
	require.NoError(t, exec.registry.Register(Definition{
		Type:        "main",
		RetryPolicy: &RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed},
		Handler: func(context.Context, *Context) (any, error) {
			mainCalled = true
			return "ran", nil
		},
	}))

	depResult, err := exec.ExecuteTask(context.Background(), "dep", nil)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, depResult.Status)

	_, err = exec.ExecuteTaskWithDependencies(context.Background(), "main", nil, []string{depResult.ID})
	require.Error(t, err)
	require.False(t, mainCalled)
}

func TestExecuteTaskWithDependenciesPropagatesResults(t *testing.T) {
	exec, _, _ := newTestExecutor()
	require.NoError(t, exec.registry.Register(Definition{
		Type: "dep",
		Handler: func(context.Context, *Context) (any, error) {
			return 7, nil
		},
	}))
	var seen map[string]Execution
	require.NoError(t, exec.registry.Register(Definition{
		Type: "main",
		Handler: func(_ context.Context, tc *Context) (any, error) {
			seen = tc.PreviousResults
			return nil, nil
		},
	}))

	depResult, err := exec.ExecuteTask(context.Background(), "dep", nil)
	require.NoError(t, err)

	_, err = exec.ExecuteTaskWithDependencies(context.Background(), "main", nil, []string{depResult.ID})
	require.NoError(t, err)
	require.Contains(t, seen, depResult.ID)
	require.Equal(t, 7, seen[depResult.ID].Result)
}

// Testable property 1: every attempt fails with a retryable error.
func TestExhaustedRetriesEmitsExactCounts(t *testing.T) {
	exec, _, rec := newTestExecutor()
	const n = 4
	require.NoError(t, exec.registry.Register(Definition{
		Type: "always-fails",
		RetryPolicy: &RetryPolicy{
			MaxAttempts:     n,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    time.Millisecond,
		},
		Handler: func(context.Context, *Context) (any, error) {
			return nil, errors.New("nope")
		},
	}))

	result, err := exec.ExecuteTask(context.Background(), "always-fails", nil)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, n, result.AttemptNumber)
	require.Equal(t, n, rec.count(EventStarted))
	require.Equal(t, n-1, rec.count(EventRetryAttempt))
	require.Equal(t, n, rec.count(EventFailed))
}

func TestCancelTaskStopsRetryLoop(t *testing.T) {
	exec, _, rec := newTestExecutor()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, exec.registry.Register(Definition{
		Type: "blocks",
		RetryPolicy: &RetryPolicy{
			MaxAttempts:     5,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    time.Millisecond,
		},
		Handler: func(_ context.Context, tc *Context) (any, error) {
			close(started)
			<-release
			return nil, errors.New("nope")
		},
	}))

	var result Execution
	var execErr error
	done := make(chan struct{})
	go func() {
		result, execErr = exec.ExecuteTask(context.Background(), "blocks", nil)
		close(done)
	}()

	<-started
	exec.mu.RLock()
	var execID string
	for id := range exec.executions {
		execID = id
	}
	exec.mu.RUnlock()

	require.NoError(t, exec.CancelTask(context.Background(), execID))
	close(release)
	<-done

	require.NoError(t, execErr)
	require.Equal(t, StatusCancelled, result.Status)
	require.GreaterOrEqual(t, rec.count(EventCancelled), 1)
}

func TestTaskBeforeExecutionSkipSentinelShortCircuits(t *testing.T) {
	bus := eventbus.New(eventbus.Options{})
	extensions := extension.NewSystem()
	require.NoError(t, extensions.RegisterExtension(extension.Extension{
		Name: "cache",
		Hooks: []extension.HookRegistration{{
			Point: extension.TaskBeforeExecution,
			Hook: func(context.Context, any) (any, error) {
				return extension.Skip{Result: "cached-value"}, nil
			},
		}},
	}))
	registry := NewRegistry()
	handlerCalled := false
	require.NoError(t, registry.Register(Definition{
		Type: "cacheable",
		Handler: func(context.Context, *Context) (any, error) {
			handlerCalled = true
			return "fresh", nil
		},
	}))
	exec := NewExecutor(registry, ExecutorOptions{Bus: bus, Extensions: extensions})

	result, err := exec.ExecuteTask(context.Background(), "cacheable", nil)
	require.NoError(t, err)
	require.False(t, handlerCalled)
	require.Equal(t, "cached-value", result.Result)
	require.Equal(t, StatusCompleted, result.Status)
}

func TestGetTaskStatusUnknownExecutionFails(t *testing.T) {
	exec, _, _ := newTestExecutor()
	_, err := exec.GetTaskStatus("unknown")
	require.Error(t, err)
}

func TestCountByStatusReflectsTerminalOutcomes(t *testing.T) {
	exec, _, _ := newTestExecutor()
	require.NoError(t, exec.registry.Register(Definition{
		Type: "ok",
		Handler: func(context.Context, *Context) (any, error) {
			return "done", nil
		},
	}))
	require.NoError(t, exec.registry.Register(Definition{
		Type:        "bad",
		RetryPolicy: &RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed},
		Handler: func(context.Context, *Context) (any, error) {
			return nil, errors.New("nope")
		},
	}))

	_, err := exec.ExecuteTask(context.Background(), "ok", nil)
	require.NoError(t, err)
	_, err = exec.ExecuteTask(context.Background(), "bad", nil)
	require.NoError(t, err)

	counts := exec.CountByStatus()
	require.Equal(t, 1, counts[StatusCompleted])
	require.Equal(t, 1, counts[StatusFailed])
}
