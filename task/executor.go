package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/archlm/reactive-runtime/eventbus"
	"github.com/archlm/reactive-runtime/extension"
	"github.com/archlm/reactive-runtime/ids"
	"github.com/archlm/reactive-runtime/rterrors"
	"github.com/archlm/reactive-runtime/telemetry"
)

// Event types published by the executor across a task's lifecycle.
const (
	EventCreated      = "task.created"
	EventStarted      = "task.started"
	EventCompleted    = "task.completed"
	EventFailed       = "task.failed"
	EventCancelled    = "task.cancelled"
	EventRetryAttempt = "task:retryAttempt"
)

type record struct {
	mu    sync.RWMutex
	exec  Execution
	token *CancellationToken
}

func (r *record) snapshot() Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exec
}

// ExecutorOptions configures an Executor. Bus is required, since every
// lifecycle event is published on it; all other fields are optional.
type ExecutorOptions struct {
	Bus        *eventbus.Bus
	Extensions *extension.System
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Tracer     telemetry.Tracer
	NewID      func() string
	Now        func() int64
	Sleep      func(context.Context, time.Duration)
}

// Executor runs registered tasks with retry, timeout, and cancellation,
// publishing lifecycle events through an event bus.
type Executor struct {
	registry   *Registry
	bus        *eventbus.Bus
	extensions *extension.System
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
	newID      func() string
	now        func() int64
	sleep      func(context.Context, time.Duration)

	mu         sync.RWMutex
	executions map[string]*record
	running    map[string]*record
}

// NewExecutor constructs an Executor bound to registry for definition
// lookup and publishing lifecycle events on opts.Bus.
func NewExecutor(registry *Registry, opts ExecutorOptions) *Executor {
	e := &Executor{
		registry:   registry,
		bus:        opts.Bus,
		extensions: opts.Extensions,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		newID:      opts.NewID,
		now:        opts.Now,
		sleep:      opts.Sleep,
		executions: make(map[string]*record),
		running:    make(map[string]*record),
	}
	if e.logger == nil {
		e.logger = telemetry.NoopLogger{}
	}
	if e.metrics == nil {
		e.metrics = telemetry.NoopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = telemetry.NoopTracer{}
	}
	if e.newID == nil {
		e.newID = ids.New
	}
	if e.now == nil {
		e.now = func() int64 { return time.Now().UnixMilli() }
	}
	if e.sleep == nil {
		e.sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
	}
	return e
}

// ExecuteTask runs taskType against input with no dependency gating.
func (e *Executor) ExecuteTask(ctx context.Context, taskType string, input any) (Execution, error) {
	return e.execute(ctx, taskType, input, nil)
}

// ExecuteTaskWithDependencies gates execution on every prior execution id
// in dependencyIDs being completed, merging their results into the task's
// Context.PreviousResults before running the handler.
func (e *Executor) ExecuteTaskWithDependencies(ctx context.Context, taskType string, input any, dependencyIDs []string) (Execution, error) {
	return e.execute(ctx, taskType, input, dependencyIDs)
}

func (e *Executor) execute(ctx context.Context, taskType string, input any, dependencyIDs []string) (Execution, error) {
	def, err := e.registry.Get(taskType)
	if err != nil {
		return Execution{}, err
	}

	var previousResults map[string]Execution
	if len(dependencyIDs) > 0 {
		previousResults = make(map[string]Execution, len(dependencyIDs))
		for _, depID := range dependencyIDs {
			e.mu.RLock()
			rec, ok := e.executions[depID]
			e.mu.RUnlock()
			if !ok {
				return Execution{}, rterrors.Wrap(rterrors.ErrDependencyUnsatisfied, "dependency "+depID+" not found")
			}
			dep := rec.snapshot()
			if dep.Status != StatusCompleted {
				return Execution{}, rterrors.Wrap(rterrors.ErrDependencyUnsatisfied, "dependency "+depID+" not completed")
			}
			previousResults[depID] = dep
		}
	}

	now := e.now()
	rec := &record{
		exec: Execution{
			ID:            e.newID(),
			TaskType:      taskType,
			Status:        StatusPending,
			Input:         input,
			CreatedAt:     now,
			AttemptNumber: 1,
			DependsOn:     dependencyIDs,
		},
		token: NewCancellationToken(),
	}

	e.mu.Lock()
	e.executions[rec.exec.ID] = rec
	e.running[rec.exec.ID] = rec
	e.mu.Unlock()

	e.emit(ctx, EventCreated, map[string]any{
		"taskId":    rec.exec.ID,
		"taskType":  taskType,
		"execution": rec.snapshot(),
	})

	if e.extensions != nil {
		result, hookErr := e.extensions.Execute(ctx, extension.TaskBeforeExecution, map[string]any{
			"taskId":   rec.exec.ID,
			"taskType": taskType,
			"input":    input,
		})
		if hookErr != nil {
			e.finishRunning(rec.exec.ID)
			return Execution{}, hookErr
		}
		if skip, ok := result.(extension.Skip); ok {
			e.completeWithResult(ctx, rec, skip.Result)
			return rec.snapshot(), nil
		}
	}

	policy := effectivePolicy(def.RetryPolicy)
	e.runRetryLoop(ctx, rec, def, policy, previousResults)
	return rec.snapshot(), nil
}

func effectivePolicy(p *RetryPolicy) RetryPolicy {
	if p == nil {
		return RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed}
	}
	if p.MaxAttempts < 1 {
		cp := *p
		cp.MaxAttempts = 1
		return cp
	}
	return *p
}

func (e *Executor) runRetryLoop(ctx context.Context, rec *record, def Definition, policy RetryPolicy, previousResults map[string]Execution) {
	var previousError *rterrors.TaskError

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if rec.token.IsCancellationRequested() {
			e.markCancelled(ctx, rec)
			return
		}

		rec.mu.Lock()
		if rec.exec.StartedAt == 0 {
			rec.exec.StartedAt = e.now()
		}
		rec.exec.Status = StatusRunning
		rec.exec.AttemptNumber = attempt
		rec.mu.Unlock()

		e.emit(ctx, EventStarted, map[string]any{
			"taskId":    rec.exec.ID,
			"taskType":  rec.exec.TaskType,
			"attempt":   attempt,
			"execution": rec.snapshot(),
		})

		// Each attempt gets its own token, linked to the execution's token:
		// CancelTask reaches the handler through it, while a timeout
		// (runAttempt) cancels only this attempt and the execution can retry.
		attemptToken := NewCancellationToken()
		rec.token.OnCancellationRequested(attemptToken.cancel)

		tc := &Context{
			Input:           rec.snapshot().Input,
			AttemptNumber:   attempt,
			PreviousError:   previousError,
			Token:           attemptToken,
			Metadata:        def.Metadata,
			State:           make(map[string]any),
			PreviousResults: previousResults,
		}

		spanCtx, span := e.tracer.Start(ctx, "task.execute")
		result, taskErr, timedOut := e.runAttempt(spanCtx, tc, def, def.Timeout)
		span.End()

		// A concurrent CancelTask may have already stamped the execution
		// as cancelled while the handler was in flight; the cooperative
		// contract says that terminal state wins over whatever the
		// handler eventually returns. A timeout cancels only the attempt's
		// token, never rec.token, so it is not mistaken for an external
		// CancelTask call and reaches the failure/retry handling below.
		if rec.token.IsCancellationRequested() {
			return
		}

		if taskErr == nil {
			e.completeWithResult(ctx, rec, result)
			return
		}

		rec.mu.Lock()
		rec.exec.Status = StatusFailed
		rec.exec.Error = taskErr
		rec.mu.Unlock()

		e.emit(ctx, EventFailed, map[string]any{
			"taskId":        rec.exec.ID,
			"taskType":      rec.exec.TaskType,
			"error":         taskErr,
			"attemptNumber": attempt,
			"execution":     rec.snapshot(),
		})
		e.metrics.IncCounter("task.failed", 1, "type", rec.exec.TaskType)

		if timedOut {
			_, timeoutAllowListed := policy.RetryableErrorKinds["TIMEOUT"]
			if !policy.RetryOnTimeout && !timeoutAllowListed {
				e.finishRunning(rec.exec.ID)
				return
			}
		} else if !policy.retryable(taskErr) {
			e.finishRunning(rec.exec.ID)
			return
		}

		if attempt >= policy.MaxAttempts {
			e.finishRunning(rec.exec.ID)
			return
		}

		e.emit(ctx, EventRetryAttempt, map[string]any{
			"taskId":        rec.exec.ID,
			"taskType":      rec.exec.TaskType,
			"attemptNumber": attempt,
			"nextAttempt":   attempt + 1,
			"error":         taskErr,
		})

		previousError = taskErr
		e.sleep(ctx, ComputeDelay(policy, attempt))
	}
}

type attemptResult struct {
	result any
	err    error
}

// runAttempt races def.Handler against def.Timeout (when > 0). It always
// awaits the handler's eventual return, even after a timeout fires,
// honoring cooperative cancellation.
func (e *Executor) runAttempt(ctx context.Context, tc *Context, def Definition, timeout time.Duration) (result any, taskErr *rterrors.TaskError, timedOut bool) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	tc.Token.OnCancellationRequested(cancel)

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("task handler panicked: %v", r)}
			}
		}()
		res, err := def.Handler(handlerCtx, tc)
		done <- attemptResult{result: res, err: err}
	}()

	if timeout <= 0 {
		r := <-done
		return r.result, toTaskError(r.err, false), false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.result, toTaskError(r.err, false), false
	case <-timer.C:
		tc.Token.cancel()
		<-done
		return nil, toTaskError(rterrors.ErrTimeout, true), true
	}
}

func toTaskError(err error, timeout bool) *rterrors.TaskError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*rterrors.TaskError); ok {
		return te
	}
	code := ""
	kind := "HandlerFailure"
	if timeout {
		code = "TIMEOUT"
		kind = "Timeout"
	}
	return &rterrors.TaskError{Kind: kind, Message: err.Error(), Code: code}
}

func (e *Executor) completeWithResult(ctx context.Context, rec *record, result any) {
	rec.mu.Lock()
	rec.exec.Status = StatusCompleted
	rec.exec.CompletedAt = e.now()
	rec.exec.Result = result
	duration := rec.exec.CompletedAt - rec.exec.StartedAt
	attempts := rec.exec.AttemptNumber
	rec.mu.Unlock()

	e.emit(ctx, EventCompleted, map[string]any{
		"taskId":    rec.exec.ID,
		"taskType":  rec.exec.TaskType,
		"result":    result,
		"duration":  duration,
		"attempts":  attempts,
		"execution": rec.snapshot(),
	})
	e.metrics.IncCounter("task.completed", 1, "type", rec.exec.TaskType)
	e.finishRunning(rec.exec.ID)

	if e.extensions != nil {
		if _, err := e.extensions.Execute(ctx, extension.TaskAfterCompletion, map[string]any{
			"taskId": rec.exec.ID,
			"result": result,
		}); err != nil {
			e.logger.Error(ctx, "task after-completion hook failed", "taskId", rec.exec.ID, "error", err.Error())
		}
	}
}

func (e *Executor) markCancelled(ctx context.Context, rec *record) {
	rec.mu.Lock()
	alreadyTerminal := rec.exec.Status == StatusCompleted || rec.exec.Status == StatusCancelled
	if !alreadyTerminal {
		rec.exec.Status = StatusCancelled
		rec.exec.CompletedAt = e.now()
	}
	rec.mu.Unlock()
	if alreadyTerminal {
		return
	}
	e.emit(ctx, EventCancelled, map[string]any{
		"taskId":      rec.exec.ID,
		"taskType":    rec.exec.TaskType,
		"cancelledAt": rec.snapshot().CompletedAt,
		"execution":   rec.snapshot(),
	})
	e.metrics.IncCounter("task.cancelled", 1, "type", rec.exec.TaskType)
	e.finishRunning(rec.exec.ID)
}

func (e *Executor) finishRunning(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// CancelTask cancels the running execution identified by executionID. If
// the execution has already completed successfully, cancellation is a
// no-op. Unknown executions fail with rterrors.ErrNotFound.
func (e *Executor) CancelTask(ctx context.Context, executionID string) error {
	e.mu.RLock()
	rec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return rterrors.Wrap(rterrors.ErrNotFound, "execution "+executionID)
	}

	rec.mu.RLock()
	status := rec.exec.Status
	rec.mu.RUnlock()
	if status == StatusCompleted {
		return nil
	}

	rec.token.cancel()
	e.markCancelled(ctx, rec)
	return nil
}

// GetTaskStatus returns the current snapshot for executionID, or
// rterrors.ErrNotFound if it does not exist.
func (e *Executor) GetTaskStatus(executionID string) (Execution, error) {
	e.mu.RLock()
	rec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return Execution{}, rterrors.Wrap(rterrors.ErrNotFound, "execution "+executionID)
	}
	return rec.snapshot(), nil
}

// RunningCount returns the number of executions currently tracked as
// in-flight (not yet terminal).
func (e *Executor) RunningCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.running)
}

// CountByStatus returns the number of tracked executions in each status,
// across every execution this Executor has ever recorded.
func (e *Executor) CountByStatus() map[Status]int {
	e.mu.RLock()
	recs := make([]*record, 0, len(e.executions))
	for _, rec := range e.executions {
		recs = append(recs, rec)
	}
	e.mu.RUnlock()

	counts := make(map[Status]int)
	for _, rec := range recs {
		counts[rec.snapshot().Status]++
	}
	return counts
}

func (e *Executor) emit(ctx context.Context, eventType string, payload any) {
	err := e.bus.Publish(ctx, eventbus.DomainEvent{
		Type:      eventType,
		Timestamp: e.now(),
		Payload:   payload,
	})
	if err != nil {
		e.logger.Error(ctx, "failed to publish task event", "eventType", eventType, "error", err.Error())
	}
}
