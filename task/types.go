// Package task implements the runtime's typed task registry and executor:
// retry with pluggable backoff, timeouts, cooperative cancellation,
// dependency gating, and the task lifecycle events. The retry loop and
// backoff shapes follow the reference runtime's A2A retry package,
// generalized to the three backoff strategies and dependency model this
// runtime requires.
package task

import (
	"context"
	"time"

	"github.com/archlm/reactive-runtime/rterrors"
)

// Status is a task execution's lifecycle state.
type Status string

// The task execution lifecycle: pending -> running -> one terminal state.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// BackoffStrategy selects how ComputeDelay grows the retry delay between
// attempts.
type BackoffStrategy string

// The three supported backoff shapes.
const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures how many times a task is attempted and how long
// the executor waits between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Must be >= 1.
	MaxAttempts int
	// BackoffStrategy selects fixed, linear, or exponential growth.
	BackoffStrategy BackoffStrategy
	// InitialDelay is the base delay used by every strategy.
	InitialDelay time.Duration
	// MaxDelay clamps the computed delay.
	MaxDelay time.Duration
	// RetryableErrorKinds, when non-empty, restricts retries to errors whose
	// Kind (or Message, for unstructured errors) appears in this set. An
	// empty set means every error kind is retryable.
	RetryableErrorKinds map[string]struct{}
	// RetryOnTimeout allows a TIMEOUT failure to be retried. Defaults to
	// false: a timeout is terminal unless this is set or TIMEOUT appears in
	// RetryableErrorKinds.
	RetryOnTimeout bool
	// Exponent is the base used by exponential backoff. Defaults to 2 when
	// zero.
	Exponent float64
}

// exponent returns p.Exponent, defaulting to 2.
func (p RetryPolicy) exponent() float64 {
	if p.Exponent == 0 {
		return 2
	}
	return p.Exponent
}

// ComputeDelay returns the delay to wait after the given attempt number
// (1-indexed, the attempt that just failed) before the next one under p,
// clamped to p.MaxDelay.
func ComputeDelay(p RetryPolicy, attempt int) time.Duration {
	var d time.Duration
	switch p.BackoffStrategy {
	case BackoffLinear:
		d = p.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		mult := 1.0
		for i := 0; i < attempt-1; i++ {
			mult *= p.exponent()
		}
		d = time.Duration(float64(p.InitialDelay) * mult)
	default:
		d = p.InitialDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryable reports whether err should trigger another attempt under p,
// given that err is not a timeout. An empty RetryableErrorKinds set means
// every kind retries.
func (p RetryPolicy) retryable(te *rterrors.TaskError) bool {
	if len(p.RetryableErrorKinds) == 0 {
		return true
	}
	if _, ok := p.RetryableErrorKinds[te.Kind]; ok {
		return true
	}
	_, ok := p.RetryableErrorKinds[te.Message]
	return ok
}

// Context bundles everything a task handler receives for one attempt.
type Context struct {
	Input           any
	AttemptNumber   int
	PreviousError   *rterrors.TaskError
	Token           *CancellationToken
	Metadata        map[string]any
	State           map[string]any
	PreviousResults map[string]Execution
}

// Handler is the canonical task handler contract: a total function over a
// Context that must honor ctx and tc.Token and may suspend.
type Handler func(ctx context.Context, tc *Context) (any, error)

// Definition registers a task type with the behavior the executor runs.
type Definition struct {
	Type         string
	Handler      Handler
	RetryPolicy  *RetryPolicy
	Timeout      time.Duration
	Dependencies []string
	Resources    []string
	Metadata     map[string]any
}

// Execution is an immutable snapshot of a task execution's state at the
// moment it was taken.
type Execution struct {
	ID            string
	TaskType      string
	Status        Status
	Input         any
	Result        any
	Error         *rterrors.TaskError
	CreatedAt     int64
	StartedAt     int64
	CompletedAt   int64
	AttemptNumber int
	DependsOn     []string
	Metadata      map[string]any
}
