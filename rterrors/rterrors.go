// Package rterrors defines the closed error taxonomy shared by every
// component of the runtime. Errors are sentinel values wrapped with
// contextual detail by Wrap and Wrapf so errors.Is still matches the
// sentinel, while the original cause stays available through Cause,
// mirroring how tool failures are chained in the
// reference agent runtime.
package rterrors

import "errors"

var (
	// ErrNotFound marks a lookup of a task, process, definition, execution,
	// or checkpoint that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRegistered marks a duplicate key in a registry.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrInvalidDefinition marks a malformed process or task definition.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrDependencyUnsatisfied marks a referenced task execution that is
	// absent or not completed.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")

	// ErrNoTransition marks an applyEvent call for which no transition
	// matches the instance's current state and the incoming event.
	ErrNoTransition = errors.New("no matching transition")

	// ErrGuardRejected marks an applyEvent call whose matching transition's
	// guard evaluated to false.
	ErrGuardRejected = errors.New("guard rejected transition")

	// ErrCancelled marks an operation aborted via its cancellation token.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout marks a handler that exceeded its configured deadline.
	// Attempts that fail this way also carry TaskError.Code == "TIMEOUT".
	ErrTimeout = errors.New("timeout")

	// ErrHandlerFailure marks an error surfaced by a task or action handler.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrHookFailure marks an extension hook that returned failure on a
	// pre-hook extension point, aborting the guarded operation.
	ErrHookFailure = errors.New("hook failure")

	// ErrPublishFailure marks an event bus publish that raised an error.
	// Publish failures are always recovered locally by the caller; this
	// sentinel exists so that recovery path can still classify the error.
	ErrPublishFailure = errors.New("publish failure")
)

// Wrap attaches ctx as detail to sentinel, preserving sentinel in the
// resulting chain so errors.Is(result, sentinel) still holds.
func Wrap(sentinel error, ctx string) error {
	if ctx == "" {
		return sentinel
	}
	return &wrapped{sentinel: sentinel, detail: ctx}
}

// Wrapf is like Wrap but also records a cause error, which appears in the
// message and is returned by Cause. Only sentinel is in the Unwrap chain.
func Wrapf(sentinel error, cause error, ctx string) error {
	return &wrapped{sentinel: sentinel, detail: ctx, cause: cause}
}

type wrapped struct {
	sentinel error
	detail   string
	cause    error
}

func (w *wrapped) Error() string {
	msg := w.sentinel.Error()
	if w.detail != "" {
		msg += ": " + w.detail
	}
	if w.cause != nil {
		msg += ": " + w.cause.Error()
	}
	return msg
}

// Unwrap returns the sentinel, so errors.Is matches the sentinel but not
// the cause; callers needing the cause use Cause.
func (w *wrapped) Unwrap() error {
	return w.sentinel
}

// Cause returns the underlying error that triggered this failure, if any.
func (w *wrapped) Cause() error {
	return w.cause
}

// TaskError carries the structured task failure detail described in
// spec.md section 4.E: kind, message, optional stack, optional code, and
// optional details. TaskExecution.Error is of this type.
type TaskError struct {
	Kind    string
	Message string
	Stack   string
	Code    string
	Details map[string]any
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Kind + " (" + e.Code + "): " + e.Message
	}
	return e.Kind + ": " + e.Message
}

// NewTaskError builds a TaskError from a handler failure, classifying it
// against the sentinel taxonomy via kind.
func NewTaskError(kind, message string) *TaskError {
	return &TaskError{Kind: kind, Message: message}
}

// IsTimeout reports whether e represents a timeout failure.
func (e *TaskError) IsTimeout() bool {
	return e != nil && e.Code == "TIMEOUT"
}
