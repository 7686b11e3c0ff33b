package task

import (
	"sync"

	"github.com/archlm/reactive-runtime/rterrors"
)

// CancellationToken is a shared flag plus callback list that cooperatively
// signals an in-flight handler to abort. Cancellation never terminates a
// handler from the outside; handlers must observe the token voluntarily.
type CancellationToken struct {
	mu        sync.Mutex
	once      sync.Once
	cancelled bool
	callbacks []func()
}

// NewCancellationToken returns a fresh, uncancelled token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// IsCancellationRequested reports whether cancel has been called.
func (t *CancellationToken) IsCancellationRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// OnCancellationRequested registers cb to run when the token is
// cancelled. If the token is already cancelled, cb runs immediately.
func (t *CancellationToken) OnCancellationRequested(cb func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		cb()
		return
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// ThrowIfRequested returns rterrors.ErrCancelled if the token has been
// cancelled, nil otherwise.
func (t *CancellationToken) ThrowIfRequested() error {
	if t.IsCancellationRequested() {
		return rterrors.ErrCancelled
	}
	return nil
}

// cancel sets the cancelled flag and runs every registered callback
// exactly once, even under concurrent or repeated calls.
func (t *CancellationToken) cancel() {
	t.once.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		cbs := t.callbacks
		t.mu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	})
}
