// Package eventbus implements the runtime's typed publish/subscribe bus:
// per-type and wildcard subscribers, advisory backpressure, and hook
// mediation of every publish through the extension system. The fan-out
// shape (snapshot subscribers under a read lock, deliver outside the
// lock, isolate each subscriber's failure) follows the reference
// runtime's in-memory hook bus.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archlm/reactive-runtime/extension"
	"github.com/archlm/reactive-runtime/ids"
	"github.com/archlm/reactive-runtime/telemetry"
)

// Wildcard is the key under which wildcard subscribers and the
// all-types backpressure strategy are registered.
const Wildcard = "*"

// DomainEvent is the unit of exchange on the bus.
type DomainEvent struct {
	ID        string
	Type      string
	Timestamp int64
	Payload   any
	Metadata  map[string]any
}

// Handler reacts to a delivered event. A returned error is logged and
// isolated to this handler; it never stops delivery to other handlers and
// never propagates to the publisher.
type Handler func(ctx context.Context, event DomainEvent) error

// BackpressureStrategy decides whether an incoming event at currentDepth
// should be accepted. A false result causes the event to be dropped
// silently.
type BackpressureStrategy interface {
	ShouldAccept(currentDepth int) bool
}

// Subscription represents an active registration. Close unregisters the
// handler; it is safe to call Close more than once.
type Subscription interface {
	Close()
}

type subscription struct {
	bus     *Bus
	typ     string
	once    sync.Once
	handler Handler
	removed bool
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.removed = true
		s.bus.mu.Unlock()
	})
}

// Options configures a Bus. All fields are optional.
type Options struct {
	Extensions *extension.System
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	NewID      func() string
}

// Bus is the concrete, thread-safe in-memory implementation of the
// runtime's event bus.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string][]*subscription
	depths       map[string]*int64
	backpressure map[string]BackpressureStrategy
	extensions   *extension.System
	logger       telemetry.Logger
	metrics      telemetry.Metrics
	newID        func() string
}

// New constructs an empty Bus ready for Subscribe and Publish.
func New(opts Options) *Bus {
	b := &Bus{
		subscribers:  make(map[string][]*subscription),
		depths:       make(map[string]*int64),
		backpressure: make(map[string]BackpressureStrategy),
		extensions:   opts.Extensions,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		newID:        opts.NewID,
	}
	if b.logger == nil {
		b.logger = telemetry.NoopLogger{}
	}
	if b.metrics == nil {
		b.metrics = telemetry.NoopMetrics{}
	}
	if b.newID == nil {
		b.newID = ids.New
	}
	return b
}

// Subscribe registers handler for events of the given type, or for every
// type when typ is Wildcard. The returned Subscription's Close removes the
// registration; registering the same Subscription twice is not possible,
// so set semantics apply per call to Subscribe.
func (b *Bus) Subscribe(typ string, handler Handler) Subscription {
	s := &subscription{bus: b, typ: typ, handler: handler}
	b.mu.Lock()
	b.compact(typ)
	b.subscribers[typ] = append(b.subscribers[typ], s)
	b.mu.Unlock()
	return s
}

// Unsubscribe removes sub from the bus. It is idempotent.
func (b *Bus) Unsubscribe(sub Subscription) {
	if s, ok := sub.(*subscription); ok {
		s.Close()
	}
}

// ApplyBackpressure installs strategy for typ (or Wildcard for every
// type). Passing a nil strategy clears any previously installed strategy.
func (b *Bus) ApplyBackpressure(typ string, strategy BackpressureStrategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strategy == nil {
		delete(b.backpressure, typ)
		return
	}
	b.backpressure[typ] = strategy
}

// beforePublishParams and afterPublishParams are the params threaded
// through the EVENT_BEFORE_PUBLISH / EVENT_AFTER_PUBLISH extension points.
type beforePublishParams struct {
	EventID   string
	EventType string
	Payload   any
}

type afterPublishParams struct {
	EventID   string
	EventType string
	Payload   any
}

// Publish runs event through EVENT_BEFORE_PUBLISH hooks, evaluates
// backpressure, fans out to type and wildcard subscribers, then runs
// EVENT_AFTER_PUBLISH hooks. Event.ID and Timestamp are filled in if zero.
// A non-nil error means the publish was aborted by a before-hook; the
// event was never delivered.
func (b *Bus) Publish(ctx context.Context, event DomainEvent) error {
	if event.ID == "" {
		event.ID = b.newID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	if b.extensions != nil {
		params := beforePublishParams{EventID: event.ID, EventType: event.Type, Payload: event.Payload}
		result, err := b.extensions.Execute(ctx, extension.EventBeforePublish, params)
		if err != nil {
			return err
		}
		if modified, ok := result.(beforePublishParams); ok {
			event.Payload = modified.Payload
		}
	}

	if !b.admit(event.Type) {
		b.metrics.IncCounter("eventbus.dropped", 1, "type", event.Type)
		return nil
	}

	b.deliver(ctx, event)

	if b.extensions != nil {
		params := afterPublishParams{EventID: event.ID, EventType: event.Type, Payload: event.Payload}
		if _, err := b.extensions.Execute(ctx, extension.EventAfterPublish, params); err != nil {
			b.logger.Error(ctx, "after-publish hook failed", "eventType", event.Type, "error", err.Error())
		}
	}

	b.release(event.Type)
	return nil
}

// admit evaluates backpressure for typ and Wildcard, increments the
// matching depth counters on acceptance, and reports whether the event
// should proceed to delivery.
func (b *Bus) admit(typ string) bool {
	b.mu.RLock()
	typStrategy := b.backpressure[typ]
	wildStrategy := b.backpressure[Wildcard]
	b.mu.RUnlock()

	if typStrategy != nil && !typStrategy.ShouldAccept(int(b.depth(typ))) {
		return false
	}
	if wildStrategy != nil && !wildStrategy.ShouldAccept(int(b.depth(Wildcard))) {
		return false
	}

	b.incDepth(typ)
	b.incDepth(Wildcard)
	return true
}

func (b *Bus) release(typ string) {
	b.decDepth(typ)
	b.decDepth(Wildcard)
}

func (b *Bus) depth(key string) int64 {
	b.mu.RLock()
	d := b.depths[key]
	b.mu.RUnlock()
	if d == nil {
		return 0
	}
	return atomic.LoadInt64(d)
}

func (b *Bus) incDepth(key string) {
	b.mu.Lock()
	if b.depths[key] == nil {
		var z int64
		b.depths[key] = &z
	}
	d := b.depths[key]
	b.mu.Unlock()
	v := atomic.AddInt64(d, 1)
	b.metrics.RecordGauge("eventbus.depth", float64(v), "type", key)
}

func (b *Bus) decDepth(key string) {
	b.mu.RLock()
	d := b.depths[key]
	b.mu.RUnlock()
	if d == nil {
		return
	}
	for {
		cur := atomic.LoadInt64(d)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(d, cur, cur-1) {
			return
		}
	}
}

// deliver fans event out to type subscribers then wildcard subscribers,
// in registration order, isolating each handler's panic or error.
func (b *Bus) deliver(ctx context.Context, event DomainEvent) {
	b.mu.RLock()
	typeSubs := snapshot(b.subscribers[event.Type])
	wildSubs := snapshot(b.subscribers[Wildcard])
	b.mu.RUnlock()

	for _, h := range typeSubs {
		b.invoke(ctx, h, event)
	}
	for _, h := range wildSubs {
		b.invoke(ctx, h, event)
	}
}

// compact drops closed subscriptions from typ's slice. Callers must hold
// b.mu for writing; it is invoked opportunistically from Subscribe paths
// that already hold the lock, keeping the per-type slice from growing
// without bound across many Subscribe/Close cycles.
func (b *Bus) compact(typ string) {
	subs := b.subscribers[typ]
	kept := subs[:0]
	for _, s := range subs {
		if !s.removed {
			kept = append(kept, s)
		}
	}
	b.subscribers[typ] = kept
}

func (b *Bus) invoke(ctx context.Context, h Handler, event DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked", "eventType", event.Type, "panic", r)
		}
	}()
	if err := h(ctx, event); err != nil {
		b.logger.Error(ctx, "event handler failed", "eventType", event.Type, "error", err.Error())
	}
}

func snapshot(subs []*subscription) []Handler {
	out := make([]Handler, 0, len(subs))
	for _, s := range subs {
		if !s.removed {
			out = append(out, s.handler)
		}
	}
	return out
}
