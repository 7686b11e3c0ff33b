// Package eventstore provides the runtime's reference in-memory event
// storage and replay source: an append-only log queryable by type,
// correlation id, or in full, plus timestamp-ordered replay back through
// an event bus.
package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/archlm/reactive-runtime/eventbus"
)

// Store is an append-only, thread-safe sequence of published events.
type Store struct {
	mu     sync.RWMutex
	events []eventbus.DomainEvent
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// StoreEvent appends event to the log.
func (s *Store) StoreEvent(event eventbus.DomainEvent) {
	s.mu.Lock()
	s.events = append(s.events, cloneEvent(event))
	s.mu.Unlock()
}

// GetEventsByType returns every stored event of the given type, optionally
// filtered to [startTime, endTime] inclusive on Timestamp. Pass 0 for
// either bound to leave it open.
func (s *Store) GetEventsByType(typ string, startTime, endTime int64) []eventbus.DomainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventbus.DomainEvent
	for _, e := range s.events {
		if e.Type != typ {
			continue
		}
		if startTime != 0 && e.Timestamp < startTime {
			continue
		}
		if endTime != 0 && e.Timestamp > endTime {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	return out
}

// GetEventsByCorrelationID returns every stored event whose
// metadata.correlationId matches id.
func (s *Store) GetEventsByCorrelationID(id string) []eventbus.DomainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventbus.DomainEvent
	for _, e := range s.events {
		if e.Metadata == nil {
			continue
		}
		if cid, ok := e.Metadata["correlationId"].(string); ok && cid == id {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// GetAllEvents returns every stored event in storage order.
func (s *Store) GetAllEvents() []eventbus.DomainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]eventbus.DomainEvent, len(s.events))
	for i, e := range s.events {
		out[i] = cloneEvent(e)
	}
	return out
}

// Clear discards every stored event.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func cloneEvent(e eventbus.DomainEvent) eventbus.DomainEvent {
	if e.Metadata == nil {
		return e
	}
	md := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	e.Metadata = md
	return e
}

// Source replays stored events back through a bus, preserving order and
// stamping replay metadata.
type Source struct {
	store *Store
	bus   *eventbus.Bus
	now   func() int64
}

// NewSource constructs a Source that reads from store and republishes
// through bus. now supplies the monotonic millisecond clock used to stamp
// metadata.replayTimestamp.
func NewSource(store *Store, bus *eventbus.Bus, now func() int64) *Source {
	return &Source{store: store, bus: bus, now: now}
}

// ReplayEvents replays every stored event of typ within [start, end]
// (0 meaning unbounded) in ascending timestamp order.
func (s *Source) ReplayEvents(ctx context.Context, typ string, start, end int64) error {
	events := s.store.GetEventsByType(typ, start, end)
	return s.replay(ctx, events)
}

// ReplayCorrelatedEvents replays every stored event sharing correlation id
// in ascending timestamp order.
func (s *Source) ReplayCorrelatedEvents(ctx context.Context, correlationID string) error {
	events := s.store.GetEventsByCorrelationID(correlationID)
	return s.replay(ctx, events)
}

// replay is the shared implementation behind both replay entry points: it
// sorts by ascending timestamp, stamps metadata.replayed/replayTimestamp,
// and republishes each event in order. An empty input succeeds as a no-op.
func (s *Source) replay(ctx context.Context, events []eventbus.DomainEvent) error {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	now := s.now()
	for _, e := range events {
		md := make(map[string]any, len(e.Metadata)+2)
		for k, v := range e.Metadata {
			md[k] = v
		}
		md["replayed"] = true
		md["replayTimestamp"] = now
		e.Metadata = md
		if err := s.bus.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
