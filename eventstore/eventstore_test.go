package eventstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archlm/reactive-runtime/eventbus"
)

func TestGetEventsByTypeFiltersByTimestamp(t *testing.T) {
	store := NewStore()
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Timestamp: 10})
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Timestamp: 20})
	store.StoreEvent(eventbus.DomainEvent{Type: "other", Timestamp: 15})

	got := store.GetEventsByType("t", 15, 0)
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].Timestamp)
}

func TestGetEventsByCorrelationID(t *testing.T) {
	store := NewStore()
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Metadata: map[string]any{"correlationId": "c1"}})
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Metadata: map[string]any{"correlationId": "c2"}})

	got := store.GetEventsByCorrelationID("c1")
	require.Len(t, got, 1)
}

func TestReplayPreservesAscendingOrderAndStampsMetadata(t *testing.T) {
	store := NewStore()
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Timestamp: 30})
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Timestamp: 10})
	store.StoreEvent(eventbus.DomainEvent{Type: "t", Timestamp: 20})

	bus := eventbus.New(eventbus.Options{})
	var mu sync.Mutex
	var order []int64
	var replayed []bool
	bus.Subscribe("t", func(_ context.Context, e eventbus.DomainEvent) error {
		mu.Lock()
		order = append(order, e.Timestamp)
		replayed = append(replayed, e.Metadata["replayed"] == true)
		mu.Unlock()
		return nil
	})

	source := NewSource(store, bus, func() int64 { return 99 })
	require.NoError(t, source.ReplayEvents(context.Background(), "t", 0, 0))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{10, 20, 30}, order)
	for _, r := range replayed {
		require.True(t, r)
	}
}

func TestReplayEmptySetIsNoop(t *testing.T) {
	store := NewStore()
	bus := eventbus.New(eventbus.Options{})
	source := NewSource(store, bus, func() int64 { return 0 })
	require.NoError(t, source.ReplayEvents(context.Background(), "nothing", 0, 0))
}

func TestClearDiscardsEvents(t *testing.T) {
	store := NewStore()
	store.StoreEvent(eventbus.DomainEvent{Type: "t"})
	store.Clear()
	require.Empty(t, store.GetAllEvents())
}
