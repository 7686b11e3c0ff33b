package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archlm/reactive-runtime/extension"
)

func TestSubscriberExceptionIsolation(t *testing.T) {
	bus := New(Options{})
	var mu sync.Mutex
	var receivedA, receivedB bool

	bus.Subscribe("t", func(context.Context, DomainEvent) error {
		mu.Lock()
		receivedA = true
		mu.Unlock()
		panic("boom")
	})
	bus.Subscribe("t", func(context.Context, DomainEvent) error {
		mu.Lock()
		receivedB = true
		mu.Unlock()
		return nil
	})

	err := bus.Publish(context.Background(), DomainEvent{Type: "t"})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.True(t, receivedA)
	require.True(t, receivedB)
}

func TestWildcardReceivesEveryType(t *testing.T) {
	bus := New(Options{})
	var mu sync.Mutex
	var seen []string

	bus.Subscribe(Wildcard, func(_ context.Context, e DomainEvent) error {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), DomainEvent{Type: "a"}))
	require.NoError(t, bus.Publish(context.Background(), DomainEvent{Type: "b"}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestBackpressureDropsSilently(t *testing.T) {
	bus := New(Options{})
	bus.ApplyBackpressure("t", rejectAll{})

	delivered := false
	bus.Subscribe("t", func(context.Context, DomainEvent) error {
		delivered = true
		return nil
	})

	err := bus.Publish(context.Background(), DomainEvent{Type: "t"})
	require.NoError(t, err)
	require.False(t, delivered)
}

type rejectAll struct{}

func (rejectAll) ShouldAccept(int) bool { return false }

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(Options{})
	count := 0
	sub := bus.Subscribe("t", func(context.Context, DomainEvent) error {
		count++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), DomainEvent{Type: "t"}))
	sub.Close()
	sub.Close() // idempotent
	require.NoError(t, bus.Publish(context.Background(), DomainEvent{Type: "t"}))

	require.Equal(t, 1, count)
}

func TestPublishAbortsOnBeforeHookFailure(t *testing.T) {
	extensions := extension.NewSystem()
	require.NoError(t, extensions.RegisterExtension(extension.Extension{
		Name: "rejects",
		Hooks: []extension.HookRegistration{{
			Point: extension.EventBeforePublish,
			Hook: func(context.Context, any) (any, error) {
				return nil, errors.New("rejected")
			},
		}},
	}))
	bus := New(Options{Extensions: extensions})

	delivered := false
	bus.Subscribe("t", func(context.Context, DomainEvent) error {
		delivered = true
		return nil
	})

	err := bus.Publish(context.Background(), DomainEvent{Type: "t"})
	require.Error(t, err)
	require.False(t, delivered)
}

func TestBeforeHookCanModifyPayload(t *testing.T) {
	extensions := extension.NewSystem()
	require.NoError(t, extensions.RegisterExtension(extension.Extension{
		Name: "intercepts",
		Hooks: []extension.HookRegistration{{
			Point: extension.EventBeforePublish,
			Hook: func(_ context.Context, params any) (any, error) {
				p, ok := params.(beforePublishParams)
				if !ok {
					return params, nil
				}
				payload, _ := p.Payload.(map[string]any)
				merged := make(map[string]any, len(payload)+1)
				for k, v := range payload {
					merged[k] = v
				}
				merged["intercepted"] = true
				p.Payload = merged
				return p, nil
			},
		}},
	}))
	bus := New(Options{Extensions: extensions})

	var got any
	bus.Subscribe("t", func(_ context.Context, e DomainEvent) error {
		got = e.Payload
		return nil
	})

	err := bus.Publish(context.Background(), DomainEvent{Type: "t", Payload: map[string]any{"orig": true}})
	require.NoError(t, err)
	payload, ok := got.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, payload["orig"])
	require.Equal(t, true, payload["intercepted"])
}
