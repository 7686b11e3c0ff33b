// Command demo wires a Runtime end to end: one task type with a retrying
// handler, one process definition with a checkpoint/restore round trip,
// and a wildcard subscriber that prints every lifecycle event. It is a
// composition-root example only; the core has no CLI dependency of its
// own.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/archlm/reactive-runtime/eventbus"
	"github.com/archlm/reactive-runtime/process"
	"github.com/archlm/reactive-runtime/runtime"
	"github.com/archlm/reactive-runtime/task"
)

func main() {
	ctx := context.Background()
	rt := runtime.New(runtime.Options{})
	rt.Initialized()
	rt.Start()

	rt.Bus.Subscribe(eventbus.Wildcard, func(_ context.Context, event eventbus.DomainEvent) error {
		fmt.Println("event:", event.Type)
		return nil
	})

	attempts := 0
	err := rt.TaskRegistry.Register(task.Definition{
		Type: "double",
		RetryPolicy: &task.RetryPolicy{
			MaxAttempts:     3,
			BackoffStrategy: task.BackoffFixed,
			InitialDelay:    10 * time.Millisecond,
			MaxDelay:        100 * time.Millisecond,
		},
		Handler: func(_ context.Context, tc *task.Context) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("transient")
			}
			value := tc.Input.(map[string]any)["value"].(int)
			return value * 2, nil
		},
	})
	if err != nil {
		panic(err)
	}

	result, err := rt.Executor.ExecuteTask(ctx, "double", map[string]any{"value": 21})
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished %s with result=%v after %d attempts\n", result.ID, result.Status, result.Result, result.AttemptNumber)

	orderDef := process.Definition{
		Type:         "order",
		Version:      "1.0.0",
		InitialState: "created",
		States:       []string{"created", "approved", "fulfilled", "cancelled"},
		Transitions: []process.Transition{
			{From: "created", To: "approved", Event: "approve"},
			{From: "approved", To: "fulfilled", Event: "fulfill"},
		},
	}
	if err := rt.ProcessReg.RegisterProcess(orderDef); err != nil {
		panic(err)
	}

	instance, err := rt.Manager.CreateProcess(ctx, "order", map[string]any{"sku": "widget-1"}, process.CreateOptions{})
	if err != nil {
		panic(err)
	}
	instance, err = rt.Manager.ApplyEvent(ctx, instance.ID, "approve", nil)
	if err != nil {
		panic(err)
	}
	checkpoint, err := rt.Manager.SaveCheckpoint(instance.ID)
	if err != nil {
		panic(err)
	}
	if _, err := rt.Manager.ApplyEvent(ctx, instance.ID, "fulfill", nil); err != nil {
		panic(err)
	}
	restored, err := rt.Manager.RestoreFromCheckpoint(instance.ID, checkpoint.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("restored process %s to state=%s (checkpoint=%s)\n", restored.ID, restored.State, restored.Recovery.CheckpointID)
}
