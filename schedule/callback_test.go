package schedule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxlane/voxlane/store"
)

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub()

	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(TaskEvent{Type: EventCompleted, TaskID: "task-1", Status: store.StatusCompleted})

	evA := <-a
	evB := <-b
	assert.Equal(t, "task-1", evA.TaskID)
	assert.Equal(t, "task-1", evB.TaskID)
}

func TestEventHubDropsOnOverflow(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// publish past the buffer without a reader; the excess is dropped and
	// the publisher never blocks
	for i := 0; i < eventBuffer+10; i++ {
		hub.Publish(TaskEvent{Type: EventStatusChanged, TaskID: "task-flood"})
	}
	assert.Equal(t, eventBuffer, len(ch))
}

func TestEventHubUnsubscribe(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe()
	cancel()
	// double cancel is safe
	cancel()

	hub.Publish(TaskEvent{Type: EventCompleted, TaskID: "task-1"})

	_, open := <-ch
	assert.False(t, open)
}

func TestEventCallbackPublishesToHub(t *testing.T) {
	d := NewDispatcher()
	ch, cancel := d.Events().Subscribe()
	defer cancel()

	task := &store.Task{
		ID:     "task-ev",
		Status: store.StatusCompleted,
		Config: store.TaskConfig{
			Kind:     store.KindTranscribe,
			Callback: store.Callback{Type: store.CallbackEvent},
		},
	}
	d.FireCompleted(context.Background(), task)

	ev := <-ch
	assert.Equal(t, EventCompleted, ev.Type)
	assert.Equal(t, "task-ev", ev.TaskID)
	assert.Equal(t, store.StatusCompleted, ev.Status)
}

func TestNoneCallbackIsSilent(t *testing.T) {
	d := NewDispatcher()
	task := &store.Task{
		ID:     "task-quiet",
		Config: store.TaskConfig{Callback: store.Callback{Type: store.CallbackNone}},
	}
	// must not panic or block
	d.FireCompleted(context.Background(), task)
	d.FireFailed(context.Background(), task)
}

func TestUnregisteredFunctionCallbackIsLoggedNotFatal(t *testing.T) {
	d := NewDispatcher()
	task := &store.Task{
		ID:     "task-fn",
		Config: store.TaskConfig{Callback: store.Callback{Type: store.CallbackFunction, Name: "ghost"}},
	}
	d.FireCompleted(context.Background(), task)
}

func TestHTTPCallbackFailureDoesNotPropagate(t *testing.T) {
	d := NewDispatcher()
	task := &store.Task{
		ID: "task-http",
		Config: store.TaskConfig{
			Callback: store.Callback{Type: store.CallbackHTTP, URL: "http://127.0.0.1:1/dead"},
		},
	}
	// delivery is best-effort; a dead endpoint is only logged
	d.FireFailed(context.Background(), task)
}
