package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/observability"
	"github.com/voxlane/voxlane/store"
)

// EventType tags messages on the in-process event bus.
type EventType string

const (
	EventStatusChanged EventType = "StatusChanged"
	EventCompleted     EventType = "Completed"
	EventFailed        EventType = "Failed"
)

// TaskEvent is one message on the event bus.
type TaskEvent struct {
	Type   EventType    `json:"type"`
	TaskID string       `json:"task_id"`
	Status store.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

const eventBuffer = 16

// EventHub is a bounded broadcast channel. Subscribers that fall behind
// lose messages rather than blocking the publisher.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan TaskEvent]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan TaskEvent]struct{})}
}

// Subscribe returns a receive channel and a cancel function that must be
// called when the subscriber is done.
func (h *EventHub) Subscribe() (<-chan TaskEvent, func()) {
	ch := make(chan TaskEvent, eventBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	observability.EventSubscribers.Inc()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
			observability.EventSubscribers.Dec()
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans the event out to all subscribers, dropping it for any whose
// buffer is full.
func (h *EventHub) Publish(ev TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			observability.CallbackFailures.WithLabelValues("event").Inc()
		}
	}
}

// CallbackFunc is an in-process callback resolved by name.
type CallbackFunc func(task *store.Task, message string) error

// Dispatcher delivers terminal notifications over the channel named in the
// task's callback descriptor. Delivery is best-effort and never alters task
// state.
type Dispatcher struct {
	client *http.Client
	hub    *EventHub

	mu        sync.RWMutex
	functions map[string]CallbackFunc

	log *logrus.Entry
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client:    &http.Client{Timeout: 10 * time.Second},
		hub:       NewEventHub(),
		functions: make(map[string]CallbackFunc),
		log:       logrus.WithField("component", "callback"),
	}
}

// Events exposes the bus carrying Event-variant callbacks.
func (d *Dispatcher) Events() *EventHub {
	return d.hub
}

// RegisterFunction installs a named in-process callback. Re-registering a
// name replaces the previous function.
func (d *Dispatcher) RegisterFunction(name string, fn CallbackFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.functions[name] = fn
}

// FireCompleted delivers the Completed notification with the task result.
func (d *Dispatcher) FireCompleted(ctx context.Context, task *store.Task) {
	d.fire(ctx, task, store.StatusCompleted, task.Result, EventCompleted, "task completed")
}

// FireFailed delivers the Failed notification with the error message.
func (d *Dispatcher) FireFailed(ctx context.Context, task *store.Task) {
	d.fire(ctx, task, store.StatusFailed, task.Error, EventFailed, task.Error)
}

// FireTimedOut delivers the TimedOut notification.
func (d *Dispatcher) FireTimedOut(ctx context.Context, task *store.Task) {
	d.fire(ctx, task, store.StatusTimedOut, "task timed out", EventStatusChanged, "task timed out")
}

type httpCallbackPayload struct {
	TaskID string       `json:"task_id"`
	Status store.Status `json:"status"`
	Data   any          `json:"data"`
}

func (d *Dispatcher) fire(ctx context.Context, task *store.Task, status store.Status, data any, eventType EventType, message string) {
	cb := task.Config.Callback
	switch cb.Type {
	case store.CallbackHTTP:
		if err := d.postJSON(ctx, cb.URL, httpCallbackPayload{
			TaskID: task.ID,
			Status: status,
			Data:   data,
		}); err != nil {
			observability.CallbackFailures.WithLabelValues("http").Inc()
			d.log.WithError(err).WithFields(logrus.Fields{
				"task_id": task.ID,
				"url":     cb.URL,
			}).Warn("http callback failed")
		}
	case store.CallbackFunction:
		d.mu.RLock()
		fn, ok := d.functions[cb.Name]
		d.mu.RUnlock()
		if !ok {
			observability.CallbackFailures.WithLabelValues("function").Inc()
			d.log.WithFields(logrus.Fields{
				"task_id": task.ID,
				"name":    cb.Name,
			}).Warn("callback function not registered")
			return
		}
		if err := fn(task, message); err != nil {
			observability.CallbackFailures.WithLabelValues("function").Inc()
			d.log.WithError(err).WithField("task_id", task.ID).Warn("function callback failed")
		}
	case store.CallbackEvent:
		d.hub.Publish(TaskEvent{
			Type:   eventType,
			TaskID: task.ID,
			Status: status,
			Error:  task.Error,
		})
	case store.CallbackNone:
	}
}

func (d *Dispatcher) postJSON(ctx context.Context, url string, payload httpCallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint returned %s", resp.Status)
	}
	return nil
}
