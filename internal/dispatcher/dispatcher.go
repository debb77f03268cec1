// Package dispatcher is the process-wide publish/subscribe core. Platform
// adapters publish inbound events; the pipeline and lifecycle loggers
// subscribe. All wiring happens in one bootstrap sequence before any
// adapter starts, and Verify asserts that every required event kind has a
// subscriber so a producer can never ship without its consumer.
package dispatcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aetherpack/aetherbot/internal/message"
)

// EventKind identifies a class of events on the dispatcher.
type EventKind string

const (
	EventMessageReceived EventKind = "gateway.message_in"
	EventMessageSent     EventKind = "gateway.message_out"
	EventConnected       EventKind = "gateway.connected"
	EventDisconnected    EventKind = "gateway.disconnected"
	EventDecodeFailed    EventKind = "gateway.decode_failed"
)

// Event is the carrier published through the dispatcher.
type Event struct {
	Kind       EventKind
	PlatformID string
	Message    *message.Message // set for EventMessageReceived
	Err        error            // set for EventDecodeFailed
}

// Handler processes one event. A returned error is logged and isolated;
// it never stops delivery to later handlers.
type Handler func(Event) error

// ErrNoSubscribers is returned by Verify when a required event kind has no
// subscriber wired. Treated as fatal at startup.
var ErrNoSubscribers = fmt.Errorf("event kind has no subscribers")

type slot struct {
	name    string
	handler Handler
}

// Dispatcher fans events out to subscribers in registration order.
// Safe for concurrent use; Publish never fails because a handler did.
type Dispatcher struct {
	mu    sync.RWMutex
	slots map[EventKind][]slot
}

func New() *Dispatcher {
	return &Dispatcher{slots: make(map[EventKind][]slot)}
}

// Subscribe registers a named handler for an event kind. Handlers for the
// same kind run in the order they were registered.
func (d *Dispatcher) Subscribe(kind EventKind, name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots[kind] = append(d.slots[kind], slot{name: name, handler: h})
	slog.Debug("dispatcher: subscribed", "kind", kind, "handler", name)
}

// Publish delivers the event to every handler subscribed to its kind.
// A panicking or failing handler is captured and logged; remaining
// handlers still run.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	subs := make([]slot, len(d.slots[ev.Kind]))
	copy(subs, d.slots[ev.Kind])
	d.mu.RUnlock()

	for _, s := range subs {
		d.invoke(s, ev)
	}
}

func (d *Dispatcher) invoke(s slot, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher: handler panicked",
				"kind", ev.Kind, "handler", s.name, "panic", r)
		}
	}()
	if err := s.handler(ev); err != nil {
		slog.Error("dispatcher: handler failed",
			"kind", ev.Kind, "handler", s.name, "error", err)
	}
}

// SubscriberCount returns the number of handlers wired for a kind.
func (d *Dispatcher) SubscriberCount(kind EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.slots[kind])
}

// Verify asserts that every listed event kind has at least one subscriber.
// Called once at the end of bootstrap, before adapters start publishing;
// a zero-subscriber kind is a wiring defect and must fail startup loudly.
func (d *Dispatcher) Verify(required ...EventKind) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, kind := range required {
		if len(d.slots[kind]) == 0 {
			return fmt.Errorf("%w: %s", ErrNoSubscribers, kind)
		}
	}
	return nil
}
