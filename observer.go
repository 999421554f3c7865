// Observer pattern interfaces for event-driven test instrumentation.
// Events use the CloudEvents specification so external tooling can
// consume them without adapters.

package modtest

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of events emitted by a test context. Observers
// register with Subjects and should handle events quickly to avoid
// slowing the test down.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to occurs.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used
	// for registration tracking and debugging.
	ObserverID() string
}

// Subject is implemented by event emitters, primarily the test context.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to the
	// given event types. An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to every interested observer.
	// Delivery is synchronous and in deterministic order, so a test can
	// assert on observed events immediately after the action that
	// produced them.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes the observer subscribed to; empty means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event type constants emitted by the harness, using reverse domain
// notation per the CloudEvents specification.
const (
	// Context lifecycle events
	EventTypeContextBuilt   = "com.modtest.context.built"
	EventTypeContextStarted = "com.modtest.context.started"
	EventTypeContextStopped = "com.modtest.context.stopped"
	EventTypeContextFailed  = "com.modtest.context.failed"

	// Mock substitution events
	EventTypeMockInstalled = "com.modtest.mock.installed"
	EventTypeMockReset     = "com.modtest.mock.reset"

	// Property and refresh events
	EventTypePropertyChanged  = "com.modtest.property.changed"
	EventTypeSourceLoaded     = "com.modtest.property.source.loaded"
	EventTypeSourceReloaded   = "com.modtest.property.source.reloaded"
	EventTypeRefreshStarted   = "com.modtest.refresh.started"
	EventTypeRefreshCompleted = "com.modtest.refresh.completed"
	EventTypeRefreshFailed    = "com.modtest.refresh.failed"
	EventTypeRefreshNoop      = "com.modtest.refresh.noop"

	// Managed server events
	EventTypeServerStarting  = "com.modtest.server.starting"
	EventTypeServerReady     = "com.modtest.server.ready"
	EventTypeServerUnhealthy = "com.modtest.server.unhealthy"
	EventTypeServerStopped   = "com.modtest.server.stopped"
)

// FunctionalObserver wraps a function as an Observer, for tests that
// just want to record events without defining a type.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates to handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// EventRecorder is an Observer that captures every event it receives,
// for asserting on emitted events in tests.
type EventRecorder struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
}

// NewEventRecorder creates an EventRecorder with the given ID.
func NewEventRecorder(id string) *EventRecorder {
	return &EventRecorder{id: id}
}

// OnEvent implements Observer by recording the event.
func (r *EventRecorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// ObserverID implements Observer.
func (r *EventRecorder) ObserverID() string {
	return r.id
}

// Events returns a copy of the recorded events in arrival order.
func (r *EventRecorder) Events() []cloudevents.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cloudevents.Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsOfType returns recorded events matching the given type.
func (r *EventRecorder) EventsOfType(eventType string) []cloudevents.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cloudevents.Event
	for _, event := range r.events {
		if event.Type() == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Reset discards all recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
