package qudicore

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants for the structured event surface named in spec §6.
// Reverse-domain notation follows the CloudEvents convention already used
// by the teacher's own event vocabulary.
const (
	EventTypeModuleStateChanged  = "org.qudi.module.state_changed"
	EventTypeModuleAdded         = "org.qudi.module.added"
	EventTypeModuleRemoved       = "org.qudi.module.removed"
	EventTypeRemoteSessionOpened = "org.qudi.remote.session_opened"
	EventTypeRemoteSessionClosed = "org.qudi.remote.session_closed"
)

// Observer receives CloudEvents from a Subject. Grounded on the teacher's
// observer.go Observer/Subject pair; kept verbatim in shape because the
// pattern transfers unchanged from a generic app framework to this domain.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// Subject is anything that can be observed. Manager and Application both
// implement it by embedding *EventBus.
type Subject interface {
	RegisterObserver(observer Observer, eventTypes ...string) error
	UnregisterObserver(observer Observer) error
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	Observers() []ObserverInfo
}

// ObserverInfo describes a registered observer for diagnostics purposes.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type registeredObserver struct {
	observer   Observer
	eventTypes map[string]struct{}
	registered time.Time
}

// EventBus is a minimal in-process Subject implementation. It never blocks
// NotifyObservers on a slow observer for long: each observer is invoked
// with the caller's context but errors are logged and swallowed, since spec
// §7 states "errors inside one module never terminate another".
type EventBus struct {
	mu        sync.RWMutex
	observers map[string]*registeredObserver
	source    string
	logger    *Logger
}

// NewEventBus constructs a bus that stamps every emitted event's Source
// field with source (typically the application's URL or process name).
func NewEventBus(source string, logger *Logger) *EventBus {
	return &EventBus{observers: make(map[string]*registeredObserver), source: source, logger: logger}
}

func (b *EventBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		set[t] = struct{}{}
	}
	b.observers[observer.ObserverID()] = &registeredObserver{
		observer:   observer,
		eventTypes: set,
		registered: time.Now(),
	}
	return nil
}

func (b *EventBus) UnregisterObserver(observer Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, observer.ObserverID())
	return nil
}

func (b *EventBus) Observers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ObserverInfo, 0, len(b.observers))
	for _, ro := range b.observers {
		types := make([]string, 0, len(ro.eventTypes))
		for t := range ro.eventTypes {
			types = append(types, t)
		}
		out = append(out, ObserverInfo{ID: ro.observer.ObserverID(), EventTypes: types, RegisteredAt: ro.registered})
	}
	return out
}

func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	b.mu.RLock()
	targets := make([]*registeredObserver, 0, len(b.observers))
	for _, ro := range b.observers {
		if len(ro.eventTypes) == 0 {
			targets = append(targets, ro)
			continue
		}
		if _, ok := ro.eventTypes[event.Type()]; ok {
			targets = append(targets, ro)
		}
	}
	b.mu.RUnlock()

	for _, ro := range targets {
		if err := ro.observer.OnEvent(ctx, event); err != nil && b.logger != nil {
			b.logger.Warn("observer failed to handle event", "observer", ro.observer.ObserverID(),
				"event_type", event.Type(), "error", err)
		}
	}
	return nil
}

// NewEvent builds a CloudEvent with this bus's source, a fresh UUID id, the
// given type, and data marshalled as JSON.
func (b *EventBus) NewEvent(eventType string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(b.source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// Emit is a convenience wrapper around NewEvent + NotifyObservers.
func (b *EventBus) Emit(ctx context.Context, eventType string, data any) {
	_ = b.NotifyObservers(ctx, b.NewEvent(eventType, data))
}

// FunctionalObserver adapts a plain function to the Observer interface,
// grounded on the teacher's observer.go FunctionalObserver.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }
