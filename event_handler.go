package ddd

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// EventHandler represents a generic event handler that can handle an Event.
type EventHandler interface {
	// Handle processes the given Event within the provided context.
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// There is no type checking or filtering: the handler receives every event it
// is invoked with. Use OnEvent for a strongly typed handler.
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

// eventHandlerFunc is a function type that implements EventHandler.
type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the declared EventType of T. It is used by
// EventGroupProcessor for routing and must match what the event reports at
// publish time, so it is read from a fresh instance rather than derived from
// the Go type name.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	// Pointer event types need an allocated element as the receiver.
	if t := reflect.TypeOf(&zero).Elem(); t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface().(Event).EventType()
	}
	return zero.EventType()
}

// Handle processes the event if it matches the type T. Returns
// *ErrSkippedEvent if the event is of the wrong type.
func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly typed EventHandler for a specific event type.
// When invoked with a different event type it returns *ErrSkippedEvent, and
// EventGroupProcessor uses its EventName for routing.
//
//	handler := OnEvent(func(ctx context.Context, ev OrderCreated) error {
//	    return projector.OnOrderCreated(ctx, ev)
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor is a collection of typed event handlers sharing one
// subscription. It routes incoming events to the handler registered for the
// event's type.
type EventGroupProcessor struct {
	handlers map[string]EventHandler // key = EventName()
}

// NewEventGroupProcessor builds a group from typed handlers (created via
// OnEvent). It panics on a handler without EventName or on duplicate handlers
// for one event type; group wiring is startup code and a bad group is a
// programming error.
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		handlers: m,
	}
}

// Handle routes the given event to the matching typed handler. Returns
// *ErrSkippedEvent if no handler exists for the event type.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		return &ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// StreamFilter returns a sorted list of all event names handled by this
// group, for use as a subscription filter.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
