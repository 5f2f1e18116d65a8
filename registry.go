package ddd

import (
	"fmt"
	"sync"
)

// EventRegistry maps event type names to factory functions so adapters that
// cross a serialization boundary (disk, SQL, brokers) can rebuild concrete
// Event values from their stored type tag.
//
// The registry is an explicit object constructed at the composition root and
// handed to the adapters that need it; there is no process-wide registry.
// Registration normally happens at startup; all methods are safe for
// concurrent use regardless.
type EventRegistry struct {
	mu       sync.RWMutex
	registry map[string]func() Event
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		registry: make(map[string]func() Event),
	}
}

// Register registers an Event factory under the type's own EventType name.
// The factory must return a fresh, addressable instance on every call.
func (r *EventRegistry) Register(fn func() Event) error {
	if fn == nil {
		return fmt.Errorf("cannot register nil factory")
	}
	ev := fn()
	if ev == nil {
		return fmt.Errorf("factory returned nil event")
	}
	return r.RegisterName(ev.EventType(), fn)
}

// RegisterName registers an Event factory under a custom name, independent of
// EventType. Useful when stored type tags diverge from in-code names.
func (r *EventRegistry) RegisterName(name string, fn func() Event) error {
	if fn == nil {
		return fmt.Errorf("cannot register nil factory for event %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registry[name]; exists {
		return fmt.Errorf("event %q: %w", name, ErrDuplicateHandler)
	}

	ev := fn()
	if ev == nil {
		return fmt.Errorf("factory returned nil for event %q", name)
	}

	r.registry[name] = fn
	return nil
}

// MustRegister registers factories and panics on failure. Intended for
// startup wiring where a duplicate registration is a programming error.
func (r *EventRegistry) MustRegister(fns ...func() Event) {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

// New creates a fresh instance of the event registered under name.
func (r *EventRegistry) New(name string) (Event, error) {
	r.mu.RLock()
	factory, ok := r.registry[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event not registered: %s", name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

// Names returns the registered event names. Order is unspecified.
func (r *EventRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.registry))
	for name := range r.registry {
		out = append(out, name)
	}
	return out
}
