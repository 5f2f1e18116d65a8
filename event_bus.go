package ddd

import "context"

// SubscriberOption configures a single subscription; concrete buses document
// which options they honor.
type SubscriberOption func(cfg any)

// EventFilter decides whether a subscriber receives an event.
type EventFilter func(Event) bool

// FilterEventTypes builds a filter matching any of the given event type names.
func FilterEventTypes(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(ev Event) bool {
		_, ok := set[ev.EventType()]
		return ok
	}
}

// EventBus distributes committed events to registered subscribers. Multiple
// subscribers per event type are permitted and all matching subscribers are
// invoked on publish.
//
// Delivery is best-effort: one subscriber's failure must not prevent delivery
// to the others and must not fail the publish as a whole. Failures are
// collected into a *DeliveryError that callers may inspect; the Repository
// surfaces them as warnings because durability has already been achieved by
// the time publish runs.
type EventBus interface {
	// Subscribe registers a named subscriber for the events accepted by
	// filter. Registering the same name twice fails with ErrDuplicateHandler.
	// The subscription is removed when ctx is done.
	Subscribe(ctx context.Context, name string, filter EventFilter, handler EventHandler, options ...SubscriberOption) error

	// Publish delivers the envelope to every matching subscriber. A non-nil
	// error is either *DeliveryError (some subscribers failed, delivery to
	// the rest completed) or ErrBusClosed.
	Publish(ctx context.Context, env *Envelope) error

	// Errors returns the channel where asynchronous handling errors are sent.
	Errors() <-chan error

	// Close closes the bus and waits for all handlers to finish.
	Close() error
}
