package fixtures

import (
	"context"
	"sync"

	ddd "github.com/GoooIce/loco-ddd"
)

// EventBusSpy is a configurable EventBus double. It records subscriptions and
// published envelopes, and can route published events to matching recorded
// handlers so repository-to-projection flows can be tested without a real bus.
type EventBusSpy struct {
	mu sync.Mutex

	// Function overrides.
	SubscribeFn func(ctx context.Context, name string, filter ddd.EventFilter, handler ddd.EventHandler, options ...ddd.SubscriberOption) error
	PublishFn   func(ctx context.Context, env *ddd.Envelope) error
	ErrorsFn    func() <-chan error
	CloseFn     func() error

	// Call tracking.
	SubscribeCalls int
	PublishCalls   int
	CloseCalls     int

	Subscriptions []Subscription
	Published     []*ddd.Envelope

	// Deliver makes Publish invoke matching recorded handlers.
	Deliver bool

	subscribeErr error
	publishErr   error
	errChan      chan error
	closed       bool
}

// Subscription captures one Subscribe call.
type Subscription struct {
	Name    string
	Filter  ddd.EventFilter
	Handler ddd.EventHandler
}

// NewEventBusSpy creates a spy.
func NewEventBusSpy() *EventBusSpy {
	return &EventBusSpy{errChan: make(chan error, 10)}
}

// FailOnSubscribe makes Subscribe fail with err.
func (b *EventBusSpy) FailOnSubscribe(err error) *EventBusSpy {
	b.subscribeErr = err
	return b
}

// FailOnPublish makes Publish fail with err.
func (b *EventBusSpy) FailOnPublish(err error) *EventBusSpy {
	b.publishErr = err
	return b
}

// Delivering makes Publish route envelopes to the recorded handlers.
func (b *EventBusSpy) Delivering() *EventBusSpy {
	b.Deliver = true
	return b
}

func (b *EventBusSpy) Subscribe(ctx context.Context, name string, filter ddd.EventFilter, handler ddd.EventHandler, options ...ddd.SubscriberOption) error {
	b.mu.Lock()
	b.SubscribeCalls++
	b.Subscriptions = append(b.Subscriptions, Subscription{Name: name, Filter: filter, Handler: handler})
	b.mu.Unlock()

	if b.SubscribeFn != nil {
		return b.SubscribeFn(ctx, name, filter, handler, options...)
	}
	return b.subscribeErr
}

func (b *EventBusSpy) Publish(ctx context.Context, env *ddd.Envelope) error {
	b.mu.Lock()
	b.PublishCalls++
	b.Published = append(b.Published, env)
	subs := append([]Subscription(nil), b.Subscriptions...)
	b.mu.Unlock()

	if b.PublishFn != nil {
		return b.PublishFn(ctx, env)
	}
	if b.publishErr != nil {
		return b.publishErr
	}

	if b.Deliver {
		var failures []*ddd.SubscriberError
		for _, sub := range subs {
			if sub.Filter != nil && !sub.Filter(env.Event) {
				continue
			}
			if err := sub.Handler.Handle(ddd.WithEnvelope(ctx, env), env.Event); err != nil {
				failures = append(failures, &ddd.SubscriberError{Subscriber: sub.Name, Err: err})
			}
		}
		if len(failures) > 0 {
			return &ddd.DeliveryError{Failures: failures}
		}
	}
	return nil
}

func (b *EventBusSpy) Errors() <-chan error {
	if b.ErrorsFn != nil {
		return b.ErrorsFn()
	}
	return b.errChan
}

func (b *EventBusSpy) Close() error {
	b.mu.Lock()
	b.CloseCalls++
	if !b.closed {
		b.closed = true
		close(b.errChan)
	}
	b.mu.Unlock()

	if b.CloseFn != nil {
		return b.CloseFn()
	}
	return nil
}

// SendError pushes an error onto the Errors channel.
func (b *EventBusSpy) SendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.errChan <- err
	}
}

// HasSubscription reports whether a subscription with the name exists.
func (b *EventBusSpy) HasSubscription(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.Subscriptions {
		if sub.Name == name {
			return true
		}
	}
	return false
}

// PublishedCount returns the number of published envelopes.
func (b *EventBusSpy) PublishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Published)
}

// EventHandlerSpy is a configurable EventHandler double.
type EventHandlerSpy struct {
	mu sync.Mutex

	HandleFn func(ctx context.Context, event ddd.Event) error

	HandleCalls    int
	ReceivedEvents []ddd.Event

	handleErr error
}

// NewEventHandlerSpy creates a spy.
func NewEventHandlerSpy() *EventHandlerSpy {
	return &EventHandlerSpy{}
}

// FailOnHandle makes Handle fail with err.
func (h *EventHandlerSpy) FailOnHandle(err error) *EventHandlerSpy {
	h.handleErr = err
	return h
}

func (h *EventHandlerSpy) Handle(ctx context.Context, event ddd.Event) error {
	h.mu.Lock()
	h.HandleCalls++
	h.ReceivedEvents = append(h.ReceivedEvents, event)
	h.mu.Unlock()

	if h.HandleFn != nil {
		return h.HandleFn(ctx, event)
	}
	return h.handleErr
}

// LastEvent returns the most recently received event, or nil.
func (h *EventHandlerSpy) LastEvent() ddd.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ReceivedEvents) == 0 {
		return nil
	}
	return h.ReceivedEvents[len(h.ReceivedEvents)-1]
}

// EventCount returns the number of received events.
func (h *EventHandlerSpy) EventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ReceivedEvents)
}

// Reset clears the recorded calls and events.
func (h *EventHandlerSpy) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.HandleCalls = 0
	h.ReceivedEvents = nil
}
