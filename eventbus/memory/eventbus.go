package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ddd "github.com/GoooIce/loco-ddd"
)

type subscriber struct {
	name    string
	filter  ddd.EventFilter
	handler ddd.EventHandler
	events  chan publication
	cancel  context.CancelFunc
	async   bool
}

type publication struct {
	ctx context.Context
	env *ddd.Envelope
}

// Options for a single subscription.

type subscriberConfig struct {
	async bool
}

// Async moves the subscriber onto its own worker goroutine with a buffered
// queue. Publish no longer waits for it and never reports its failures
// synchronously; they go to Errors() instead. When the queue is full the
// event is dropped for that subscriber.
func Async() ddd.SubscriberOption {
	return func(cfg any) {
		if c, ok := cfg.(*subscriberConfig); ok {
			c.async = true
		}
	}
}

// Bus options.

type busOptions struct {
	failFast   bool
	bufferSize int
}

type BusOption func(*busOptions)

// WithFailFast makes Publish stop at the first synchronous subscriber
// failure instead of collecting all failures. Opt-in; the default is
// best-effort delivery to everyone.
func WithFailFast() BusOption {
	return func(o *busOptions) { o.failFast = true }
}

// WithBufferSize sets the queue size for async subscribers (default 64).
func WithBufferSize(n int) BusOption {
	return func(o *busOptions) { o.bufferSize = n }
}

// eventBus is the in-process EventBus. Synchronous subscribers are invoked
// inline on Publish in registration order, each isolated from the others'
// failures; async subscribers get their own worker and queue.
type eventBus struct {
	mu       sync.RWMutex
	subs     map[string]*subscriber
	order    []string
	closed   bool
	errs     chan error
	wg       sync.WaitGroup
	failFast bool
	bufSize  int
}

// NewEventBus constructs an in-process bus.
func NewEventBus(opts ...BusOption) ddd.EventBus {
	cfg := busOptions{bufferSize: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &eventBus{
		subs:     make(map[string]*subscriber),
		errs:     make(chan error, 64),
		failFast: cfg.failFast,
		bufSize:  cfg.bufferSize,
	}
}

// Subscribe registers a named handler for the events accepted by filter. The
// subscription is removed when ctx is done.
func (b *eventBus) Subscribe(
	ctx context.Context,
	name string,
	filter ddd.EventFilter,
	handler ddd.EventHandler,
	opts ...ddd.SubscriberOption,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	cfg := &subscriberConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ddd.ErrBusClosed
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("subscriber %q: %w", name, ddd.ErrDuplicateHandler)
	}

	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		async:   cfg.async,
	}

	if cfg.async {
		workerCtx, cancel := context.WithCancel(context.Background())
		s.events = make(chan publication, b.bufSize)
		s.cancel = cancel

		b.wg.Add(1)
		go b.runSubscriber(workerCtx, s)
	}

	b.subs[name] = s
	b.order = append(b.order, name)

	// Remove the subscription when the caller's ctx finishes.
	go func() {
		<-ctx.Done()
		b.removeSubscriber(name)
	}()

	return nil
}

// Publish delivers the envelope to every matching subscriber, synchronous
// ones first in registration order. Failures of synchronous subscribers are
// collected into a *DeliveryError (or, with WithFailFast, returned at the
// first failure); either way every other subscriber still got its delivery
// attempt before Publish returns.
func (b *eventBus) Publish(ctx context.Context, env *ddd.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ddd.ErrBusClosed
	}
	matched := make([]*subscriber, 0, len(b.order))
	for _, name := range b.order {
		s := b.subs[name]
		if s != nil && s.filter(env.Event) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	var failures []*ddd.SubscriberError

	for _, s := range matched {
		if s.async {
			select {
			case s.events <- publication{ctx: context.WithoutCancel(ctx), env: env}:
			default:
				b.reportError(fmt.Errorf("subscriber %q: queue full, event %s dropped", s.name, env.EventID))
			}
			continue
		}

		if err := s.handler.Handle(ddd.WithEnvelope(ctx, env), env.Event); err != nil {
			var skipped *ddd.ErrSkippedEvent
			if errors.As(err, &skipped) {
				continue
			}
			failure := &ddd.SubscriberError{Subscriber: s.name, Err: err}
			if b.failFast {
				return &ddd.DeliveryError{Failures: []*ddd.SubscriberError{failure}}
			}
			failures = append(failures, failure)
		}
	}

	if len(failures) > 0 {
		return &ddd.DeliveryError{Failures: failures}
	}
	return nil
}

// Errors returns the channel carrying async handling errors and drop
// notices. The channel is never closed while the bus is open; errors are
// dropped when nobody drains it.
func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Close shuts down the bus and waits for all async workers.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		if s.async {
			s.cancel()
		}
		delete(b.subs, name)
	}
	b.order = nil
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}

// runSubscriber processes queued events for a single async handler. The
// events channel is never closed: a Publish that snapshotted the subscriber
// before removal may still send to it, so removal only cancels the worker and
// leaves the channel to the garbage collector.
func (b *eventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case pub := <-s.events:
			handleCtx := ddd.WithEnvelope(pub.ctx, pub.env)
			if err := s.handler.Handle(handleCtx, pub.env.Event); err != nil {
				var skipped *ddd.ErrSkippedEvent
				if !errors.As(err, &skipped) {
					b.reportError(&ddd.SubscriberError{Subscriber: s.name, Err: err})
				}
			}
		}
	}
}

func (b *eventBus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
		// Drop when nobody is draining the error channel.
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if s.async {
		s.cancel()
	}
}
