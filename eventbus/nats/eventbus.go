package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventBus = (*EventBus)(nil)

// EventBus publishes envelopes over NATS core subjects. Each event type gets
// its own subject, <prefix>.<EventType>, and every subscriber joins a queue
// group named after its subscription, so multiple processes sharing a
// subscriber name split the load while distinct names each see every event.
//
// Delivery is at-most-once per queue group; use JetStream if you need replay
// or redelivery.
type EventBus struct {
	conn     *nats.Conn
	ownsConn bool
	registry *ddd.EventRegistry
	prefix   string
	log      *zap.Logger

	mu     sync.Mutex
	subs   map[string][]*nats.Subscription
	closed bool
	errs   chan error
}

// Option configures the bus.
type Option func(*EventBus)

// WithSubjectPrefix overrides the default "events" subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(b *EventBus) { b.prefix = prefix }
}

// WithLogger attaches a structured logger; the default is zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(b *EventBus) { b.log = log }
}

// NewEventBus wraps an established NATS connection. The caller owns the
// connection; Close drains subscriptions but leaves the connection open.
func NewEventBus(conn *nats.Conn, registry *ddd.EventRegistry, opts ...Option) *EventBus {
	b := &EventBus{
		conn:     conn,
		registry: registry,
		prefix:   "events",
		log:      zap.NewNop(),
		subs:     make(map[string][]*nats.Subscription),
		errs:     make(chan error, 64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials a NATS server and wraps the connection in a bus that owns it.
func Connect(url string, registry *ddd.EventRegistry, opts ...Option) (*EventBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	bus := NewEventBus(conn, registry, opts...)
	bus.ownsConn = true
	return bus, nil
}

func (b *EventBus) subject(eventType string) string {
	return b.prefix + "." + eventType
}

// Publish serializes the envelope and sends it on the event type's subject.
// Broker errors are returned as a *DeliveryError so the caller can treat them
// as delivery warnings rather than persistence failures.
func (b *EventBus) Publish(ctx context.Context, env *ddd.Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ddd.ErrBusClosed
	}

	stored, err := ddd.EncodeEnvelope(env)
	if err != nil {
		return &ddd.DeliveryError{Failures: []*ddd.SubscriberError{
			{Subscriber: "nats", Err: err},
		}}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return &ddd.DeliveryError{Failures: []*ddd.SubscriberError{
			{Subscriber: "nats", Err: err},
		}}
	}

	subject := b.subject(stored.EventType)
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("publish failed",
			zap.String("subject", subject),
			zap.String("event_id", env.EventID.String()),
			zap.Error(err),
		)
		return &ddd.DeliveryError{Failures: []*ddd.SubscriberError{
			{Subscriber: "nats", Err: err},
		}}
	}

	b.log.Debug("event published",
		zap.String("subject", subject),
		zap.String("stream_id", env.StreamID),
		zap.Uint64("version", env.Version),
	)
	return nil
}

// Subscribe binds the handler to the subjects of the event types named by the
// handler's stream filter. Handlers that implement StreamFilter (such as
// EventGroupProcessor) subscribe only to their types; any other handler gets
// the prefix wildcard. Handler errors go to Errors().
func (b *EventBus) Subscribe(
	ctx context.Context,
	name string,
	filter ddd.EventFilter,
	handler ddd.EventHandler,
	opts ...ddd.SubscriberOption,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ddd.ErrBusClosed
	}
	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("subscriber %q: %w", name, ddd.ErrDuplicateHandler)
	}

	subjects := []string{b.prefix + ".>"}
	if f, ok := handler.(interface{ StreamFilter() []string }); ok {
		if types := f.StreamFilter(); len(types) > 0 {
			subjects = subjects[:0]
			for _, t := range types {
				subjects = append(subjects, b.subject(t))
			}
		}
	}

	msgHandler := func(msg *nats.Msg) {
		var stored ddd.StoredEvent
		if err := json.Unmarshal(msg.Data, &stored); err != nil {
			b.reportError(fmt.Errorf("subscriber %q: decode message on %s: %w", name, msg.Subject, err))
			return
		}

		env, err := ddd.DecodeStoredEvent(b.registry, &stored)
		if err != nil {
			b.reportError(fmt.Errorf("subscriber %q: %w", name, err))
			return
		}

		if !filter(env.Event) {
			return
		}

		handleCtx := ddd.WithEnvelope(context.Background(), env)
		if err := handler.Handle(handleCtx, env.Event); err != nil {
			var skipped *ddd.ErrSkippedEvent
			if errors.As(err, &skipped) {
				return
			}
			b.log.Warn("handler failed",
				zap.String("subscriber", name),
				zap.String("event_type", stored.EventType),
				zap.Error(err),
			)
			b.reportError(&ddd.SubscriberError{Subscriber: name, Err: err})
		}
	}

	created := make([]*nats.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		sub, err := b.conn.QueueSubscribe(subject, name, msgHandler)
		if err != nil {
			for _, s := range created {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %q to %s: %w", name, subject, err)
		}
		created = append(created, sub)
	}
	b.subs[name] = created

	go func() {
		<-ctx.Done()
		b.unsubscribe(name)
	}()

	b.log.Info("subscriber registered",
		zap.String("subscriber", name),
		zap.Strings("subjects", subjects),
	)
	return nil
}

// Errors returns the channel carrying decode and handler failures.
func (b *EventBus) Errors() <-chan error {
	return b.errs
}

// Close drains all subscriptions. If the bus dialed the connection itself it
// closes it too.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string][]*nats.Subscription)
	b.mu.Unlock()

	var firstErr error
	for _, list := range subs {
		for _, sub := range list {
			if err := sub.Drain(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if b.ownsConn {
		b.conn.Close()
	}
	close(b.errs)
	return firstErr
}

func (b *EventBus) unsubscribe(name string) {
	b.mu.Lock()
	list, ok := b.subs[name]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	for _, sub := range list {
		_ = sub.Drain()
	}
}

func (b *EventBus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
	}
}
