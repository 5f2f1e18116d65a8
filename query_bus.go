package ddd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// QueryBus is a registry of query handlers keyed by (query type, result
// type), so several result shapes can coexist for one query type. Handlers
// are executed through a typed GenericQueryGateway.
//
// Registration is expected at startup; lookups are read-mostly and safe for
// concurrent dispatch.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]any
}

// NewQueryBus creates a new, empty QueryBus.
func NewQueryBus() *QueryBus {
	return &QueryBus{
		handlers: make(map[string]any),
	}
}

// HandlerOption reserves per-handler configuration (timeouts, rate limits).
type HandlerOption func(*handlerSettings)

type handlerSettings struct {
}

func queryKey[T Query, R any]() string {
	return fmt.Sprintf("%T|%T", *new(T), *new(R))
}

// RegisterQueryHandler registers a QueryHandler for query type T and result
// type R on the bus, wrapped with the module's query instrumentation (span,
// in-flight/handled/failed counters, duration histogram).
//
// Each (T, R) pair has exactly one handler; a second registration fails with
// ErrDuplicateHandler.
func RegisterQueryHandler[T Query, R any](bus *QueryBus, handler QueryHandler[T, R], opts ...HandlerOption) error {
	key := queryKey[T, R]()

	wrapped := NewQueryHandlerFunc(func(ctx context.Context, qry T) (R, error) {
		startTime := time.Now()

		ctx, span := StartQuerySpan(ctx, qry)
		defer span.End()

		attrs := metric.WithAttributes(AttrQueryType.String(TypeName(qry)))
		QueriesInFlight.Add(ctx, 1, attrs)
		defer QueriesInFlight.Add(ctx, -1, attrs)

		result, err := handler.HandleQuery(ctx, qry)

		duration := float64(time.Since(startTime).Milliseconds())

		if err != nil {
			QueriesFailed.Add(ctx, 1, metric.WithAttributes(
				AttrQueryType.String(TypeName(qry)),
				AttrErrorType.String("handler_error"),
			))
			EndQuerySpan(span, err)
			return result, err
		}

		QueriesHandled.Add(ctx, 1, attrs)
		QueriesDuration.Record(ctx, duration, attrs)

		EndQuerySpan(span, nil)
		return result, nil
	})

	meta := &handlerSettings{}
	for _, opt := range opts {
		opt(meta)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if _, exists := bus.handlers[key]; exists {
		return fmt.Errorf("query %s: %w", key, ErrDuplicateHandler)
	}
	bus.handlers[key] = wrapped
	return nil
}

// MustRegisterQueryHandler is RegisterQueryHandler for startup wiring: it
// panics on error.
func MustRegisterQueryHandler[T Query, R any](bus *QueryBus, handler QueryHandler[T, R], opts ...HandlerOption) {
	if err := RegisterQueryHandler(bus, handler, opts...); err != nil {
		panic(err)
	}
}

func (b *QueryBus) lookup(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[key]
	return h, ok
}
