package ddd

import (
	"context"
	"fmt"
)

// GenericQueryGateway is the typed dispatch surface over a QueryBus. It
// implements QueryHandler[T, R] itself, so it can be used wherever a handler
// is expected.
//
//	gateway := NewQueryGateway[AccountByID, *AccountView](bus)
//	view, err := gateway.HandleQuery(ctx, AccountByID{AccountID: "acc-1"})
type GenericQueryGateway[T Query, R any] struct {
	bus *QueryBus
}

// NewQueryGateway creates a typed gateway for a specific query and result
// type backed by a QueryBus.
func NewQueryGateway[T Query, R any](bus *QueryBus) GenericQueryGateway[T, R] {
	return GenericQueryGateway[T, R]{bus: bus}
}

// HandleQuery executes the registered handler for the query. Fails with
// ErrHandlerNotFound (wrapped) when no handler is registered for (T, R); a
// handler's own error is returned unchanged.
func (g GenericQueryGateway[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	key := queryKey[T, R]()

	h, ok := g.bus.lookup(key)
	if !ok {
		var zero R
		return zero, fmt.Errorf("query %T -> %T: %w", qry, *new(R), ErrHandlerNotFound)
	}

	handler, ok := h.(QueryHandler[T, R])
	if !ok {
		var zero R
		return zero, fmt.Errorf("handler type mismatch for query %T -> %T", qry, *new(R))
	}

	return handler.HandleQuery(ctx, qry)
}
