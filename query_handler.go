package ddd

import (
	"context"
)

// Query is the interface that must be implemented by any type to be
// considered a query. Queries are read-only by convention: the bus does not
// enforce it, handlers are expected not to mutate state.
type Query interface {
	ID() []byte
}

// QueryHandler handles a specific query type T and produces a result of type
// R, allowing generic, type-safe registration and execution of query logic.
type QueryHandler[T Query, R any] interface {
	HandleQuery(ctx context.Context, qry T) (R, error)
}

// queryHandlerFunc lets ordinary functions implement QueryHandler[T, R].
type queryHandlerFunc[T Query, R any] func(ctx context.Context, qry T) (R, error)

// HandleQuery calls the underlying function.
func (f queryHandlerFunc[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	return f(ctx, qry)
}

// NewQueryHandlerFunc creates a QueryHandler from a function.
//
//	handler := NewQueryHandlerFunc(func(ctx context.Context, q AccountByID) (*AccountView, error) {
//	    return views.Lookup(q.AccountID)
//	})
func NewQueryHandlerFunc[T Query, R any](fn func(ctx context.Context, qry T) (R, error)) QueryHandler[T, R] {
	return queryHandlerFunc[T, R](fn)
}
