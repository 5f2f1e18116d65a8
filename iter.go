package ddd

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, context-aware iterator over values produced by a store.
// It is single-use and not safe for concurrent consumption.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	current  T
	err      error
	done     bool
}

// NewIteratorFunc creates an iterator from a producer function. The producer
// returns io.EOF when exhausted; any other error stops iteration and is
// reported by Err.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator creates an iterator over a fixed slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	index := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if index >= len(items) {
			return zero, io.EOF
		}
		item := items[index]
		index++
		return item, nil
	})
}

// EmptyIterator returns an iterator that yields nothing. Loading an unknown
// stream is not an error, it is a fresh aggregate.
func EmptyIterator[T any]() *Iterator[T] {
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		return zero, io.EOF
	})
}

// Next advances the iterator. Returns false when exhausted or on error.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	v, err := it.nextFunc(ctx)
	if err != nil {
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}
	it.current = v
	return true
}

// Value returns the current item.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped iteration, if any. io.EOF is not an
// error, it is the normal end of the sequence.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the iterator and returns the remaining items.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
