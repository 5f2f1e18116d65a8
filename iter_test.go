package ddd

import (
	"context"
	"errors"
	"testing"
)

func TestIterator_SliceRoundTrip(t *testing.T) {
	it := NewSliceIterator([]int{1, 2, 3})

	var got []int
	for it.Next(context.Background()) {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected items: %v", got)
	}

	// Exhausted iterators stay exhausted.
	if it.Next(context.Background()) {
		t.Fatalf("expected exhausted iterator to stop")
	}
}

func TestIterator_Empty(t *testing.T) {
	it := EmptyIterator[string]()
	if it.Next(context.Background()) {
		t.Fatalf("expected no items")
	}
	if err := it.Err(); err != nil {
		t.Fatalf("empty is not an error, got %v", err)
	}
}

func TestIterator_ProducerErrorStopsIteration(t *testing.T) {
	boom := errors.New("read failed")
	calls := 0
	it := NewIteratorFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls > 2 {
			return 0, boom
		}
		return calls, nil
	})

	var got []int
	for it.Next(context.Background()) {
		got = append(got, it.Value())
	}
	if !errors.Is(it.Err(), boom) {
		t.Fatalf("expected producer error, got %v", it.Err())
	}
	if len(got) != 2 {
		t.Fatalf("expected two items before the failure, got %v", got)
	}

	// A failed iterator does not resume.
	if it.Next(context.Background()) {
		t.Fatalf("expected failed iterator to stay stopped")
	}
}

func TestIterator_All(t *testing.T) {
	items, err := NewSliceIterator([]string{"a", "b"}).All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestIterator_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := NewSliceIterator([]int{1, 2, 3})
	if it.Next(ctx) {
		t.Fatalf("expected cancelled context to stop iteration")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", it.Err())
	}
}
