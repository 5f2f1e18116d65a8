package ddd

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

type counterState struct {
	Total int64
}

type incremented struct {
	Counter string `json:"counter"`
	By      int64  `json:"by"`
}

func (e *incremented) AggregateID() string { return e.Counter }
func (e *incremented) EventType() string   { return "Incremented" }

type incrementCmd struct {
	Counter string
	By      int64
}

func (c incrementCmd) AggregateID() string { return c.Counter }

func evolveCounter(state counterState, env *Envelope) counterState {
	if ev, ok := env.Event.(*incremented); ok {
		state.Total += ev.By
	}
	return state
}

func decideIncrement(state counterState, cmd incrementCmd) ([]Event, error) {
	if cmd.By <= 0 {
		return nil, NewDomainRuleError("positive-increment", "increment by %d rejected", cmd.By)
	}
	return []Event{&incremented{Counter: cmd.Counter, By: cmd.By}}, nil
}

func TestNewCommandHandler_AppendsAtObservedRevision(t *testing.T) {
	var savedRevision StreamState
	var savedEvents []Envelope
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			return NewSliceIterator([]*Envelope{
				{StreamID: id, Event: &incremented{Counter: id, By: 2}, Version: 1},
				{StreamID: id, Event: &incremented{Counter: id, By: 3}, Version: 2},
			}), nil
		},
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			savedRevision = revision
			savedEvents = events
			return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
		},
	}

	handler := NewCommandHandler(store, counterState{}, evolveCounter, decideIncrement)

	result, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Successful || result.NextExpectedVersion != 3 {
		t.Fatalf("expected version 3, got %+v", result)
	}
	if savedRevision != Revision(2) {
		t.Fatalf("expected save at Revision(2), got %#v", savedRevision)
	}
	if len(savedEvents) != 1 || savedEvents[0].Version != 3 {
		t.Fatalf("expected one envelope at version 3, got %+v", savedEvents)
	}
	if savedEvents[0].StreamID != "c-1" {
		t.Fatalf("expected stream c-1, got %q", savedEvents[0].StreamID)
	}
}

func TestNewCommandHandler_NoEventsIsAcceptedNoOp(t *testing.T) {
	store := &stubStore{
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			t.Fatalf("save must not be called when decide produces no events")
			return AppendResult{}, nil
		},
	}

	handler := NewCommandHandler(store, counterState{}, evolveCounter,
		func(state counterState, cmd incrementCmd) ([]Event, error) {
			return nil, nil
		})

	result, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Successful {
		t.Fatalf("expected successful no-op")
	}
}

func TestNewCommandHandler_DomainRuleErrorIsPermanent(t *testing.T) {
	attempts := 0
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			attempts++
			return EmptyIterator[*Envelope](), nil
		},
	}

	handler := NewCommandHandler(store, counterState{}, evolveCounter, decideIncrement,
		WithRetryStrategy(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)))

	_, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: -1})
	var ruleErr *DomainRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected DomainRuleError, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("rule violations must not be retried, saw %d attempts", attempts)
	}
}

func TestNewCommandHandler_ConflictIsRetriedAgainstFreshState(t *testing.T) {
	conflicts := 1
	var observedTotals []int64
	history := []*Envelope{
		{StreamID: "c-1", Event: &incremented{Counter: "c-1", By: 2}, Version: 1},
	}

	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			return NewSliceIterator(history), nil
		},
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			if conflicts > 0 {
				conflicts--
				// A competing writer advanced the stream between attempts.
				history = append(history, &Envelope{
					StreamID: "c-1",
					Event:    &incremented{Counter: "c-1", By: 10},
					Version:  uint64(len(history) + 1),
				})
				return AppendResult{Successful: false}, &StreamRevisionConflictError{
					Stream:           "c-1",
					ExpectedRevision: revision.(Revision),
					ActualRevision:   Revision(len(history)),
				}
			}
			return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
		},
	}

	handler := NewCommandHandler(store, counterState{},
		func(state counterState, env *Envelope) counterState {
			state = evolveCounter(state, env)
			return state
		},
		func(state counterState, cmd incrementCmd) ([]Event, error) {
			observedTotals = append(observedTotals, state.Total)
			return decideIncrement(state, cmd)
		},
		WithRetryStrategy(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)),
	)

	result, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextExpectedVersion != 3 {
		t.Fatalf("expected retry to append at version 3, got %d", result.NextExpectedVersion)
	}

	// First attempt decided against total 2, the retry against total 12.
	if len(observedTotals) != 2 || observedTotals[0] != 2 || observedTotals[1] != 12 {
		t.Fatalf("expected re-decide against fresh state, got %v", observedTotals)
	}
}

func TestNewCommandHandler_ConflictWithoutRetryStrategyFails(t *testing.T) {
	store := &stubStore{
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			return AppendResult{Successful: false}, &StreamRevisionConflictError{Stream: "c-1"}
		},
	}

	handler := NewCommandHandler(store, counterState{}, evolveCounter, decideIncrement)

	_, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: 5})
	var conflict *StreamRevisionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestNewCommandHandler_MetadataAndStreamNamer(t *testing.T) {
	var savedEvents []Envelope
	var loadedStream string
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			loadedStream = id
			return EmptyIterator[*Envelope](), nil
		},
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			savedEvents = events
			return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
		},
	}

	handler := NewCommandHandler(store, counterState{}, evolveCounter, decideIncrement,
		WithStreamNamer(func(ctx context.Context, cmd Command) string {
			return "counter-" + cmd.AggregateID()
		}),
		WithMetadataExtractor(func(ctx context.Context) map[string]any {
			return map[string]any{"tenant": "acme"}
		}),
	)

	if _, err := handler(context.Background(), incrementCmd{Counter: "c-1", By: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loadedStream != "counter-c-1" {
		t.Fatalf("expected prefixed stream, got %q", loadedStream)
	}
	if savedEvents[0].StreamID != "counter-c-1" {
		t.Fatalf("expected envelope on prefixed stream, got %q", savedEvents[0].StreamID)
	}
	if savedEvents[0].Metadata["tenant"] != "acme" {
		t.Fatalf("expected extracted metadata, got %v", savedEvents[0].Metadata)
	}
}
