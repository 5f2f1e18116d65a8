package ddd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Aggregate is the interface that all event-sourced aggregate roots implement.
// AggregateBase provides everything except Apply, which carries the
// aggregate's own state transition.
type Aggregate interface {

	// EntityID returns the unique identifier of the aggregate.
	EntityID() string

	// AggregateVersion returns the sequence number of the last applied event,
	// committed or not. A fresh aggregate is at version 0.
	AggregateVersion() uint64

	// SetAggregateVersion sets the version of the aggregate.
	SetAggregateVersion(version uint64)

	// UncommittedEvents returns all the events that are currently uncommitted.
	UncommittedEvents() []Envelope

	// TakeUncommittedEvents returns the uncommitted events and clears the
	// queue. Calling it again without new events returns nil.
	TakeUncommittedEvents() []Envelope

	// ClearUncommittedEvents clears all uncommitted events from the aggregate.
	ClearUncommittedEvents()

	// AppendEvent records an already-applied event as uncommitted at
	// version+1 and advances the version. Domain code should go through
	// Raise, which applies first and only then appends.
	AppendEvent(event Event, options ...EventOption)

	// Apply mutates the aggregate state for one event. It must be a pure
	// function of (current state, event): replaying the same sequence from
	// version 0 always yields identical state. Domain operations route their
	// validation here; a *DomainRuleError leaves the state untouched.
	Apply(event Event) error
}

type AggregateBase struct {
	id     string
	v      uint64
	events []Envelope
}

// NewAggregateBase creates the embeddable aggregate core at version 0.
func NewAggregateBase(id string) *AggregateBase {
	return &AggregateBase{
		id:     id,
		events: make([]Envelope, 0),
	}
}

// EntityID implements the EntityID method of the Aggregate interface.
func (a *AggregateBase) EntityID() string {
	return a.id
}

// AggregateVersion implements the AggregateVersion method of the Aggregate interface.
func (a *AggregateBase) AggregateVersion() uint64 {
	return a.v
}

// SetAggregateVersion implements the SetAggregateVersion method of the Aggregate interface.
func (a *AggregateBase) SetAggregateVersion(v uint64) {
	a.v = v
}

// UncommittedEvents implements the UncommittedEvents method of the Aggregate interface.
func (a *AggregateBase) UncommittedEvents() []Envelope {
	return a.events
}

// TakeUncommittedEvents implements the TakeUncommittedEvents method of the
// Aggregate interface.
func (a *AggregateBase) TakeUncommittedEvents() []Envelope {
	events := a.events
	a.events = nil
	return events
}

// ClearUncommittedEvents implements the ClearUncommittedEvents method of the
// Aggregate interface.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.events = nil
}

// OriginVersion returns the committed version of the aggregate: the version it
// was at before the current batch of uncommitted events. This is the expected
// revision for an optimistic append.
func (a *AggregateBase) OriginVersion() uint64 {
	return a.v - uint64(len(a.events))
}

// AppendEvent implements the AppendEvent method of the Aggregate interface.
func (a *AggregateBase) AppendEvent(event Event, options ...EventOption) {
	version := a.v + 1

	envelope := Envelope{
		EventID:    uuid.New(),
		StreamID:   a.id,
		Metadata:   make(map[string]any),
		Event:      event,
		Version:    version,
		OccurredAt: now(),
	}

	for _, option := range options {
		option(&envelope)
	}

	a.v = version
	a.events = append(a.events, envelope)
}

// Raise is the single mutation path for domain operations: it applies the
// event to the aggregate and, on success, records it as uncommitted at
// version+1. If Apply rejects the event nothing is recorded.
func Raise(agg Aggregate, event Event, options ...EventOption) error {
	if err := agg.Apply(event); err != nil {
		return err
	}
	agg.AppendEvent(event, options...)
	return nil
}

// Replay folds a loaded stream onto the aggregate, enforcing the gap-free
// sequence contract. An envelope whose version is not exactly version+1 fails
// with *InvalidSequenceError and leaves the aggregate at its last good state.
func Replay(ctx context.Context, agg Aggregate, iter *Iterator[*Envelope]) error {
	for iter.Next(ctx) {
		env := iter.Value()
		if env.Version != agg.AggregateVersion()+1 {
			return &InvalidSequenceError{
				StreamID: agg.EntityID(),
				Expected: agg.AggregateVersion() + 1,
				Got:      env.Version,
			}
		}
		if err := agg.Apply(env.Event); err != nil {
			return err
		}
		agg.SetAggregateVersion(env.Version)
	}
	return iter.Err()
}
