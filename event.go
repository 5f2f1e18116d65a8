package ddd

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope carries an Event together with the bookkeeping the store and bus
// need: identity, stream position and metadata. Envelopes are treated as
// immutable once created.
type Envelope struct {
	EventID       uuid.UUID
	StreamID      string
	Metadata      map[string]any
	Event         Event
	Version       uint64
	GlobalVersion uint64
	OccurredAt    time.Time
}

// EventOption mutates an envelope at creation time, before it is appended to
// an aggregate's uncommitted queue.
type EventOption func(env *Envelope)

// WithMetadata merges the given key/value pairs into the envelope metadata.
func WithMetadata(md map[string]any) EventOption {
	return func(env *Envelope) {
		for k, v := range md {
			env.Metadata[k] = v
		}
	}
}

// WithOccurredAt overrides the envelope timestamp. Mostly useful in tests and
// when importing historical streams.
func WithOccurredAt(t time.Time) EventOption {
	return func(env *Envelope) {
		env.OccurredAt = t
	}
}
