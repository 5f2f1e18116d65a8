package fixtures

import (
	"time"

	"github.com/google/uuid"

	ddd "github.com/GoooIce/loco-ddd"
)

// EnvelopeOption configures an envelope built by NewEnvelope.
type EnvelopeOption func(*ddd.Envelope)

// NewEnvelope creates an envelope around event with version 1 defaults.
func NewEnvelope(event ddd.Event, opts ...EnvelopeOption) *ddd.Envelope {
	env := &ddd.Envelope{
		EventID:       uuid.New(),
		StreamID:      event.AggregateID(),
		Event:         event,
		Version:       1,
		GlobalVersion: 1,
		OccurredAt:    time.Now(),
		Metadata:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// WithStreamID overrides the stream ID (defaults to the event's aggregate ID).
func WithStreamID(id string) EnvelopeOption {
	return func(e *ddd.Envelope) { e.StreamID = id }
}

// WithVersion sets the stream version.
func WithVersion(v uint64) EnvelopeOption {
	return func(e *ddd.Envelope) { e.Version = v }
}

// WithGlobalVersion sets the global version.
func WithGlobalVersion(v uint64) EnvelopeOption {
	return func(e *ddd.Envelope) { e.GlobalVersion = v }
}

// WithMetadataField adds a metadata entry.
func WithMetadataField(key string, value any) EnvelopeOption {
	return func(e *ddd.Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// EnvelopesFromEvents wraps events in envelopes with sequential versions
// starting at 1.
func EnvelopesFromEvents(events ...ddd.Event) []*ddd.Envelope {
	envelopes := make([]*ddd.Envelope, len(events))
	baseTime := time.Now()
	for i, event := range events {
		envelopes[i] = &ddd.Envelope{
			EventID:       uuid.New(),
			StreamID:      event.AggregateID(),
			Event:         event,
			Version:       uint64(i + 1),
			GlobalVersion: uint64(i + 1),
			OccurredAt:    baseTime.Add(time.Duration(i) * time.Millisecond),
			Metadata:      make(map[string]any),
		}
	}
	return envelopes
}

// EnvelopeValuesFromEvents is EnvelopesFromEvents with value results, matching
// the EventStore.Save signature.
func EnvelopeValuesFromEvents(events ...ddd.Event) []ddd.Envelope {
	ptrs := EnvelopesFromEvents(events...)
	values := make([]ddd.Envelope, len(ptrs))
	for i, p := range ptrs {
		values[i] = *p
	}
	return values
}
