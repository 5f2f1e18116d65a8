package ddd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoredEvent is the JSON wire form of an Envelope, shared by the disk store,
// the SQL store and the NATS bus. The event payload is kept as raw JSON so a
// stream can be read without every event type being linked in.
type StoredEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EncodeEnvelope converts an Envelope to its stored form.
func EncodeEnvelope(env *Envelope) (*StoredEvent, error) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", TypeName(env.Event), err)
	}
	return &StoredEvent{
		EventID:       env.EventID,
		StreamID:      env.StreamID,
		EventType:     env.Event.EventType(),
		Data:          data,
		Metadata:      env.Metadata,
		Version:       env.Version,
		GlobalVersion: env.GlobalVersion,
		OccurredAt:    env.OccurredAt,
	}, nil
}

// DecodeStoredEvent converts a stored event back to an Envelope, resolving the
// concrete event type through the registry.
func DecodeStoredEvent(registry *EventRegistry, stored *StoredEvent) (*Envelope, error) {
	ev, err := registry.New(stored.EventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stored.Data, ev); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", stored.EventType, err)
	}

	metadata := stored.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Envelope{
		EventID:       stored.EventID,
		StreamID:      stored.StreamID,
		Metadata:      metadata,
		Event:         ev,
		Version:       stored.Version,
		GlobalVersion: stored.GlobalVersion,
		OccurredAt:    stored.OccurredAt,
	}, nil
}
