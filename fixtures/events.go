package fixtures

import (
	"fmt"

	ddd "github.com/GoooIce/loco-ddd"
)

// TestEvent is a configurable event for tests.
type TestEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data string `json:"data"`
}

func (e TestEvent) AggregateID() string { return e.ID }
func (e TestEvent) EventType() string   { return e.Type }

// TestEventBuilder builds TestEvents fluently.
type TestEventBuilder struct {
	id   string
	typ  string
	data string
}

// NewTestEvent creates a builder with defaults.
func NewTestEvent() *TestEventBuilder {
	return &TestEventBuilder{id: "aggregate-1", typ: "TestEvent"}
}

func (b *TestEventBuilder) WithID(id string) *TestEventBuilder {
	b.id = id
	return b
}

func (b *TestEventBuilder) WithType(typ string) *TestEventBuilder {
	b.typ = typ
	return b
}

func (b *TestEventBuilder) WithData(data string) *TestEventBuilder {
	b.data = data
	return b
}

func (b *TestEventBuilder) Build() TestEvent {
	return TestEvent{ID: b.id, Type: b.typ, Data: b.data}
}

// BuildN creates n events with sequential data suffixes.
func (b *TestEventBuilder) BuildN(n int) []ddd.Event {
	events := make([]ddd.Event, n)
	for i := 0; i < n; i++ {
		events[i] = TestEvent{
			ID:   b.id,
			Type: b.typ,
			Data: fmt.Sprintf("%s-%d", b.data, i+1),
		}
	}
	return events
}

// Pre-built events for quick tests.
var (
	UserCreatedEvent = TestEvent{ID: "user-1", Type: "UserCreated"}
	UserRenamedEvent = TestEvent{ID: "user-1", Type: "UserRenamed"}
	OrderPlacedEvent = TestEvent{ID: "order-1", Type: "OrderPlaced"}
)
