package fixtures

// TestCommand is a configurable command for tests.
type TestCommand struct {
	ID   string
	Data string
}

func (c TestCommand) AggregateID() string { return c.ID }

// TestCommandBuilder builds TestCommands fluently.
type TestCommandBuilder struct {
	id   string
	data string
}

// NewTestCommand creates a builder with defaults.
func NewTestCommand() *TestCommandBuilder {
	return &TestCommandBuilder{id: "aggregate-1"}
}

func (b *TestCommandBuilder) WithID(id string) *TestCommandBuilder {
	b.id = id
	return b
}

func (b *TestCommandBuilder) WithData(data string) *TestCommandBuilder {
	b.data = data
	return b
}

func (b *TestCommandBuilder) Build() TestCommand {
	return TestCommand{ID: b.id, Data: b.data}
}

// TestQuery is a configurable query for tests.
type TestQuery struct {
	QueryID string
	Filter  string
}

func (q TestQuery) ID() []byte { return []byte(q.QueryID) }
