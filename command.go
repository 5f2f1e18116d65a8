package ddd

// Command expresses the intent to change one aggregate. The aggregate ID
// doubles as the shard key, so dispatches for the same aggregate are
// serialized by the command bus.
type Command interface {
	AggregateID() string
}
