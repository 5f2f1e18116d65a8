package ddd

// StreamState is the concurrency requirement a writer attaches to Save.
type StreamState interface {
	streamState()
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) streamState() {}

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists means the stream must already exist.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision matches exactly a numeric revision: the sequence number of the last
// committed event, 0 for an empty stream. This is the optimistic-concurrency
// gate; a mismatch fails the append with *StreamRevisionConflictError.
type Revision uint64

func (Revision) streamState() {}
