package ddd

import (
	"context"
)

// EventStore defines the contract for an append-only event store. An
// EventStore persists events per stream in sequential order, allowing full
// reconstruction of aggregate state at any point in time.
//
// Implementations must guarantee:
//   - Events within a stream are stored in ascending version order, gap-free.
//   - Save is all-or-nothing per batch and enforces the requested StreamState;
//     concurrent writers to the same stream are serialized, losers observe
//     *StreamRevisionConflictError.
//   - Loading an unknown stream yields an empty iterator, not an error.
//   - Iteration order from all Load* methods is oldest to newest.
//
// Returned iterators are lazy and single-use; consume them promptly.
type EventStore interface {
	// Save appends the batch to the stream named by the envelopes' StreamID.
	// All envelopes in one batch must target the same stream.
	//
	// The revision argument is the concurrency requirement:
	//   - Any: append without checking.
	//   - NoStream: the stream must not exist yet.
	//   - StreamExists: the stream must already exist.
	//   - Revision(n): the stream's current version must be exactly n.
	//
	// On a Revision mismatch Save fails with *StreamRevisionConflictError and
	// leaves the store unchanged.
	Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)

	// LoadStream loads all committed events for the stream, oldest first.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom loads the stream's events with version > version,
	// oldest first. Loading past the end of the stream yields an empty
	// iterator.
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadFromAll loads events across all streams with global version >
	// version, in append order. Cross-stream ordering is an implementation
	// property of the backend, not a causal guarantee.
	LoadFromAll(ctx context.Context, version uint64) (*Iterator[*Envelope], error)

	// Close releases resources held by the store. Idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful          bool
	NextExpectedVersion uint64
}
