package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventStore = (*MemoryStore)(nil)

var ErrStoreClosed = errors.New("memory store is closed")

// MemoryStore is an in-process, append-only event store. Appends are
// serialized under one lock, so the per-stream version counter is the single
// point of mutual exclusion: concurrent writers to the same stream lose with
// *StreamRevisionConflictError instead of blocking.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool
	global []*ddd.Envelope
	events map[string][]*ddd.Envelope
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*ddd.Envelope),
		global: make([]*ddd.Envelope, 0),
	}
}

// Save appends the batch if the revision requirement holds. The batch is
// all-or-nothing: on any admission failure the store is unchanged.
func (m *MemoryStore) Save(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return ddd.AppendResult{Successful: false}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ddd.AppendResult{Successful: false}, ErrStoreClosed
	}

	if len(events) == 0 {
		return ddd.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return ddd.AppendResult{}, fmt.Errorf(
				"save to stream %q: %w: event %d targets stream %q",
				streamID, ddd.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	currentVersion := uint64(len(m.events[streamID]))

	switch rev := revision.(type) {
	case ddd.Any:
		// No concurrency check.
	case ddd.NoStream:
		if currentVersion != 0 {
			return ddd.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, ddd.ErrStreamExists)
		}
	case ddd.StreamExists:
		if currentVersion == 0 {
			return ddd.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, ddd.ErrStreamNotFound)
		}
	case ddd.Revision:
		if currentVersion != uint64(rev) {
			return ddd.AppendResult{Successful: false}, &ddd.StreamRevisionConflictError{
				Stream:           streamID,
				ExpectedRevision: rev,
				ActualRevision:   ddd.Revision(currentVersion),
			}
		}
	default:
		return ddd.AppendResult{Successful: false},
			fmt.Errorf("stream %q: %w: %T", streamID, ddd.ErrInvalidRevision, revision)
	}

	for i := range events {
		// Assigned on the caller's envelope so post-commit publishes carry
		// the global position, matching the other backends.
		events[i].GlobalVersion = uint64(len(m.global)) + 1
		stored := new(ddd.Envelope)
		*stored = events[i]
		m.events[streamID] = append(m.events[streamID], stored)
		m.global = append(m.global, stored)
		currentVersion++
	}

	return ddd.AppendResult{
		Successful:          true,
		NextExpectedVersion: currentVersion,
	}, nil
}

// LoadStream loads all committed events for the stream. An unknown stream
// yields an empty iterator: a fresh aggregate, not an error.
func (m *MemoryStore) LoadStream(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error) {
	return m.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom loads the stream's events with version > version.
func (m *MemoryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	events := m.events[id]
	m.mu.RUnlock()

	if int(version) >= len(events) {
		return ddd.EmptyIterator[*ddd.Envelope](), nil
	}

	// The slice is append-only, iterating a snapshot of it is safe.
	return ddd.NewSliceIterator(events[version:]), nil
}

// LoadFromAll loads events across all streams with global version > version,
// in append order.
func (m *MemoryStore) LoadFromAll(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	all := m.global
	m.mu.RUnlock()

	if int(version) >= len(all) {
		return ddd.EmptyIterator[*ddd.Envelope](), nil
	}
	return ddd.NewSliceIterator(all[version:]), nil
}

// Close drops all stored events. Idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.events = make(map[string][]*ddd.Envelope)
	m.global = nil
	return nil
}
