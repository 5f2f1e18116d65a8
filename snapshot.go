package ddd

import (
	"context"
	"encoding/json"
	"sync"
)

// Snapshot is a serialized aggregate state at a known version. Snapshots are
// an optimization: correctness never depends on them, a lost snapshot only
// means a longer replay.
type Snapshot struct {
	StreamID string
	Version  uint64
	State    []byte
}

// Snapshotter stores and retrieves aggregate snapshots.
type Snapshotter interface {
	// SaveSnapshot stores the snapshot, replacing any older one for the stream.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the latest snapshot for the stream, or nil when
	// none exists.
	LoadSnapshot(ctx context.Context, streamID string) (*Snapshot, error)
}

// SnapshotAggregate marks aggregates that can round-trip their state for
// snapshotting, separate from their event history.
type SnapshotAggregate interface {
	Aggregate
	SnapshotState() (json.RawMessage, error)
	RestoreSnapshot(state json.RawMessage) error
}

// MemorySnapshotter is an in-process Snapshotter keeping the latest snapshot
// per stream.
type MemorySnapshotter struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{snaps: make(map[string]*Snapshot)}
}

func (m *MemorySnapshotter) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.StreamID] = snap
	return nil
}

func (m *MemorySnapshotter) LoadSnapshot(ctx context.Context, streamID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snaps[streamID], nil
}
