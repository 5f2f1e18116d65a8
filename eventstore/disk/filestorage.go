package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventStore = (*FileStore)(nil)

// FileStore persists one JSON file per event. Each stream gets its own
// directory named after the stream ID; the file name carries the zero-padded
// version so a directory listing is already in commit order. The all/
// directory holds symlinks in global order.
//
// Intended for development and tests; a single mutex serializes writers.
type FileStore struct {
	baseDir   string
	registry  *ddd.EventRegistry
	mu        sync.Mutex
	closed    bool
	globalSeq uint64
}

// NewFileStore opens (or creates) a store rooted at dir. The registry resolves
// event type names back to concrete types on load. The global sequence resumes
// from the existing all/ directory, so reopening a store keeps global order.
func NewFileStore(dir string, registry *ddd.EventRegistry) (*FileStore, error) {
	allDir := filepath.Join(dir, "all")
	if err := os.MkdirAll(allDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	f := &FileStore{baseDir: dir, registry: registry}

	entries, err := os.ReadDir(allDir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}
	for _, e := range entries {
		if seq, ok := parseSequence(e.Name()); ok && seq > f.globalSeq {
			f.globalSeq = seq
		}
	}

	return f, nil
}

func (f *FileStore) streamDir(id string) string {
	return filepath.Join(f.baseDir, id)
}

// Save appends the batch if the revision requirement holds against the number
// of files already in the stream directory.
func (f *FileStore) Save(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return ddd.AppendResult{Successful: false}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ddd.AppendResult{Successful: false}, os.ErrClosed
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

	sdir := f.streamDir(streamID)
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return ddd.AppendResult{}, ddd.WrapEventStoreError(err)
	}

	files, err := os.ReadDir(sdir)
	if err != nil {
		return ddd.AppendResult{}, ddd.WrapEventStoreError(err)
	}
	currentVersion := uint64(len(files))

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

	allDir := filepath.Join(f.baseDir, "all")

	// The append is all-or-nothing: any failure removes the files already
	// written for this batch and restores the global sequence.
	startSeq := f.globalSeq
	var written []string
	rollback := func(err error) (ddd.AppendResult, error) {
		for _, p := range written {
			os.Remove(p)
		}
		f.globalSeq = startSeq
		return ddd.AppendResult{}, ddd.WrapEventStoreError(err)
	}

	for i := range events {
		f.globalSeq++
		events[i].GlobalVersion = f.globalSeq

		stored, err := ddd.EncodeEnvelope(&events[i])
		if err != nil {
			return rollback(err)
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return rollback(err)
		}

		fname := fmt.Sprintf("%010d-%s.json", events[i].Version, stored.EventType)
		path := filepath.Join(sdir, fname)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return rollback(err)
		}
		written = append(written, path)

		link := filepath.Join(allDir, fmt.Sprintf("%010d-%s.json", events[i].GlobalVersion, stored.EventType))
		rel, err := filepath.Rel(allDir, path)
		if err != nil {
			return rollback(err)
		}
		if err := os.Symlink(rel, link); err != nil {
			return rollback(err)
		}
		written = append(written, link)

		currentVersion++
	}

	return ddd.AppendResult{
		Successful:          true,
		NextExpectedVersion: currentVersion,
	}, nil
}

// LoadStream loads all committed events for the stream. An unknown stream
// yields an empty iterator.
func (f *FileStore) LoadStream(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error) {
	return f.loadFromDir(f.streamDir(id), 0)
}

// LoadStreamFrom loads the stream's events with version > version.
func (f *FileStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	return f.loadFromDir(f.streamDir(id), version)
}

// LoadFromAll loads events across all streams with global version > version.
func (f *FileStore) LoadFromAll(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	return f.loadFromDir(filepath.Join(f.baseDir, "all"), version)
}

func (f *FileStore) loadFromDir(dir string, after uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ddd.EmptyIterator[*ddd.Envelope](), nil
		}
		return nil, ddd.WrapEventStoreError(err)
	}

	idx := 0
	return ddd.NewIteratorFunc(func(ctx context.Context) (*ddd.Envelope, error) {
		for idx < len(files) {
			fi := files[idx]
			idx++
			if fi.IsDir() {
				continue
			}

			seq, ok := parseSequence(fi.Name())
			if !ok || seq <= after {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, fi.Name()))
			if err != nil {
				return nil, ddd.WrapEventStoreError(err)
			}

			var stored ddd.StoredEvent
			if err := json.Unmarshal(data, &stored); err != nil {
				return nil, ddd.WrapEventStoreError(fmt.Errorf("decode %s: %w", fi.Name(), err))
			}

			env, err := ddd.DecodeStoredEvent(f.registry, &stored)
			if err != nil {
				return nil, ddd.WrapEventStoreError(err)
			}
			return env, nil
		}
		return nil, io.EOF
	}), nil
}

// Close marks the store closed. Files already written stay on disk.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func parseSequence(name string) (uint64, bool) {
	head, _, ok := strings.Cut(name, "-")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
