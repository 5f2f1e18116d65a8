package fixtures

import (
	"context"
	"sync"

	ddd "github.com/GoooIce/loco-ddd"
)

// StoreSpy is a configurable EventStore double. It tracks calls, serves
// pre-populated streams, and supports error injection or full overrides.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides.
	LoadStreamFn     func(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error)
	LoadStreamFromFn func(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error)
	LoadFromAllFn    func(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error)
	SaveFn           func(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error)
	CloseFn          func() error

	// Call tracking.
	LoadStreamCalls     int
	LoadStreamFromCalls int
	LoadFromAllCalls    int
	SaveCalls           int
	CloseCalls          int

	// Captured arguments from the last call.
	LastSaveEvents   []ddd.Envelope
	LastSaveRevision ddd.StreamState
	LastLoadStreamID string

	events map[string][]*ddd.Envelope

	loadErr error
	saveErr error
}

// NewStoreSpy creates an empty spy.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{events: make(map[string][]*ddd.Envelope)}
}

// WithEvents pre-populates a stream.
func (s *StoreSpy) WithEvents(streamID string, events ...*ddd.Envelope) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[streamID] = events
	return s
}

// WithEventsFromSlice pre-populates a stream from plain events.
func (s *StoreSpy) WithEventsFromSlice(streamID string, events ...ddd.Event) *StoreSpy {
	return s.WithEvents(streamID, EnvelopesFromEvents(events...)...)
}

// FailOnLoad makes all load operations fail with err.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnSave makes Save fail with err.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.saveErr = err
	return s
}

func (s *StoreSpy) LoadStream(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *StoreSpy) LoadStreamFrom(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamFromCalls++
	if version == 0 {
		s.LoadStreamCalls++
	}
	s.LastLoadStreamID = id
	s.mu.Unlock()

	if s.LoadStreamFromFn != nil {
		return s.LoadStreamFromFn(ctx, id, version)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	var filtered []*ddd.Envelope
	for _, e := range events {
		if e.Version > version {
			filtered = append(filtered, e)
		}
	}
	return ddd.NewSliceIterator(filtered), nil
}

func (s *StoreSpy) LoadFromAll(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	s.mu.Lock()
	s.LoadFromAllCalls++
	s.mu.Unlock()

	if s.LoadFromAllFn != nil {
		return s.LoadFromAllFn(ctx, version)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	var all []*ddd.Envelope
	for _, events := range s.events {
		for _, e := range events {
			if e.GlobalVersion > version {
				all = append(all, e)
			}
		}
	}
	s.mu.Unlock()

	return ddd.NewSliceIterator(all), nil
}

func (s *StoreSpy) Save(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaveEvents = events
	s.LastSaveRevision = revision
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, events, revision)
	}
	if s.saveErr != nil {
		return ddd.AppendResult{Successful: false}, s.saveErr
	}
	if len(events) == 0 {
		return ddd.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID

	s.mu.Lock()
	for i := range events {
		env := events[i]
		s.events[streamID] = append(s.events[streamID], &env)
	}
	nextVersion := events[len(events)-1].Version
	s.mu.Unlock()

	return ddd.AppendResult{
		Successful:          true,
		NextExpectedVersion: nextVersion,
	}, nil
}

func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Reset clears call counts and stored data.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LoadStreamCalls = 0
	s.LoadStreamFromCalls = 0
	s.LoadFromAllCalls = 0
	s.SaveCalls = 0
	s.CloseCalls = 0
	s.LastSaveEvents = nil
	s.LastSaveRevision = nil
	s.LastLoadStreamID = ""
	s.events = make(map[string][]*ddd.Envelope)
	s.loadErr = nil
	s.saveErr = nil
}

// ConflictingStore returns a spy whose Save always reports a revision
// conflict.
func ConflictingStore(streamID string, expected, actual ddd.Revision) *StoreSpy {
	store := NewStoreSpy()
	store.SaveFn = func(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
		return ddd.AppendResult{Successful: false}, &ddd.StreamRevisionConflictError{
			Stream:           streamID,
			ExpectedRevision: expected,
			ActualRevision:   actual,
		}
	}
	return store
}
