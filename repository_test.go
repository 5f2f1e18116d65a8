package ddd

import (
	"context"
	"errors"
	"testing"
)

// ---- Test doubles ----

type stubStore struct {
	saveFn func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)
	loadFn func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	saveCalls int
	loadCalls int
}

func (s *stubStore) Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
	s.saveCalls++
	if s.saveFn != nil {
		return s.saveFn(ctx, events, revision)
	}
	return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
}

func (s *stubStore) LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *stubStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
	s.loadCalls++
	if s.loadFn != nil {
		return s.loadFn(ctx, id, version)
	}
	return EmptyIterator[*Envelope](), nil
}

func (s *stubStore) LoadFromAll(ctx context.Context, version uint64) (*Iterator[*Envelope], error) {
	return EmptyIterator[*Envelope](), nil
}

func (s *stubStore) Close() error { return nil }

type stubBus struct {
	publishFn func(ctx context.Context, env *Envelope) error
	published []*Envelope
}

func (b *stubBus) Subscribe(ctx context.Context, name string, filter EventFilter, handler EventHandler, options ...SubscriberOption) error {
	return nil
}

func (b *stubBus) Publish(ctx context.Context, env *Envelope) error {
	b.published = append(b.published, env)
	if b.publishFn != nil {
		return b.publishFn(ctx, env)
	}
	return nil
}

func (b *stubBus) Errors() <-chan error { return nil }
func (b *stubBus) Close() error         { return nil }

// ---- Load ----

func TestRepositoryLoad_EmptyStreamYieldsFreshAggregate(t *testing.T) {
	repo := NewRepository(&stubStore{}, nil)
	user := newUserAggregate("user-1")

	if err := repo.Load(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.AggregateVersion() != 0 || user.Created {
		t.Fatalf("expected fresh aggregate, got version=%d created=%v", user.AggregateVersion(), user.Created)
	}
}

func TestRepositoryLoad_MustExistFailsOnEmptyStream(t *testing.T) {
	repo := NewRepository(&stubStore{}, nil)
	user := newUserAggregate("user-1")

	err := repo.Load(context.Background(), user, MustExist())
	if !errors.Is(err, ErrAggregateNotFound) {
		t.Fatalf("expected ErrAggregateNotFound, got %v", err)
	}
}

func TestRepositoryLoad_ReplaysHistory(t *testing.T) {
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			return NewSliceIterator([]*Envelope{
				{StreamID: id, Event: &userCreated{ID: id, Name: "ada"}, Version: 1},
				{StreamID: id, Event: &userRenamed{ID: id, Name: "grace"}, Version: 2},
			}), nil
		},
	}
	repo := NewRepository(store, nil)
	user := newUserAggregate("user-1")

	if err := repo.Load(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Name != "grace" || user.AggregateVersion() != 2 {
		t.Fatalf("expected rehydrated state, got name=%q version=%d", user.Name, user.AggregateVersion())
	}
}

func TestRepositoryLoad_RejectsDirtyAggregate(t *testing.T) {
	repo := NewRepository(&stubStore{}, nil)
	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.Load(context.Background(), user); err == nil {
		t.Fatalf("expected error loading a dirty aggregate")
	}
}

func TestRepositoryLoad_WrapsStoreError(t *testing.T) {
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			return nil, errors.New("disk on fire")
		},
	}
	repo := NewRepository(store, nil)

	err := repo.Load(context.Background(), newUserAggregate("user-1"))
	var storeErr *EventStoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected EventStoreError, got %v", err)
	}
}

// ---- Save ----

func TestRepositorySave_NoEventsIsNoOp(t *testing.T) {
	store := &stubStore{}
	bus := &stubBus{}
	repo := NewRepository(store, bus)

	result, err := repo.Save(context.Background(), newUserAggregate("user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Successful {
		t.Fatalf("expected successful no-op save")
	}
	if store.saveCalls != 0 || len(bus.published) != 0 {
		t.Fatalf("no-op save must not touch store or bus")
	}
}

func TestRepositorySave_AppendsAtOriginRevisionAndPublishes(t *testing.T) {
	var gotRevision StreamState
	store := &stubStore{
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			gotRevision = revision
			return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
		},
	}
	bus := &stubBus{}
	repo := NewRepository(store, bus)

	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Raise(user, &userRenamed{ID: "user-1", Name: "grace"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := repo.Save(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}
	if gotRevision != Revision(0) {
		t.Fatalf("expected Revision(0), got %#v", gotRevision)
	}
	if result.NextExpectedVersion != 2 {
		t.Fatalf("expected next expected version 2, got %d", result.NextExpectedVersion)
	}
	if len(user.UncommittedEvents()) != 0 {
		t.Fatalf("expected queue cleared after save")
	}

	if len(bus.published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(bus.published))
	}
	if bus.published[0].Version != 1 || bus.published[1].Version != 2 {
		t.Fatalf("expected publish in append order")
	}
}

func TestRepositorySave_SecondBatchUsesCommittedRevision(t *testing.T) {
	var gotRevision StreamState
	store := &stubStore{
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			gotRevision = revision
			return AppendResult{Successful: true, NextExpectedVersion: events[len(events)-1].Version}, nil
		},
	}
	repo := NewRepository(store, nil)

	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Save(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Raise(user, &userRenamed{ID: "user-1", Name: "grace"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Save(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotRevision != Revision(1) {
		t.Fatalf("expected Revision(1) for second batch, got %#v", gotRevision)
	}
}

func TestRepositorySave_ConflictKeepsQueueAndPublishesNothing(t *testing.T) {
	conflict := &StreamRevisionConflictError{Stream: "user-1", ExpectedRevision: 0, ActualRevision: 3}
	store := &stubStore{
		saveFn: func(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error) {
			return AppendResult{Successful: false}, conflict
		},
	}
	bus := &stubBus{}
	repo := NewRepository(store, bus)

	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := repo.Save(context.Background(), user)
	var gotConflict *StreamRevisionConflictError
	if !errors.As(err, &gotConflict) {
		t.Fatalf("expected StreamRevisionConflictError, got %v", err)
	}
	if len(user.UncommittedEvents()) != 1 {
		t.Fatalf("expected queue intact after failed save")
	}
	if len(bus.published) != 0 {
		t.Fatalf("nothing may be published when the append fails")
	}
}

func TestRepositorySave_PublishFailureBecomesWarning(t *testing.T) {
	store := &stubStore{}
	bus := &stubBus{
		publishFn: func(ctx context.Context, env *Envelope) error {
			return &DeliveryError{Failures: []*SubscriberError{
				{Subscriber: "projector", Err: errors.New("projection down")},
			}}
		},
	}
	repo := NewRepository(store, bus)

	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := repo.Save(context.Background(), user)
	if err != nil {
		t.Fatalf("publish failure must not fail the save, got %v", err)
	}
	if !result.Successful {
		t.Fatalf("expected successful save")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	var delivery *DeliveryError
	if !errors.As(result.Warnings[0], &delivery) {
		t.Fatalf("expected DeliveryError warning, got %v", result.Warnings[0])
	}
	if len(user.UncommittedEvents()) != 0 {
		t.Fatalf("queue must be cleared once the append succeeded")
	}
}

// ---- Snapshots ----

func TestRepositorySnapshot_RoundTrip(t *testing.T) {
	history := []*Envelope{
		{StreamID: "user-1", Event: &userCreated{ID: "user-1", Name: "ada"}, Version: 1},
		{StreamID: "user-1", Event: &userRenamed{ID: "user-1", Name: "grace"}, Version: 2},
		{StreamID: "user-1", Event: &userRenamed{ID: "user-1", Name: "joan"}, Version: 3},
	}
	store := &stubStore{
		loadFn: func(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error) {
			var tail []*Envelope
			for _, env := range history {
				if env.Version > version {
					tail = append(tail, env)
				}
			}
			return NewSliceIterator(tail), nil
		},
	}
	snaps := NewMemorySnapshotter()
	repo := NewRepository(store, nil, WithSnapshotter(snaps))

	// Hydrate fully, snapshot at version 3.
	user := newUserAggregate("user-1")
	if err := repo.Load(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.SaveSnapshot(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh load starts from the snapshot, not version 0.
	store.loadCalls = 0
	reloaded := newUserAggregate("user-1")
	if err := repo.Load(context.Background(), reloaded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Name != "joan" || reloaded.AggregateVersion() != 3 {
		t.Fatalf("expected snapshot-assisted state, got name=%q version=%d", reloaded.Name, reloaded.AggregateVersion())
	}

	// SkipSnapshot forces the full replay path.
	replayed := newUserAggregate("user-1")
	if err := repo.Load(context.Background(), replayed, SkipSnapshot()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed.Name != "joan" || replayed.AggregateVersion() != 3 {
		t.Fatalf("expected identical state from full replay")
	}
}

func TestRepositorySaveSnapshot_RejectsDirtyAggregate(t *testing.T) {
	repo := NewRepository(&stubStore{}, nil, WithSnapshotter(NewMemorySnapshotter()))

	user := newUserAggregate("user-1")
	if err := Raise(user, &userCreated{ID: "user-1", Name: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.SaveSnapshot(context.Background(), user); err == nil {
		t.Fatalf("expected error snapshotting a dirty aggregate")
	}
}
