package gorm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	ddd "github.com/GoooIce/loco-ddd"
	"github.com/GoooIce/loco-ddd/fixtures"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "events.db")), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)

	registry := ddd.NewEventRegistry()
	require.NoError(t, registry.RegisterName("TestEvent", func() ddd.Event { return &fixtures.TestEvent{} }))

	store := NewGormStore(db, registry)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormStore_SaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	events := fixtures.EnvelopeValuesFromEvents(
		fixtures.NewTestEvent().WithID("s-1").WithData("a").Build(),
		fixtures.NewTestEvent().WithID("s-1").WithData("b").Build(),
	)
	events[0].Metadata["tenant"] = "acme"

	result, err := store.Save(ctx, events, ddd.NoStream{})
	require.NoError(t, err)
	require.True(t, result.Successful)
	require.Equal(t, uint64(2), result.NextExpectedVersion)

	iter, err := store.LoadStream(ctx, "s-1")
	require.NoError(t, err)
	loaded, err := iter.All(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	first, ok := loaded[0].Event.(*fixtures.TestEvent)
	require.True(t, ok, "expected decoded *TestEvent, got %T", loaded[0].Event)
	require.Equal(t, "a", first.Data)
	require.Equal(t, uint64(1), loaded[0].Version)
	require.Equal(t, events[0].EventID, loaded[0].EventID)
	require.Equal(t, "acme", loaded[0].Metadata["tenant"])
}

func TestGormStore_UnknownStreamIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	iter, err := store.LoadStream(ctx, "missing")
	require.NoError(t, err)
	require.False(t, iter.Next(ctx))
	require.NoError(t, iter.Err())
}

func TestGormStore_RevisionChecks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID("s-1").Build())
	_, err := store.Save(ctx, first, ddd.NoStream{})
	require.NoError(t, err)

	_, err = store.Save(ctx, first, ddd.NoStream{})
	require.ErrorIs(t, err, ddd.ErrStreamExists)

	other := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID("s-2").Build())
	_, err = store.Save(ctx, other, ddd.StreamExists{})
	require.ErrorIs(t, err, ddd.ErrStreamNotFound)

	stale := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID("s-1").Build())
	_, err = store.Save(ctx, stale, ddd.Revision(0))
	var conflict *ddd.StreamRevisionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, ddd.Revision(1), conflict.ActualRevision)

	// The failed transaction left the stream unchanged.
	iter, err := store.LoadStream(ctx, "s-1")
	require.NoError(t, err)
	loaded, err := iter.All(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestGormStore_UniqueIndexBackstop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID("s-1").Build())
	_, err := store.Save(ctx, first, ddd.NoStream{})
	require.NoError(t, err)

	// Any skips the version check, so the duplicate (stream_id, version) hits
	// the unique index and is reported as a conflict.
	duplicate := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID("s-1").Build())
	_, err = store.Save(ctx, duplicate, ddd.Any{})
	var conflict *ddd.StreamRevisionConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestGormStore_LoadStreamFromSkipsCommitted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	events := fixtures.EnvelopeValuesFromEvents(
		fixtures.NewTestEvent().WithID("s-1").WithData("1").Build(),
		fixtures.NewTestEvent().WithID("s-1").WithData("2").Build(),
		fixtures.NewTestEvent().WithID("s-1").WithData("3").Build(),
	)
	_, err := store.Save(ctx, events, ddd.NoStream{})
	require.NoError(t, err)

	iter, err := store.LoadStreamFrom(ctx, "s-1", 2)
	require.NoError(t, err)
	loaded, err := iter.All(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, uint64(3), loaded[0].Version)
}

func TestGormStore_LoadFromAllInCommitOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		batch := fixtures.EnvelopeValuesFromEvents(fixtures.NewTestEvent().WithID(id).Build())
		_, err := store.Save(ctx, batch, ddd.NoStream{})
		require.NoError(t, err)
	}

	iter, err := store.LoadFromAll(ctx, 1)
	require.NoError(t, err)
	loaded, err := iter.All(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "s-2", loaded[0].StreamID)
	require.Equal(t, uint64(2), loaded[0].GlobalVersion)
	require.Equal(t, "s-3", loaded[1].StreamID)
	require.Equal(t, uint64(3), loaded[1].GlobalVersion)
}

func TestGormStore_MixedStreamBatchRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := fixtures.EnvelopeValuesFromEvents(
		fixtures.NewTestEvent().WithID("s-1").Build(),
		fixtures.NewTestEvent().WithID("s-2").Build(),
	)
	_, err := store.Save(ctx, batch, ddd.Any{})
	require.ErrorIs(t, err, ddd.ErrInvalidEventBatch)
}
