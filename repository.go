package ddd

import (
	"context"
	"errors"
	"fmt"
)

// Repository orchestrates the event-sourced aggregate lifecycle: Load replays
// a stream onto a fresh aggregate, Save appends the uncommitted events with an
// optimistic-concurrency check and then publishes them.
type Repository struct {
	store       EventStore
	bus         EventBus
	snapshotter Snapshotter
}

// RepositoryOption configures a Repository.
type RepositoryOption func(r *Repository)

// WithSnapshotter enables snapshot-assisted loads and lets SaveSnapshot work.
func WithSnapshotter(s Snapshotter) RepositoryOption {
	return func(r *Repository) { r.snapshotter = s }
}

// NewRepository builds a repository over the given store and bus. The bus may
// be nil, in which case saves persist without publishing.
func NewRepository(store EventStore, bus EventBus, opts ...RepositoryOption) *Repository {
	r := &Repository{store: store, bus: bus}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type loadOptions struct {
	mustExist    bool
	skipSnapshot bool
}

// LoadOption configures a single Load call.
type LoadOption func(*loadOptions)

// MustExist makes Load fail with ErrAggregateNotFound when the stream has no
// committed history. Without it an empty stream hydrates a fresh aggregate at
// version 0.
func MustExist() LoadOption {
	return func(o *loadOptions) { o.mustExist = true }
}

// SkipSnapshot forces a full replay even when a snapshotter is configured.
func SkipSnapshot() LoadOption {
	return func(o *loadOptions) { o.skipSnapshot = true }
}

// Load rehydrates agg from its stream. The aggregate must be fresh: a dirty
// aggregate (uncommitted events) cannot be reloaded in place.
func (r *Repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error {
	var cfg loadOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(agg.UncommittedEvents()) != 0 {
		return fmt.Errorf("load %q: aggregate has uncommitted events", agg.EntityID())
	}

	fromVersion := agg.AggregateVersion()

	if r.snapshotter != nil && !cfg.skipSnapshot && fromVersion == 0 {
		if snapAgg, ok := agg.(SnapshotAggregate); ok {
			snap, err := r.snapshotter.LoadSnapshot(ctx, agg.EntityID())
			if err != nil {
				return fmt.Errorf("load %q: snapshot: %w", agg.EntityID(), err)
			}
			if snap != nil {
				if err := snapAgg.RestoreSnapshot(snap.State); err != nil {
					return fmt.Errorf("load %q: restore snapshot: %w", agg.EntityID(), err)
				}
				agg.SetAggregateVersion(snap.Version)
				fromVersion = snap.Version
			}
		}
	}

	iter, err := r.store.LoadStreamFrom(ctx, agg.EntityID(), fromVersion)
	if err != nil {
		return WrapEventStoreError(err)
	}

	if err := Replay(ctx, agg, iter); err != nil {
		return err
	}

	if cfg.mustExist && agg.AggregateVersion() == 0 {
		return fmt.Errorf("aggregate %q: %w", agg.EntityID(), ErrAggregateNotFound)
	}
	return nil
}

// SaveResult reports a completed save. Warnings holds subscriber delivery
// failures from the post-append publish; the events are durably committed
// regardless.
type SaveResult struct {
	AppendResult
	Warnings []error
}

// Save persists the aggregate's uncommitted events and publishes them in
// append order.
//
// Atomicity contract: the append is the commit point. If the append fails the
// uncommitted queue is left intact, nothing is published and the error is
// returned (a conflicting writer surfaces as *StreamRevisionConflictError, to
// be resolved by reloading and re-running the domain operation; Save never
// retries on its own). Once the append succeeds the queue is cleared and
// publish failures are collected into SaveResult.Warnings, not returned as an
// error, because the store is the source of truth.
//
// An aggregate with no uncommitted events saves successfully with no store or
// bus activity.
func (r *Repository) Save(ctx context.Context, agg Aggregate) (SaveResult, error) {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return SaveResult{
			AppendResult: AppendResult{Successful: true, NextExpectedVersion: agg.AggregateVersion()},
		}, nil
	}

	expected := events[0].Version - 1

	result, err := r.store.Save(ctx, events, Revision(expected))
	if err != nil {
		return SaveResult{AppendResult: result}, WrapEventStoreError(err)
	}

	committed := agg.TakeUncommittedEvents()

	var warnings []error
	if r.bus != nil {
		for i := range committed {
			env := &committed[i]
			if err := r.bus.Publish(WithEnvelope(ctx, env), env); err != nil {
				var delivery *DeliveryError
				if errors.As(err, &delivery) {
					warnings = append(warnings, delivery)
					continue
				}
				warnings = append(warnings, err)
			}
		}
	}

	return SaveResult{AppendResult: result, Warnings: warnings}, nil
}

// SaveSnapshot stores the aggregate's current state as a snapshot. No-op
// without a configured snapshotter. Call it after Save; snapshotting a dirty
// aggregate would capture state the store does not hold yet.
func (r *Repository) SaveSnapshot(ctx context.Context, agg SnapshotAggregate) error {
	if r.snapshotter == nil {
		return nil
	}
	if len(agg.UncommittedEvents()) != 0 {
		return fmt.Errorf("snapshot %q: aggregate has uncommitted events", agg.EntityID())
	}
	state, err := agg.SnapshotState()
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", agg.EntityID(), err)
	}
	return r.snapshotter.SaveSnapshot(ctx, &Snapshot{
		StreamID: agg.EntityID(),
		Version:  agg.AggregateVersion(),
		State:    state,
	})
}
