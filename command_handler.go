package ddd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StreamNamer produces the stream name for a given command, with access to context.
type StreamNamer func(ctx context.Context, cmd Command) string

// DefaultStreamNamer maps a command to its stream by aggregate ID. Override
// per handler via WithStreamNamer, for example to add tenant prefixes.
var DefaultStreamNamer StreamNamer = func(ctx context.Context, cmd Command) string {
	return cmd.AggregateID()
}

// CommandHandler handles commands of a specific type. Implementations hold
// the business logic for one command: validate against current state, decide
// which events occur, persist them.
//
// Handlers should treat the command as immutable, express every state change
// as events, and return errors rather than panic.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Evolver folds one historical envelope into the aggregate state. It must be
// pure: replaying a stream through the evolver always yields the same state.
type Evolver[T any] func(currentState T, envelope *Envelope) T

// Decider determines which events should occur given the current state and a
// command.
//
// The decider must not mutate the state it receives; it produces events that,
// once applied through the evolver, update the state. Returning a
// *DomainRuleError (directly or wrapped) rejects the command without
// producing events and is never retried. Returning no events and no error
// means the command was accepted but had no effect.
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption customizes NewCommandHandler.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler returns a generic event-sourced command handler built
// from an evolve and a decide function. Handling a command runs the pipeline:
//
//  1. Load the stream history for the command's aggregate.
//  2. Evolve the state from the history.
//  3. Decide which new events occur.
//  4. Wrap the events in envelopes with sequential versions.
//  5. Save them at the observed revision (optimistic concurrency).
//
// With a retry strategy configured (WithRetryStrategy), a revision conflict
// re-runs the whole pipeline against fresh state: decide is the only place
// business rules live, so retrying means re-deciding, never re-appending the
// stale events. Rule violations and storage failures are permanent.
func NewCommandHandler[T any, C Command](
	store EventStore,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		RetryStrategy: &backoff.StopBackOff{},
		StreamNamer:   DefaultStreamNamer,
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (AppendResult, error) {
		stream := cfg.StreamNamer(ctx, command)

		attempt := func() (AppendResult, error) {
			state := initialState
			var revision uint64

			iter, err := store.LoadStreamFrom(ctx, stream, 0)
			if err != nil {
				return AppendResult{Successful: false},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): load: %w", command, stream, err))
			}

			for iter.Next(ctx) {
				envelope := iter.Value()
				revision = envelope.Version
				state = evolve(state, envelope)
			}
			if err := iter.Err(); err != nil {
				return AppendResult{Successful: false},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): iterate: %w", command, stream, err))
			}

			events, err := decide(state, command)
			if err != nil {
				return AppendResult{Successful: false},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): %w", command, stream, err))
			}

			if len(events) == 0 {
				return AppendResult{Successful: true, NextExpectedVersion: revision}, nil
			}

			baseMetadata := make(map[string]any)
			for _, fn := range cfg.MetadataFuncs {
				for k, v := range fn(ctx) {
					baseMetadata[k] = v
				}
			}

			envelopes := make([]Envelope, len(events))
			version := revision
			for i, event := range events {
				version++
				envelopes[i] = Envelope{
					EventID:    uuid.New(),
					StreamID:   stream,
					Event:      event,
					Metadata:   baseMetadata,
					Version:    version,
					OccurredAt: time.Now(),
				}
			}

			result, err := store.Save(ctx, envelopes, Revision(revision))
			if err != nil {
				var conflict *StreamRevisionConflictError
				if errors.As(err, &conflict) {
					// Retryable: the next attempt reloads and re-decides.
					return AppendResult{Successful: false, NextExpectedVersion: revision}, conflict
				}
				return result, backoff.Permanent(fmt.Errorf("handle %T (stream %q): save: %w", command, stream, err))
			}
			return result, nil
		}

		return backoff.RetryWithData(attempt, backoff.WithContext(cfg.RetryStrategy, ctx))
	}
}

// handlerOptions configures NewCommandHandler: retry strategy for revision
// conflicts, metadata enrichment and stream naming.
type handlerOptions struct {
	// RetryStrategy drives retries on revision conflicts. Default: none.
	RetryStrategy backoff.BackOff

	// MetadataFuncs enrich every produced envelope; each receives the context
	// and returns key/value pairs. Applied in registration order.
	MetadataFuncs []func(ctx context.Context) map[string]any

	// StreamNamer produces the event stream name for a command.
	StreamNamer StreamNamer
}

// WithRetryStrategy sets the backoff strategy used when a save hits a
// revision conflict.
//
//	handler := NewCommandHandler(store, initial, evolve, decide,
//	    WithRetryStrategy(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)))
func WithRetryStrategy(strategy backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.RetryStrategy = strategy }
}

// WithMetadataExtractor adds a metadata function; multiple extractors combine
// in order.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.MetadataFuncs = append(h.MetadataFuncs, fn)
	}
}

// WithStreamNamer overrides DefaultStreamNamer for this handler.
func WithStreamNamer(namer StreamNamer) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.StreamNamer = namer
	}
}
