package ddd

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateNotFound is returned by Repository.Load when the stream is
	// empty and the caller required existence via MustExist.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrStreamNotFound is returned when a StreamExists revision check fails.
	ErrStreamNotFound = errors.New("stream does not exist")

	// ErrStreamExists is returned when a NoStream revision check fails.
	ErrStreamExists = errors.New("stream already exists")

	// ErrInvalidRevision marks an unsupported StreamState passed to Save.
	ErrInvalidRevision = errors.New("invalid stream revision")

	// ErrInvalidEventBatch marks a Save batch whose envelopes disagree on the
	// target stream.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrDuplicateHandler is returned when a second handler is registered for
	// a command, query or event type that already has one.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrHandlerNotFound is returned by dispatch when no handler is
	// registered for the message type.
	ErrHandlerNotFound = errors.New("no handler registered")

	// ErrBusClosed is returned when dispatching or publishing on a stopped bus.
	ErrBusClosed = errors.New("bus is closed")
)

// StreamRevisionConflictError reports a failed optimistic-concurrency check:
// the stream moved past the revision the writer expected. The store is left
// unchanged; callers resolve it by reloading and re-running the operation.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision Revision
	ActualRevision   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("stream %q revision conflict: expected %d, actual %d",
		e.Stream, e.ExpectedRevision, e.ActualRevision)
}

// DomainRuleError reports a business invariant that rejected a domain
// operation before any event was produced. Always recoverable by the caller.
type DomainRuleError struct {
	Rule   string
	Detail string
}

func (e *DomainRuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("domain rule violated: %s", e.Rule)
	}
	return fmt.Sprintf("domain rule violated: %s: %s", e.Rule, e.Detail)
}

// NewDomainRuleError builds a DomainRuleError with a formatted detail message.
func NewDomainRuleError(rule string, format string, args ...any) *DomainRuleError {
	return &DomainRuleError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// InvalidSequenceError reports an out-of-order event observed during replay or
// Raise. It is a data-integrity failure and is never retried automatically.
type InvalidSequenceError struct {
	StreamID string
	Expected uint64
	Got      uint64
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("stream %q: invalid event sequence: expected %d, got %d",
		e.StreamID, e.Expected, e.Got)
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// EventStoreError wraps a backend failure of the durable storage collaborator.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err unless it is nil or already carries a typed
// classification the caller should branch on.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var conflict *StreamRevisionConflictError
	if errors.As(err, &conflict) {
		return err
	}
	return &EventStoreError{Err: err}
}

// SubscriberError is a single subscriber failure collected during publish.
type SubscriberError struct {
	Subscriber string
	Err        error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %q: %v", e.Subscriber, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}

// DeliveryError collects subscriber failures from a single publish call. The
// publish as a whole still delivered to every other subscriber; persistence is
// unaffected. Repository.Save reports it through SaveResult.Warnings rather
// than as a save failure.
type DeliveryError struct {
	Failures []*SubscriberError
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("event delivery failed for %d subscriber(s)", len(e.Failures))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
