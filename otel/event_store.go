package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventStore = (*TelemetryStore)(nil)

// TelemetryStore wraps an EventStore with tracing and metrics. Save also
// injects the current trace context and causation ID into each envelope's
// metadata, so a consumer on the other side of the bus can link its span back
// to the command that produced the event.
type TelemetryStore struct {
	next ddd.EventStore
}

// WithEventStoreTelemetry wraps the store.
func WithEventStoreTelemetry(next ddd.EventStore) ddd.EventStore {
	return TelemetryStore{next: next}
}

func (t TelemetryStore) Save(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("save"),
			AttrStreamID.String(streamID),
			AttrEventCount.Int64(int64(len(events))),
			AttrStreamVersion.String(fmt.Sprintf("%T", revision)),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	causationID := ddd.CausationFromContext(ctx)

	for i := range events {
		if events[i].Metadata == nil {
			events[i].Metadata = make(map[string]any)
		}
		if causationID != "" {
			events[i].Metadata["causationId"] = causationID
		}
		if span.SpanContext().HasTraceID() {
			events[i].Metadata["correlationId"] = span.SpanContext().TraceID().String()
		}
		for key, value := range carrier {
			events[i].Metadata[key] = value
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, revision)

	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("save")))
	EventStoreSaves.Add(ctx, 1)
	EventsAppended.Add(ctx, int64(len(events)))

	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (t TelemetryStore) LoadStream(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.instrumentIterator("EventStore.LoadStream", id, iter), nil
}

func (t TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.instrumentIterator("EventStore.LoadStreamFrom", id, iter), nil
}

func (t TelemetryStore) LoadFromAll(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.instrumentIterator("EventStore.LoadFromAll", "", iter), nil
}

func (t TelemetryStore) Close() error {
	return t.next.Close()
}

// instrumentIterator defers the span to the first Next call, so a load that is
// never consumed costs nothing, and ends it when the stream is exhausted.
func (t TelemetryStore) instrumentIterator(operation, streamID string, iter *ddd.Iterator[*ddd.Envelope]) *ddd.Iterator[*ddd.Envelope] {
	started := false
	var startedAt time.Time
	var span trace.Span
	var eventCount int64

	return ddd.NewIteratorFunc(func(ctx context.Context) (*ddd.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, span = tracer.Start(ctx, operation,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(AttrStreamID.String(streamID)),
			)
		}

		if !iter.Next(ctx) {
			span.SetAttributes(AttrEventCount.Int64(eventCount))

			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}

			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
				metric.WithAttributes(AttrOperation.String("load")))
			span.End()
			return nil, io.EOF
		}

		eventCount++
		EventsLoaded.Add(ctx, 1)
		return iter.Value(), nil
	})
}
