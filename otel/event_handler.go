package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ddd "github.com/GoooIce/loco-ddd"
)

// WithEventTelemetry wraps an EventHandler with a span and handler metrics.
// A skipped event keeps the span Ok; any other error marks it failed.
func WithEventTelemetry(next ddd.EventHandler) ddd.EventHandler {
	return ddd.NewEventHandlerFunc(func(ctx context.Context, event ddd.Event) error {
		attr := []attribute.KeyValue{
			AttrEventType.String(event.EventType()),
			AttrEventID.String(ddd.EventIDFromContext(ctx).String()),
			AttrEventGlobalPos.Int64(int64(ddd.GlobalVersionFromContext(ctx))),
			AttrEventStreamPos.Int64(int64(ddd.VersionFromContext(ctx))),
			AttrStreamID.String(ddd.StreamIDFromContext(ctx)),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", event.EventType()),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		typeAttr := metric.WithAttributes(AttrEventType.String(event.EventType()))

		EventBusHandled.Add(ctx, 1, typeAttr)

		startTime := time.Now()
		err := next.Handle(ctx, event)
		EventBusDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

		if err != nil {
			var skipped *ddd.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				EventBusErrors.Add(ctx, 1, typeAttr)
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}

		span.SetStatus(codes.Ok, "")
		return nil
	})
}
