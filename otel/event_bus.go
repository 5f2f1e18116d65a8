package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventBus = (*TelemetryEventBus)(nil)

// TelemetryEventBus decorates an EventBus so every subscription is wrapped
// with a consumer span and handler metrics. The consumer span is linked to
// the producing trace through the propagation headers the TelemetryStore put
// into the event metadata at save time.
type TelemetryEventBus struct {
	next ddd.EventBus
	cfg  *config
}

// WithEventBusTelemetry wraps the bus.
func WithEventBusTelemetry(next ddd.EventBus, options ...Option) *TelemetryEventBus {
	cfg := &config{}
	for _, o := range options {
		o.apply(cfg)
	}
	return &TelemetryEventBus{next: next, cfg: cfg}
}

func (t *TelemetryEventBus) Subscribe(
	ctx context.Context,
	name string,
	filter ddd.EventFilter,
	handler ddd.EventHandler,
	options ...ddd.SubscriberOption,
) error {
	inner := ddd.NewEventHandlerFunc(func(ctx context.Context, event ddd.Event) error {
		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", event.EventType()),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				AttrEventType.String(event.EventType()),
				AttrSubscriberName.String(name),
			),
		)
		defer span.End()

		return handler.Handle(ctx, event)
	})

	wrapped := ddd.NewEventHandlerFunc(func(ctx context.Context, event ddd.Event) error {
		carrier := make(propagation.MapCarrier)
		for k, v := range ddd.MetadataFromContext(ctx) {
			if s, ok := v.(string); ok && s != "" {
				carrier[k] = s
			}
		}
		producerCtx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
		producerSpan := trace.SpanContextFromContext(producerCtx)

		attr := []attribute.KeyValue{
			AttrEventType.String(event.EventType()),
			AttrEventID.String(ddd.EventIDFromContext(ctx).String()),
			AttrEventGlobalPos.Int64(int64(ddd.GlobalVersionFromContext(ctx))),
			AttrEventStreamPos.Int64(int64(ddd.VersionFromContext(ctx))),
			AttrStreamID.String(ddd.StreamIDFromContext(ctx)),
			AttrSubscriberName.String(name),
		}
		attr = append(attr, t.cfg.Attributes...)
		if t.cfg.GetAttributes != nil {
			attr = append(attr, t.cfg.GetAttributes(ctx)...)
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("subscription.receive %s", name),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithLinks(trace.Link{
				SpanContext: producerSpan,
				Attributes: []attribute.KeyValue{
					attribute.String("link.reason", "event.consumed.from.stream"),
				},
			}),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		typeAttr := metric.WithAttributes(AttrEventType.String(event.EventType()))
		EventBusHandled.Add(ctx, 1, typeAttr)

		startTime := time.Now()
		err := inner.Handle(ctx, event)
		EventBusDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

		if err != nil {
			var skipped *ddd.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "")
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

	return t.next.Subscribe(ctx, name, filter, wrapped, options...)
}

// Publish forwards to the wrapped bus.
func (t *TelemetryEventBus) Publish(ctx context.Context, env *ddd.Envelope) error {
	return t.next.Publish(ctx, env)
}

// Errors returns the error channel of the wrapped bus.
func (t *TelemetryEventBus) Errors() <-chan error {
	return t.next.Errors()
}

// Close closes the wrapped bus.
func (t *TelemetryEventBus) Close() error {
	return t.next.Close()
}
