package ddd

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/GoooIce/loco-ddd"

// Attribute keys used by the built-in query instrumentation; the otel
// decorator package carries the full catalog.
const (
	AttrQueryType  = attribute.Key("ddd.query.type")
	AttrResultType = attribute.Key("ddd.query.result_type")
	AttrErrorType  = attribute.Key("ddd.error.type")
)

var (
	meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(InstrumentationVersion))

	QueriesHandled, _ = meter.Int64Counter(
		"ddd.queries.handled",
		metric.WithDescription("Number of queries handled"),
		metric.WithUnit("{query}"),
	)

	QueriesFailed, _ = meter.Int64Counter(
		"ddd.queries.failed",
		metric.WithDescription("Number of failed queries"),
		metric.WithUnit("{query}"),
	)

	QueriesInFlight, _ = meter.Int64UpDownCounter(
		"ddd.queries.in_flight",
		metric.WithDescription("Number of queries currently being processed"),
		metric.WithUnit("{query}"),
	)

	QueriesDuration, _ = meter.Float64Histogram(
		"ddd.queries.duration",
		metric.WithDescription("Query handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
)

// StartQuerySpan opens the span for one query dispatch.
func StartQuerySpan(ctx context.Context, qry Query) (context.Context, trace.Span) {
	return tracer.Start(ctx, "QueryBus.Dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrQueryType.String(TypeName(qry))),
	)
}

// EndQuerySpan records the outcome on the span. The caller still ends it.
func EndQuerySpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
