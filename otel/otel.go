package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ddd "github.com/GoooIce/loco-ddd"
)

const instrumentationName = "github.com/GoooIce/loco-ddd/otel"

// Semantic attribute keys following OpenTelemetry conventions.
const (
	AttrCommandType = attribute.Key("ddd.command.type")
	AttrAggregateID = attribute.Key("ddd.aggregate.id")

	AttrStreamID      = attribute.Key("ddd.stream.id")
	AttrStreamVersion = attribute.Key("ddd.stream.version")

	AttrEventType      = attribute.Key("ddd.event.type")
	AttrEventID        = attribute.Key("ddd.event.id")
	AttrEventCount     = attribute.Key("ddd.events.count")
	AttrEventGlobalPos = attribute.Key("ddd.event.global_position")
	AttrEventStreamPos = attribute.Key("ddd.event.stream_position")

	AttrSubscriberName = attribute.Key("ddd.subscriber.name")

	AttrOperation = attribute.Key("ddd.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(ddd.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(ddd.InstrumentationVersion))

	CommandsHandled, _ = meter.Int64Counter(
		"ddd.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"ddd.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"ddd.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"ddd.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	EventsAppended, _ = meter.Int64Counter(
		"ddd.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"ddd.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	EventBusHandled, _ = meter.Int64Counter(
		"ddd.eventbus.handled",
		metric.WithDescription("Number of events handled by subscribers"),
		metric.WithUnit("{event}"),
	)

	EventBusErrors, _ = meter.Int64Counter(
		"ddd.eventbus.errors",
		metric.WithDescription("Number of event bus handler errors"),
		metric.WithUnit("{error}"),
	)

	EventBusDuration, _ = meter.Float64Histogram(
		"ddd.eventbus.duration",
		metric.WithDescription("Event bus handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreSaves, _ = meter.Int64Counter(
		"ddd.eventstore.saves",
		metric.WithDescription("Number of save operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"ddd.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"ddd.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"ddd.concurrency.conflicts",
		metric.WithDescription("Number of optimistic concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)
)
