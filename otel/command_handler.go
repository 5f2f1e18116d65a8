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

// WithCommandTelemetry wraps a CommandHandler with tracing and metrics.
//
// For each execution it opens a span named after the command type, tracks
// in-flight and duration metrics, and classifies the outcome: a revision
// conflict counts as a concurrency conflict, a domain rule violation is a
// rejected-but-healthy execution (span stays Ok), anything else is a real
// error.
func WithCommandTelemetry[C ddd.Command](next ddd.CommandHandler[C]) ddd.CommandHandler[C] {
	var zero C
	commandType := fmt.Sprintf("%T", zero)

	typeAttr := metric.WithAttributes(AttrCommandType.String(commandType))

	return func(ctx context.Context, cmd C) (ddd.AppendResult, error) {
		attr := []attribute.KeyValue{
			AttrCommandType.String(commandType),
			AttrAggregateID.String(cmd.AggregateID()),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.handle %s", commandType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, typeAttr)
		defer CommandsInFlight.Add(ctx, -1, typeAttr)

		startTime := time.Now()
		result, err := next(ctx, cmd)

		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)
		span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))

		if err != nil {
			var conflict *ddd.StreamRevisionConflictError
			if errors.As(err, &conflict) {
				ConcurrencyConflicts.Add(ctx, 1, typeAttr)
				span.AddEvent("concurrency_conflict", trace.WithAttributes(
					AttrStreamID.String(conflict.Stream),
				))
			}

			var ruleErr *ddd.DomainRuleError
			if errors.As(err, &ruleErr) {
				// The handler executed correctly; the domain said no.
				span.SetStatus(codes.Ok, fmt.Sprintf("domain rule violation: %v", err))
				span.AddEvent("domain_rule_violation", trace.WithAttributes(
					AttrAggregateID.String(cmd.AggregateID()),
				))
				CommandsFailed.Add(ctx, 1, typeAttr)
				return result, err
			}

			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			CommandsFailed.Add(ctx, 1, typeAttr)
			return result, err
		}

		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, typeAttr)
		return result, nil
	}
}
