package logging

import (
	"context"

	"go.uber.org/zap"

	ddd "github.com/GoooIce/loco-ddd"
)

// WithCommandLogging wraps a CommandHandler so every dispatch is logged with
// its command type and aggregate ID, and failures are logged with the error.
func WithCommandLogging[C ddd.Command](logger *zap.Logger, next ddd.CommandHandler[C]) ddd.CommandHandler[C] {
	return func(ctx context.Context, command C) (ddd.AppendResult, error) {
		log := logger.With(
			zap.String("command", ddd.TypeName(command)),
			zap.String("aggregate_id", command.AggregateID()),
		)
		log.Debug("dispatching command")

		result, err := next(ctx, command)
		if err != nil {
			log.Error("command failed", zap.Error(err))
			return result, err
		}

		log.Debug("command handled",
			zap.Uint64("next_expected_version", result.NextExpectedVersion))
		return result, nil
	}
}

// DispatchLogging is command bus middleware logging every command that passes
// through the bus, regardless of type.
func DispatchLogging(logger *zap.Logger) ddd.Middleware {
	return func(next ddd.DispatchFunc) ddd.DispatchFunc {
		return func(ctx context.Context, cmd ddd.Command) (ddd.AppendResult, error) {
			log := logger.With(
				zap.String("command", ddd.TypeName(cmd)),
				zap.String("aggregate_id", cmd.AggregateID()),
			)

			result, err := next(ctx, cmd)
			if err != nil {
				log.Error("dispatch failed", zap.Error(err))
				return result, err
			}
			log.Debug("dispatch succeeded")
			return result, nil
		}
	}
}
