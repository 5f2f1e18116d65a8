package logging

import (
	"context"

	"go.uber.org/zap"

	ddd "github.com/GoooIce/loco-ddd"
)

// WithEventLogging wraps an EventHandler so every delivery is logged with the
// envelope coordinates carried in the context.
func WithEventLogging(logger *zap.Logger, next ddd.EventHandler) ddd.EventHandler {
	return ddd.NewEventHandlerFunc(func(ctx context.Context, event ddd.Event) error {
		log := logger.With(
			zap.String("event", event.EventType()),
			zap.String("stream_id", ddd.StreamIDFromContext(ctx)),
			zap.String("causation", ddd.CausationFromContext(ctx)),
			zap.Uint64("version", ddd.VersionFromContext(ctx)),
			zap.Uint64("global_version", ddd.GlobalVersionFromContext(ctx)),
		)

		log.Debug("event processing started")

		if err := next.Handle(ctx, event); err != nil {
			log.Error("error processing event", zap.Error(err))
			return err
		}

		log.Debug("event processed")
		return nil
	})
}
