package logging

import (
	"context"

	"go.uber.org/zap"

	ddd "github.com/GoooIce/loco-ddd"
)

type queryHandlerLogger[T ddd.Query, R any] struct {
	logger *zap.Logger
	next   ddd.QueryHandler[T, R]
}

func (q *queryHandlerLogger[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	log := q.logger.With(zap.String("query", ddd.TypeName(qry)))
	log.Debug("handling query")

	result, err := q.next.HandleQuery(ctx, qry)
	if err != nil {
		log.Error("query failed", zap.Error(err))
	}
	return result, err
}

// WithQueryLogging wraps a QueryHandler so every execution is logged with its
// query type, and failures are logged with the error.
func WithQueryLogging[T ddd.Query, R any](logger *zap.Logger, next ddd.QueryHandler[T, R]) ddd.QueryHandler[T, R] {
	return &queryHandlerLogger[T, R]{logger: logger, next: next}
}
