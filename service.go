package ddd

import (
	"context"
)

// CqrsService is the composition façade owning a command bus and a query bus.
// Create one instance at the composition root and share it by reference; the
// internal registries carry their own synchronization.
type CqrsService struct {
	commandBus *CommandBus
	queryBus   *QueryBus
}

// CqrsOption configures a CqrsService.
type CqrsOption func(*CqrsService)

// WithCommandBus replaces the default command bus.
func WithCommandBus(bus *CommandBus) CqrsOption {
	return func(s *CqrsService) { s.commandBus = bus }
}

// WithQueryBus replaces the default query bus.
func WithQueryBus(bus *QueryBus) CqrsOption {
	return func(s *CqrsService) { s.queryBus = bus }
}

// WithMiddleware appends middleware to the command dispatch chain.
func WithMiddleware(mw ...Middleware) CqrsOption {
	return func(s *CqrsService) { s.commandBus.Use(mw...) }
}

// NewCqrsService builds a service with default buses (64-slot queues, 4
// command shards) unless overridden by options.
func NewCqrsService(opts ...CqrsOption) *CqrsService {
	s := &CqrsService{
		commandBus: NewCommandBus(64, 4),
		queryBus:   NewQueryBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CommandBus returns the service's command bus.
func (s *CqrsService) CommandBus() *CommandBus { return s.commandBus }

// QueryBus returns the service's query bus.
func (s *CqrsService) QueryBus() *QueryBus { return s.queryBus }

// DispatchCommand routes the command to its registered handler.
func (s *CqrsService) DispatchCommand(ctx context.Context, cmd Command) (AppendResult, error) {
	return s.commandBus.Dispatch(ctx, cmd)
}

// Stop shuts down the command bus, draining in-flight commands.
func (s *CqrsService) Stop() {
	s.commandBus.Stop()
}

// RegisterCommandHandler registers a typed command handler on the service's
// command bus. Free function because Go methods cannot introduce type
// parameters.
func RegisterCommandHandler[C Command](s *CqrsService, handler CommandHandler[C]) error {
	return Register(s.commandBus, handler)
}

// RegisterServiceQueryHandler registers a typed query handler on the
// service's query bus.
func RegisterServiceQueryHandler[T Query, R any](s *CqrsService, handler QueryHandler[T, R]) error {
	return RegisterQueryHandler(s.queryBus, handler)
}

// DispatchQuery resolves and executes the handler for (T, R) on the
// service's query bus.
func DispatchQuery[T Query, R any](ctx context.Context, s *CqrsService, qry T) (R, error) {
	return NewQueryGateway[T, R](s.queryBus).HandleQuery(ctx, qry)
}
