package ddd

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// DispatchFunc is the type-erased form of a command handler as the bus and
// its middleware see it.
type DispatchFunc func(ctx context.Context, cmd Command) (AppendResult, error)

// Middleware wraps every dispatch uniformly. A middleware may short-circuit
// (return before calling next) but must pass the handler's own result through
// unchanged once next has run.
type Middleware func(next DispatchFunc) DispatchFunc

// queuedCommand is a command enqueued for processing, with the caller's
// context and a response channel for the result.
type queuedCommand struct {
	Ctx        context.Context
	Command    Command
	ResponseCh chan<- commandResult
}

type commandResult struct {
	Result AppendResult
	Err    error
}

// CommandBus is an in-memory, type-safe command dispatcher. Commands are
// hashed onto a fixed set of shard queues by aggregate ID, so two commands
// for the same aggregate never run concurrently while different aggregates
// proceed in parallel.
//
// The bus supports:
//   - Typed handler registration via the package-level Register function
//   - An ordered middleware chain applied to every dispatch
//   - Panic recovery in handlers so one bad handler cannot take the bus down
//   - Graceful Stop that drains in-flight commands
type CommandBus struct {
	handlers   map[string]DispatchFunc
	middleware []Middleware
	queues     []chan queuedCommand
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
	stopped    bool
	shardCount int
}

// NewCommandBus creates a command bus with shardCount worker queues of the
// given buffer size and starts the workers.
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}

	bus := &CommandBus{
		queues:     make([]chan queuedCommand, shardCount),
		handlers:   make(map[string]DispatchFunc),
		stopCh:     make(chan struct{}),
		shardCount: shardCount,
	}

	for i := 0; i < shardCount; i++ {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// Use appends middleware to the chain. The first middleware passed is the
// outermost wrapper. Use must be called before concurrent dispatch begins.
func (b *CommandBus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw...)
}

// Dispatch enqueues the command for its shard's worker and waits for the
// result. Safe for concurrent use.
//
// Returns ErrBusClosed after Stop, ErrHandlerNotFound (wrapped) when no
// handler is registered for the command type, and the handler's own error
// otherwise. Cancelling ctx abandons the wait; an already-running handler
// observes the cancellation through its own ctx.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (AppendResult, error) {
	// The stopped check and the waitgroup increment happen under one lock so
	// Stop cannot observe a drained waitgroup and close the shard queues while
	// a dispatcher is between the check and its enqueue.
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return AppendResult{Successful: false}, ErrBusClosed
	}
	b.wg.Add(1)
	b.mu.RUnlock()
	defer b.wg.Done()

	responseCh := make(chan commandResult, 1)

	shard := b.getShard(cmd.AggregateID())

	select {
	case b.queues[shard] <- queuedCommand{Ctx: ctx, Command: cmd, ResponseCh: responseCh}:
		select {
		case result := <-responseCh:
			return result.Result, result.Err
		case <-ctx.Done():
			return AppendResult{Successful: false}, ctx.Err()
		}
	case <-ctx.Done():
		return AppendResult{Successful: false}, ctx.Err()
	case <-b.stopCh:
		return AppendResult{Successful: false}, ErrBusClosed
	}
}

// worker processes commands from a single shard queue.
func (b *CommandBus) worker(queue chan queuedCommand) {
	for cmd := range queue {
		cmdName := fmt.Sprintf("%T", cmd.Command)

		b.mu.RLock()
		h, exists := b.handlers[cmdName]
		chain := b.middleware
		b.mu.RUnlock()

		if !exists {
			cmd.ResponseCh <- commandResult{
				Result: AppendResult{Successful: false},
				Err:    fmt.Errorf("command %s: %w", cmdName, ErrHandlerNotFound),
			}
			continue
		}

		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					cmd.ResponseCh <- commandResult{
						Result: AppendResult{Successful: false},
						Err:    fmt.Errorf("panic in handler for %s: %v", cmdName, r),
					}
				}
			}()

			res, err := h(cmd.Ctx, cmd.Command)
			cmd.ResponseCh <- commandResult{Result: res, Err: err}
		}()
	}
}

func (b *CommandBus) getShard(aggregateID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(aggregateID))
	return int(hash.Sum32()) % b.shardCount
}

// Register adds a typed command handler to the bus. The command type name is
// derived from C, so there are no manual registration strings.
//
// Each command type has exactly one handler: registering a second one fails
// with ErrDuplicateHandler, which should be treated as fatal at startup.
func Register[C Command](b *CommandBus, handler CommandHandler[C]) error {
	var zero C
	cmdName := fmt.Sprintf("%T", zero)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[cmdName]; exists {
		return fmt.Errorf("command %s: %w", cmdName, ErrDuplicateHandler)
	}

	b.handlers[cmdName] = func(ctx context.Context, cmd Command) (AppendResult, error) {
		c, ok := cmd.(C)
		if !ok {
			return AppendResult{Successful: false}, fmt.Errorf("expected command type %s but got %T", cmdName, cmd)
		}
		return handler(ctx, c)
	}
	return nil
}

// MustRegister is Register for startup wiring: it panics on error.
func MustRegister[C Command](b *CommandBus, handler CommandHandler[C]) {
	if err := Register(b, handler); err != nil {
		panic(err)
	}
}

// Stop shuts the bus down: it stops accepting new commands, closes the shard
// queues and waits for in-flight commands to finish. Safe to call twice.
func (b *CommandBus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.stopCh)
		b.wg.Wait()
		for _, q := range b.queues {
			close(q)
		}
	})
}
