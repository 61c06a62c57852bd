// Package processor provides the serial executor: a single goroutine that
// processes commands in strict FIFO order. All session state is owned by the
// handlers it runs, so that state needs no locks.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/pubsub"
)

const (
	// DefaultQueueCapacity is the default buffer size for the command queue.
	DefaultQueueCapacity = 1000
	// DefaultDeliveryTimeout bounds how long the executor waits on a full
	// subscriber when delivering result events.
	DefaultDeliveryTimeout = 5 * time.Second
)

// ErrUnknownCommandType is returned when no handler is registered for a command.
var ErrUnknownCommandType = errors.New("unknown command type")

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd command.Command) (*command.CommandResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	return f(ctx, cmd)
}

// typedEvent is implemented by events that choose their broker event type.
type typedEvent interface {
	EventType() pubsub.EventType
}

// Option configures the CommandProcessor.
type Option func(*CommandProcessor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *CommandProcessor) {
		if capacity > 0 {
			p.queueCapacity = capacity
		}
	}
}

// WithEventBus sets the event bus for publishing command results.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(p *CommandProcessor) {
		p.eventBus = bus
	}
}

// WithDeliveryTimeout sets how long result events may wait for a full
// subscriber. Non-positive values are ignored.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(p *CommandProcessor) {
		if d > 0 {
			p.deliveryTimeout = d
		}
	}
}

// WithMiddleware adds middleware to be applied to all handlers.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *CommandProcessor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// CommandProcessor processes commands sequentially in FIFO order.
type CommandProcessor struct {
	queue         chan queueItem
	queueCapacity int

	handlers    map[command.CommandType]CommandHandler
	middlewares []Middleware

	eventBus        *pubsub.Broker[any]
	deliveryTimeout time.Duration

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// submitMu orders sends against the close in Drain.
	submitMu sync.RWMutex
	running  atomic.Bool
	started  atomic.Bool
	readyCh  chan struct{}
	readyMu  sync.Mutex
	readySet bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

// queueItem wraps a command with an optional result channel for SubmitAndWait.
type queueItem struct {
	cmd      command.Command
	resultCh chan *command.CommandResult // nil for fire-and-forget Submit
}

// NewCommandProcessor creates a new CommandProcessor with the given options.
func NewCommandProcessor(opts ...Option) *CommandProcessor {
	p := &CommandProcessor{
		queueCapacity:   DefaultQueueCapacity,
		deliveryTimeout: DefaultDeliveryTimeout,
		handlers:        make(map[command.CommandType]CommandHandler),
		readyCh:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.queue = make(chan queueItem, p.queueCapacity)
	return p
}

// RegisterHandler registers a handler for a command type.
// Must be called before Run() is called.
// The handler is wrapped with all configured middleware.
func (p *CommandProcessor) RegisterHandler(cmdType command.CommandType, handler CommandHandler) {
	p.handlers[cmdType] = ChainMiddleware(handler, p.middlewares...)
}

// Run starts the command processing loop.
// This method blocks until the context is cancelled, Stop() is called or
// Drain() has emptied the queue. Run can only be called once.
func (p *CommandProcessor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	// Add to wait group BEFORE setting running to avoid race with Drain()
	p.wg.Add(1)
	p.running.Store(true)

	p.readyMu.Lock()
	if !p.readySet {
		close(p.readyCh)
		p.readySet = true
	}
	p.readyMu.Unlock()

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				// Queue closed during Drain
				return
			}
			p.processItem(item)
		}
	}
}

// Start runs the loop on a new goroutine and waits until it accepts commands.
func (p *CommandProcessor) Start(ctx context.Context) error {
	go p.Run(ctx)
	return p.WaitForReady(ctx)
}

// WaitForReady blocks until the processor is ready to accept commands.
func (p *CommandProcessor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *CommandProcessor) enqueue(item queueItem) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if !p.running.Load() {
		return command.ErrQueueFull
	}
	select {
	case p.queue <- item:
		return nil
	default:
		return command.ErrQueueFull
	}
}

// Submit adds a command to the queue for asynchronous processing.
// Returns immediately. Returns ErrQueueFull if the queue is at capacity.
func (p *CommandProcessor) Submit(cmd command.Command) error {
	return p.enqueue(queueItem{cmd: cmd})
}

// SubmitAndWait adds a command to the queue and waits for the result.
// Respects context cancellation; a cancelled wait does not withdraw the
// command.
func (p *CommandProcessor) SubmitAndWait(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	resultCh := make(chan *command.CommandResult, 1)
	if err := p.enqueue(queueItem{cmd: cmd, resultCh: resultCh}); err != nil {
		return nil, err
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, context.Canceled
	}
}

// Stop cancels the processing context and waits for shutdown.
// Any pending commands in the queue are NOT processed.
func (p *CommandProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain processes all remaining commands in the queue before stopping.
func (p *CommandProcessor) Drain() {
	p.submitMu.Lock()
	if !p.running.Load() {
		p.submitMu.Unlock()
		return
	}
	p.running.Store(false)
	close(p.queue)
	p.submitMu.Unlock()

	p.wg.Wait()
}

// IsRunning returns true if the processor is currently accepting commands.
func (p *CommandProcessor) IsRunning() bool {
	return p.running.Load()
}

// ProcessedCount returns the total number of commands processed.
func (p *CommandProcessor) ProcessedCount() int64 {
	return p.processedCount.Load()
}

// ErrorCount returns the total number of commands that resulted in errors.
func (p *CommandProcessor) ErrorCount() int64 {
	return p.errorCount.Load()
}

// QueueLength returns the current number of pending commands.
func (p *CommandProcessor) QueueLength() int {
	return len(p.queue)
}

func (p *CommandProcessor) processItem(item queueItem) {
	result := p.processCommand(item.cmd)

	p.processedCount.Add(1)
	if !result.Success {
		p.errorCount.Add(1)
	}

	if item.resultCh != nil {
		item.resultCh <- result
		close(item.resultCh)
	}
}

// processCommand executes the command processing pipeline.
// Errors are wrapped in the CommandResult, not returned separately.
func (p *CommandProcessor) processCommand(cmd command.Command) (result *command.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler for %s panicked: %v", cmd.Type(), r)
			log.Error(log.CatCommands, "handler panic", "command_id", cmd.ID(), "command_type", cmd.Type().String(), "panic", r)
			p.emitErrorEvent(cmd, err)
			result = &command.CommandResult{Success: false, Error: err}
		}
	}()

	if err := cmd.Validate(); err != nil {
		p.emitErrorEvent(cmd, err)
		return &command.CommandResult{Success: false, Error: err}
	}

	handler, ok := p.handlers[cmd.Type()]
	if !ok {
		p.emitErrorEvent(cmd, ErrUnknownCommandType)
		return &command.CommandResult{Success: false, Error: ErrUnknownCommandType}
	}

	result, err := handler.Handle(p.ctx, cmd)
	if err != nil {
		p.emitErrorEvent(cmd, err)
		return &command.CommandResult{Success: false, Error: err}
	}
	if result == nil {
		result = &command.CommandResult{Success: true}
	}

	if n := result.Published; n < len(result.Events) {
		p.emitEvents(result.Events[max(n, 0):])
	}
	return result
}

// emitEvents delivers events to the event bus in order. Result events wait
// for room in full subscribers, up to the delivery timeout.
func (p *CommandProcessor) emitEvents(events []any) {
	if p.eventBus == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.deliveryTimeout)
	defer cancel()
	for _, event := range events {
		eventType := pubsub.UpdatedEvent
		if typed, ok := event.(typedEvent); ok {
			eventType = typed.EventType()
		}
		if err := p.eventBus.Deliver(ctx, eventType, event); err != nil {
			log.Warn(log.CatCommands, "event delivery timed out", "event_type", string(eventType), "error", err)
		}
	}
}

// emitErrorEvent publishes an error event for command failures.
func (p *CommandProcessor) emitErrorEvent(cmd command.Command, err error) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(pubsub.FailedEvent, CommandErrorEvent{
		CommandID:   cmd.ID(),
		CommandType: cmd.Type(),
		Error:       err,
	})
}
