// Package session is the public entry point for building instances. A
// Session owns one serial executor; every operation, from any goroutine and
// in either mode, becomes a command on that executor, so registry and
// continuation state is never shared.
//
// Members invoked through a Session run on the executor goroutine and must
// not call back into the same Session synchronously.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/dyncomp/internal/dispatch"
	"github.com/zjrosen/dyncomp/internal/factory"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/orchestration/handler"
	"github.com/zjrosen/dyncomp/internal/orchestration/processor"
	"github.com/zjrosen/dyncomp/internal/orchestration/tracing"
	"github.com/zjrosen/dyncomp/internal/pubsub"
	"github.com/zjrosen/dyncomp/internal/registry"
	"github.com/zjrosen/dyncomp/internal/schema"
)

// DefaultAwaitTimeout bounds Await when no deadline is configured.
const DefaultAwaitTimeout = 30 * time.Second

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")
	// ErrInvalidMode is returned for unknown execution modes.
	ErrInvalidMode = errors.New("invalid execution mode")
	// ErrAwaitTimeout is returned when an awaited identifier was not created
	// before the deadline.
	ErrAwaitTimeout = errors.New("await timed out")
	// ErrNoFactory is returned by New without a factory.
	ErrNoFactory = errors.New("factory is required")
)

const eventBuffer = 1024

// Session is a session-scoped build context.
type Session struct {
	proc   *processor.CommandProcessor
	ws     *handler.Workspace
	bus    *pubsub.Broker[any]
	cancel context.CancelFunc

	source       command.CommandSource
	awaitTimeout time.Duration

	modeMu sync.RWMutex
	mode   Mode

	closed atomic.Bool
}

type options struct {
	dispatcher    *dispatch.Dispatcher
	bus           *pubsub.Broker[any]
	mode          Mode
	queueCapacity int
	awaitTimeout  time.Duration
	middlewares   []processor.Middleware
	source        command.CommandSource
}

// Option configures a Session.
type Option func(*options)

// WithDispatcher sets the dispatcher used for properties and invocations.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithEventBus publishes session events on bus instead of a private broker.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithMode sets the initial execution mode.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithQueueCapacity sets the executor queue capacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

// WithAwaitTimeout sets the longest Await may wait.
func WithAwaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.awaitTimeout = d
		}
	}
}

// WithMiddleware wraps every handler. The logging middleware is always
// installed first.
func WithMiddleware(m ...processor.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, m...)
	}
}

// WithSource tags every command issued by the session.
func WithSource(src command.CommandSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// New creates a Session and starts its executor.
func New(f factory.Factory, opts ...Option) (*Session, error) {
	if f == nil {
		return nil, ErrNoFactory
	}

	o := options{
		mode:         ModeImmediate,
		awaitTimeout: DefaultAwaitTimeout,
		source:       command.SourceLibrary,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ParseMode(string(o.mode)); err != nil {
		return nil, err
	}
	if o.bus == nil {
		o.bus = pubsub.NewBroker[any](pubsub.WithBuffer(eventBuffer))
	}

	middlewares := append([]processor.Middleware{processor.NewLoggingMiddleware()}, o.middlewares...)
	proc := processor.NewCommandProcessor(
		processor.WithQueueCapacity(o.queueCapacity),
		processor.WithEventBus(o.bus),
		processor.WithMiddleware(middlewares...),
	)
	ws := handler.NewWorkspace(f, o.dispatcher)
	bus := o.bus
	ws.Emit = func(e any) {
		if ev, ok := e.(events.Event); ok {
			bus.Publish(ev.EventType(), e)
		}
	}
	handler.RegisterAll(proc, ws)

	ctx, cancel := context.WithCancel(context.Background())
	if err := proc.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start executor: %w", err)
	}

	log.Info(log.CatBuild, "session started", "mode", o.mode.String())
	return &Session{
		proc:         proc,
		ws:           ws,
		bus:          o.bus,
		cancel:       cancel,
		source:       o.source,
		awaitTimeout: o.awaitTimeout,
		mode:         o.mode,
	}, nil
}

// Mode returns the current execution mode.
func (s *Session) Mode() Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}

// SetMode switches the execution mode for later calls.
func (s *Session) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	s.modeMu.Lock()
	s.mode = m
	s.modeMu.Unlock()
	log.Info(log.CatBuild, "execution mode changed", "mode", m.String())
	return nil
}

// Events subscribes to session events until ctx is cancelled.
func (s *Session) Events(ctx context.Context) <-chan pubsub.Event[any] {
	return s.bus.Subscribe(ctx)
}

// Broker returns the broker session events are published on.
func (s *Session) Broker() *pubsub.Broker[any] {
	return s.bus
}

// Stats reports executor counters.
type Stats struct {
	Processed   int64 `json:"processed"`
	Errors      int64 `json:"errors"`
	QueueLength int   `json:"queue_length"`
}

// Stats returns a snapshot of the executor counters.
func (s *Session) Stats() Stats {
	return Stats{
		Processed:   s.proc.ProcessedCount(),
		Errors:      s.proc.ErrorCount(),
		QueueLength: s.proc.QueueLength(),
	}
}

// Close processes every queued command and stops the executor. Calling it
// again is a no-op.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.proc.Drain()
	s.cancel()
	log.Info(log.CatBuild, "session closed", "processed", s.proc.ProcessedCount())
	return nil
}

// run submits cmd according to the current mode. Deferred submissions
// return nil as soon as the command is queued.
func (s *Session) run(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if s.Mode() == ModeDeferred {
		tracing.Attach(ctx, cmd)
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if err := s.proc.Submit(cmd); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.wait(ctx, cmd)
}

// wait submits cmd and blocks for its result regardless of mode.
func (s *Session) wait(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	tracing.Attach(ctx, cmd)
	result, err := s.proc.SubmitAndWait(ctx, cmd)
	if err != nil {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if !result.Success {
		return result, result.Error
	}
	return result, nil
}

// ===========================================================================
// Creation
// ===========================================================================

// Create constructs typeName inside container and registers it as id.
// Container may be a host value, an Instance or a registered identifier.
func (s *Session) Create(ctx context.Context, container any, typeName, id string) error {
	cmd := command.NewCreateCommand(s.source, container, typeName, id)
	_, err := s.run(ctx, cmd)
	return err
}

// CreateWithProperties is Create followed by applying props once the new
// instance is registered.
func (s *Session) CreateWithProperties(ctx context.Context, container any, typeName, id string, props schema.Properties) error {
	cmd := command.NewCreateCommand(s.source, container, typeName, id)
	cmd.Properties = props
	_, err := s.run(ctx, cmd)
	return err
}

// Build creates every record of plan under root in order.
func (s *Session) Build(ctx context.Context, root any, plan []schema.CreationRecord, name string, params []string) error {
	cmd := command.NewBuildCommand(s.source, root, plan, name, params)
	_, err := s.run(ctx, cmd)
	return err
}

// BuildSchema parses and compiles data, then builds the result. Document
// errors are returned in both modes.
func (s *Session) BuildSchema(ctx context.Context, root any, data []byte, params []string) error {
	doc, err := schema.Parse(data)
	if err != nil {
		return err
	}
	return s.BuildDocument(ctx, root, doc, params)
}

// BuildDocument compiles a parsed document and builds the result. The
// completion event carries the document's declared name; params[0] travels
// only in its parameter list.
func (s *Session) BuildDocument(ctx context.Context, root any, doc *schema.Document, params []string) error {
	plan, err := schema.Compile(doc, params)
	if err != nil {
		return err
	}
	log.Debug(log.CatSchema, "schema compiled", "name", doc.Name, "records", len(plan))
	return s.Build(ctx, root, plan, doc.Name, params)
}

// ===========================================================================
// Registry
// ===========================================================================

// Remove unregisters id and detaches its host value. It reports whether
// anything was removed.
func (s *Session) Remove(ctx context.Context, id string) (bool, error) {
	result, err := s.wait(ctx, command.NewRemoveCommand(s.source, id))
	if err != nil {
		return false, err
	}
	removed, _ := result.Data.(bool)
	return removed, nil
}

// Rename moves oldID to newID.
func (s *Session) Rename(ctx context.Context, oldID, newID string) error {
	_, err := s.wait(ctx, command.NewRenameCommand(s.source, oldID, newID))
	return err
}

// RenameMatching replaces fragment with replacement in every identifier that
// contains it and returns the new identifiers.
func (s *Session) RenameMatching(ctx context.Context, fragment, replacement string) ([]string, error) {
	result, err := s.wait(ctx, command.NewRenameMatchingCommand(s.source, fragment, replacement))
	if err != nil {
		return nil, err
	}
	return renamedTargets(result.Data), nil
}

func (s *Session) query(ctx context.Context, kind command.QueryKind, key string, value any) (any, error) {
	q := command.NewQueryCommand(s.source, kind)
	q.Key, q.Value = key, value
	result, err := s.wait(ctx, q)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// Lookup returns the instance registered as id.
func (s *Session) Lookup(ctx context.Context, id string) (instance.Instance, bool, error) {
	data, err := s.query(ctx, command.QueryLookup, id, nil)
	if err != nil {
		return nil, false, err
	}
	r := data.(handler.LookupResult)
	return r.Instance, r.Found, nil
}

// IDOf returns the identifier bound to v, or "" when v was not created
// dynamically. v may be an Instance or the host value behind one.
func (s *Session) IDOf(ctx context.Context, v any) (string, error) {
	data, err := s.query(ctx, command.QueryIDOf, "", v)
	if err != nil {
		return "", err
	}
	return data.(string), nil
}

// IsDynamic reports whether v was created through this session and is still
// registered.
func (s *Session) IsDynamic(ctx context.Context, v any) (bool, error) {
	id, err := s.IDOf(ctx, v)
	return id != "", err
}

// IDs returns every registered identifier, sorted.
func (s *Session) IDs(ctx context.Context) ([]string, error) {
	data, err := s.query(ctx, command.QueryIDs, "", nil)
	if err != nil {
		return nil, err
	}
	return data.([]string), nil
}

// LastUsedID returns the identifier of the most recent creation attempt.
func (s *Session) LastUsedID(ctx context.Context) (string, error) {
	data, err := s.query(ctx, command.QueryLastUsedID, "", nil)
	if err != nil {
		return "", err
	}
	return data.(string), nil
}

// GenerateID returns a random identifier that is not registered.
func (s *Session) GenerateID(ctx context.Context) (string, error) {
	data, err := s.query(ctx, command.QueryGenerateID, "", nil)
	if err != nil {
		return "", err
	}
	return data.(string), nil
}

// Pending returns identifiers whose property continuations have not fired.
func (s *Session) Pending(ctx context.Context) ([]string, error) {
	data, err := s.query(ctx, command.QueryPending, "", nil)
	if err != nil {
		return nil, err
	}
	return data.([]string), nil
}

// ===========================================================================
// Invocation
// ===========================================================================

// Invoke calls member on target with args. Target is a registered
// identifier, an Instance or any host value.
func (s *Session) Invoke(ctx context.Context, target any, member string, args ...any) (any, error) {
	result, err := s.wait(ctx, command.NewInvokeCommand(s.source, target, member, args))
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// Get reads property name from target.
func (s *Session) Get(ctx context.Context, target any, name string) (any, error) {
	return s.Invoke(ctx, target, name)
}

// Set writes value to property name on target.
func (s *Session) Set(ctx context.Context, target any, name string, value any) error {
	_, err := s.Invoke(ctx, target, name, value)
	return err
}

// SetAll applies props to target in order, stopping at the first failure.
func (s *Session) SetAll(ctx context.Context, target any, props schema.Properties) error {
	if props == nil {
		props = schema.Properties{}
	}
	_, err := s.wait(ctx, command.NewSetAllCommand(s.source, target, props))
	return err
}

// Await blocks until id is created, ctx ends or the await timeout passes.
// An identifier that is already registered resolves at once.
func (s *Session) Await(ctx context.Context, id string) (instance.Instance, error) {
	cmd := command.NewAwaitCommand(s.source, id)
	if _, err := s.wait(ctx, cmd); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.awaitTimeout)
	defer timer.Stop()

	select {
	case inst := <-cmd.Result:
		return inst, nil
	case <-ctx.Done():
		s.withdraw(cmd)
		return nil, ctx.Err()
	case <-timer.C:
		s.withdraw(cmd)
		return nil, fmt.Errorf("%w: %q after %s", ErrAwaitTimeout, id, s.awaitTimeout)
	}
}

func (s *Session) withdraw(cmd *command.AwaitCommand) {
	if s.closed.Load() {
		return
	}
	if err := s.proc.Submit(cmd.Cancel()); err != nil {
		log.Warn(log.CatBuild, "could not withdraw waiter", "id", cmd.InstanceID, "error", err.Error())
	}
}

func renamedTargets(data any) []string {
	moved, _ := data.([]registry.Renamed)
	out := make([]string, 0, len(moved))
	for _, m := range moved {
		out = append(out, m.To)
	}
	return out
}
