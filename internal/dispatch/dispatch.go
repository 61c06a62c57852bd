// Package dispatch invokes instance members by name with argument coercion.
//
// Member names are normalized before comparison: every character outside
// [A-Za-z0-9] is stripped and ASCII case is ignored, so "set_text",
// "setText" and "SetText" all resolve to the same member. Among members with
// the same normalized name the first one, in Members order, whose arity
// equals the number of arguments wins.
package dispatch

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/dyncomp/internal/cachemanager"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
)

// Empty is returned in place of nil results.
const Empty = ""

// Dispatcher resolves and calls members. It is safe for concurrent use.
type Dispatcher struct {
	cache    *cachemanager.Memory[string, int]
	resolver *cachemanager.ReadThrough[string, int, resolveInput]
	ttl      time.Duration

	// typeKeys gives every reflect.Type its own key prefix. Type names
	// alone collide across packages and function scopes.
	typeKeys sync.Map // reflect.Type -> string
	nextType atomic.Uint64
}

type config struct {
	ttl     time.Duration
	cleanup time.Duration
}

// Option configures a Dispatcher.
type Option func(*config)

// WithCacheTTL sets the lifetime of member resolution cache entries and the
// janitor interval. A ttl of zero or less disables the cache.
func WithCacheTTL(ttl, cleanup time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
		c.cleanup = cleanup
	}
}

type resolveInput struct {
	members []instance.Member
	name    string
	arity   int
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	cfg := config{ttl: cachemanager.DefaultExpiration, cleanup: cachemanager.DefaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{ttl: cfg.ttl}
	var store cachemanager.Store[string, int]
	if cfg.ttl > 0 {
		d.cache = cachemanager.NewMemory[string, int]("member-resolution", cfg.ttl, cfg.cleanup)
		store = d.cache
	}
	d.resolver = cachemanager.NewReadThrough[string, int, resolveInput](store, scan)
	return d
}

// CacheStats reports resolution cache counters. Zero when caching is off.
func (d *Dispatcher) CacheStats() cachemanager.Stats {
	if d.cache == nil {
		return cachemanager.Stats{}
	}
	return d.cache.Stats()
}

// NormalizeName strips every character outside [A-Za-z0-9] and lower-cases
// the rest.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		}
	}
	return b.String()
}

func scan(_ context.Context, in resolveInput) (int, error) {
	for i, m := range in.members {
		if m.Arity() == in.arity && NormalizeName(m.Name) == in.name {
			return i, nil
		}
	}
	return -1, ErrMemberNotFound
}

// Resolve returns the member name and arity will be dispatched to.
func (d *Dispatcher) Resolve(ctx context.Context, inst instance.Instance, name string, arity int) (instance.Member, error) {
	if isNil(inst) {
		return instance.Member{}, ErrNilInstance
	}
	members := inst.Members()
	in := resolveInput{members: members, name: NormalizeName(name), arity: arity}

	var idx int
	var err error
	if _, static := inst.(*instance.Reflected); static {
		key := d.typeKey(reflect.TypeOf(instance.Unwrap(inst))) + "|" + in.name + "|" + strconv.Itoa(arity)
		idx, err = d.resolver.Get(ctx, key, in, d.ttl)
	} else {
		idx, err = scan(ctx, in)
	}
	if err != nil {
		return instance.Member{}, fmt.Errorf("%w: %s/%d on %s", err, name, arity, instance.TypeName(inst))
	}
	return members[idx], nil
}

func (d *Dispatcher) typeKey(t reflect.Type) string {
	if k, ok := d.typeKeys.Load(t); ok {
		return k.(string)
	}
	k, _ := d.typeKeys.LoadOrStore(t, fmt.Sprintf("%s#%d", t, d.nextType.Add(1)))
	return k.(string)
}

// Invoke calls the member of inst matching name and len(args). Arguments are
// coerced to the member's declared parameter types. A nil result is returned
// as Empty.
func (d *Dispatcher) Invoke(ctx context.Context, inst instance.Instance, name string, args []any) (any, error) {
	member, err := d.Resolve(ctx, inst, name, len(args))
	if err != nil {
		return nil, err
	}

	coerced := make([]any, len(args))
	for i, arg := range args {
		v, cerr := coerce(arg, member.Params[i])
		if cerr != nil {
			return nil, &ArgumentError{Member: member.Name, Position: i, Value: arg, Want: member.Params[i], Err: cerr}
		}
		coerced[i] = v
	}

	log.Debug(log.CatInvoke, "invoke", "type", instance.TypeName(inst), "member", member.Name, "args", len(args))
	result, err := call(ctx, inst, member, coerced)
	if err != nil {
		log.ErrorErr(log.CatInvoke, "invoke failed", err, "member", member.Name)
		return nil, err
	}
	return normalizeResult(result), nil
}

func call(ctx context.Context, inst instance.Instance, member instance.Member, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrInvocationFailed, member.Name, r)
		}
	}()
	result, err = inst.InvokeMember(ctx, member.Name, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvocationFailed, member.Name, err)
	}
	return result, nil
}

// Get reads a property: Invoke with no arguments.
func (d *Dispatcher) Get(ctx context.Context, inst instance.Instance, name string) (any, error) {
	return d.Invoke(ctx, inst, name, nil)
}

// Set writes a property: Invoke with one argument, result discarded.
func (d *Dispatcher) Set(ctx context.Context, inst instance.Instance, name string, value any) error {
	_, err := d.Invoke(ctx, inst, name, []any{value})
	return err
}

// SetAll applies every property in order and stops at the first failure.
// Properties set before the failure stay applied.
func (d *Dispatcher) SetAll(ctx context.Context, inst instance.Instance, props iter.Seq2[string, any]) error {
	for name, value := range props {
		if err := d.Set(ctx, inst, name, value); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func normalizeResult(v any) any {
	if isNilValue(v) {
		return Empty
	}
	return v
}

func isNil(inst instance.Instance) bool {
	return inst == nil || isNilValue(inst)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
