package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBuffer is the per-subscriber capacity available to Publish.
	DefaultBuffer = 64
	// DefaultReserve is the extra per-subscriber capacity only Deliver may use.
	DefaultReserve = 8
)

// Option configures a Broker.
type Option func(*brokerOptions)

type brokerOptions struct {
	buffer  int
	reserve int
	now     func() time.Time
}

// WithBuffer sets the per-subscriber channel capacity. Values below 1 are
// ignored.
func WithBuffer(n int) Option {
	return func(o *brokerOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithReserve sets the capacity kept back from Publish for Deliver, so
// terminal events fit behind a burst that filled the buffer. Negative values
// are ignored.
func WithReserve(n int) Option {
	return func(o *brokerOptions) {
		if n >= 0 {
			o.reserve = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *brokerOptions) { o.now = now }
}

// Broker delivers each published event to every live subscriber. Publish
// never blocks: a subscriber whose buffer is full misses the event and the
// miss is counted in Dropped. Deliver waits for room instead.
type Broker[T any] struct {
	opts brokerOptions

	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	closed bool

	quit      chan struct{}
	closeOnce sync.Once

	dropped atomic.Int64
}

type subscription[T any] struct {
	ch   chan Event[T]
	gone chan struct{}
}

// NewBroker creates an open broker.
func NewBroker[T any](opts ...Option) *Broker[T] {
	o := brokerOptions{buffer: DefaultBuffer, reserve: DefaultReserve, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broker[T]{
		opts: o,
		subs: make(map[uint64]*subscription[T]),
		quit: make(chan struct{}),
	}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed when ctx ends or the broker closes. Subscribing to a
// closed broker yields an already closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.opts.buffer+b.opts.reserve)
	if b.closed {
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	sub := &subscription[T]{ch: ch, gone: make(chan struct{})}
	b.subs[id] = sub

	go func() {
		select {
		case <-ctx.Done():
		case <-b.quit:
			return
		}
		// Releases a Deliver blocked on this subscriber before taking the
		// write lock.
		close(sub.gone)
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Broker[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscribeFunc runs fn for every event on a dedicated goroutine until ctx
// ends or the broker closes. Events buffered at that point are still
// delivered. The returned channel closes once fn has seen the last event.
func (b *Broker[T]) SubscribeFunc(ctx context.Context, fn func(Event[T])) <-chan struct{} {
	ch := b.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fn(ev)
		}
	}()
	return done
}

// Publish stamps payload and offers it to every subscriber.
func (b *Broker[T]) Publish(typ EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	ev := Event[T]{Type: typ, Payload: payload, Timestamp: b.opts.now()}
	for _, sub := range b.subs {
		if len(sub.ch) >= b.opts.buffer {
			b.dropped.Add(1)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Deliver stamps payload and hands it to every subscriber, using the reserve
// and then waiting for room when a subscriber is full. Subscribers that leave
// or a broker that closes meanwhile are skipped. When ctx ends first the
// remaining deliveries are counted in Dropped and ctx's error is returned.
func (b *Broker[T]) Deliver(ctx context.Context, typ EventType, payload T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	ev := Event[T]{Type: typ, Payload: payload, Timestamp: b.opts.now()}
	var err error
	for _, sub := range b.subs {
		if err != nil {
			b.dropped.Add(1)
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.gone:
		case <-b.quit:
			return nil
		case <-ctx.Done():
			b.dropped.Add(1)
			err = ctx.Err()
		}
	}
	return err
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broker[T]) Dropped() int64 { return b.dropped.Load() }

// SubscriberCount returns the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker[T]) Close() {
	b.closeOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
