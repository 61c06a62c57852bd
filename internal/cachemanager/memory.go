package cachemanager

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/dyncomp/internal/log"
)

// Memory is a Store backed by go-cache. Expired entries are swept every
// cleanup interval.
type Memory[K ~string, V any] struct {
	name   string
	items  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store[string, int] = (*Memory[string, int])(nil)

// NewMemory creates a Memory store. name labels its log lines.
func NewMemory[K ~string, V any](name string, ttl, cleanup time.Duration) *Memory[K, V] {
	return &Memory[K, V]{name: name, items: gocache.New(ttl, cleanup)}
}

func (m *Memory[K, V]) Get(_ context.Context, key K) (V, bool) {
	raw, found := m.items.Get(string(key))
	v, ok := raw.(V)
	switch {
	case !found:
		m.misses.Add(1)
	case !ok:
		log.Error(log.CatCache, "cached value has unexpected type", "cache", m.name, "key", key)
		m.misses.Add(1)
	default:
		m.hits.Add(1)
		log.Debug(log.CatCache, "hit", "cache", m.name, "key", key)
	}
	return v, found && ok
}

func (m *Memory[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, ok := m.Get(ctx, key)
	if ok {
		m.Set(ctx, key, v, ttl)
	}
	return v, ok
}

// Set stores value under key. A zero ttl means the store default.
func (m *Memory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(string(key), value, ttl)
}

// Stats returns the hit and miss counters and the live item count.
func (m *Memory[K, V]) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Items: m.items.ItemCount()}
}
