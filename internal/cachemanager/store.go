// Package cachemanager caches values computed from an expensive lookup,
// with a per-entry TTL. The dispatcher uses it to remember which member of a
// reflected type a normalized name and arity resolve to.
package cachemanager

import (
	"context"
	"time"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// Store is a keyed cache with per-entry TTL.
type Store[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	// GetWithRefresh is Get but a hit restarts the entry's TTL.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
}

// Stats reports counters of a Memory store.
type Stats struct {
	Hits   int64
	Misses int64
	Items  int
}

// HitRatio is Hits / (Hits + Misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
