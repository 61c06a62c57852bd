package cachemanager

import (
	"context"
	"time"
)

// Loader computes the value for input on a cache miss.
type Loader[V, I any] func(ctx context.Context, input I) (V, error)

// ReadThrough answers from a Store and falls back to a Loader, storing what
// the loader returns. Loader errors are never cached. With a nil Store every
// call goes to the loader.
type ReadThrough[K comparable, V any, I any] struct {
	store Store[K, V]
	load  Loader[V, I]
}

func NewReadThrough[K comparable, V any, I any](store Store[K, V], load Loader[V, I]) *ReadThrough[K, V, I] {
	return &ReadThrough[K, V, I]{store: store, load: load}
}

// Get returns the value under key, loading it from input on a miss. A hit
// restarts the entry's TTL so hot entries stay resident.
func (r *ReadThrough[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.store == nil {
		return r.load(ctx, input)
	}
	if v, ok := r.store.GetWithRefresh(ctx, key, ttl); ok {
		return v, nil
	}
	v, err := r.load(ctx, input)
	if err != nil {
		return v, err
	}
	r.store.Set(ctx, key, v, ttl)
	return v, nil
}
