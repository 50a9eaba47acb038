package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache wraps a loader with a cache. Errors are never cached.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache   CacheManager[K, V]
	fn      func(ctx context.Context, input I) (V, error)
	disable bool
}

// NewReadThroughCache creates a read-through cache. With disable set every
// call goes straight to fn.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	disable bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:   cache,
		fn:      fn,
		disable: disable,
	}
}

func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.disable {
		return r.fn(ctx, input)
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)
	return value, nil
}

// Invalidate drops key so the next Get reloads it.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, key K) {
	r.cache.Delete(ctx, key)
}
