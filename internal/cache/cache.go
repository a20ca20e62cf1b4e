// Package cache memoizes broker lookups for a fixed time-to-live.
//
// Entries expire strictly: a read at or after insertion time + TTL is a miss.
// Refreshes compute the new value outside the lock and swap it in, so readers
// see either the old or the new value, never a partial one. Concurrent misses
// for the same key share a single fetch, which runs detached from any one
// caller's cancellation.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"
)

// Option configures a cache.
type Option func(*options)

type options struct {
	clock   quartz.Clock
	observe func(hit bool)
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithObserver registers a callback invoked on every Get with whether the
// lookup was served from the cache.
func WithObserver(fn func(hit bool)) Option {
	return func(o *options) { o.observe = fn }
}

func buildOptions(opts []Option) options {
	o := options{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

func (i item[V]) fresh(now time.Time) bool {
	return now.Before(i.expiresAt)
}

// Value caches the result of a single fetch function.
type Value[T any] struct {
	ttl     time.Duration
	fetch   func(context.Context) (T, error)
	clock   quartz.Clock
	observe func(hit bool)

	mu    sync.RWMutex
	entry *item[T]

	group singleflight.Group
}

// NewValue returns a cache around fetch with the given TTL.
func NewValue[T any](ttl time.Duration, fetch func(context.Context) (T, error), opts ...Option) *Value[T] {
	o := buildOptions(opts)
	return &Value[T]{
		ttl:     ttl,
		fetch:   fetch,
		clock:   o.clock,
		observe: o.observe,
	}
}

// Get returns the cached value if it has not expired, fetching otherwise.
func (c *Value[T]) Get(ctx context.Context) (T, error) {
	if v, ok := c.Peek(); ok {
		c.record(true)
		return v, nil
	}
	c.record(false)
	return c.Refresh(ctx)
}

// Peek returns the cached value without fetching.
func (c *Value[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil || !c.entry.fresh(c.clock.Now()) {
		var zero T
		return zero, false
	}
	return c.entry.value, true
}

// Refresh fetches a new value unconditionally and stores it.
func (c *Value[T]) Refresh(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("", func() (any, error) {
		v, err := c.fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.entry = &item[T]{value: v, expiresAt: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return v, nil
	})
	return wait[T](ctx, ch)
}

// wait returns the shared fetch result, or the caller's context error if it
// ends first. The fetch itself keeps running for the other waiters.
func wait[T any](ctx context.Context, ch <-chan singleflight.Result) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (c *Value[T]) record(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}
