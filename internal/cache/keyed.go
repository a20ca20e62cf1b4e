package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Keyed caches fetch results per key. At most size keys are retained; the
// least recently used key is evicted first.
type Keyed[K comparable, V any] struct {
	ttl     time.Duration
	fetch   func(context.Context, K) (V, error)
	clock   quartz.Clock
	observe func(hit bool)

	items *lru.Cache[K, item[V]]
	group singleflight.Group
}

// NewKeyed returns a keyed cache around fetch.
func NewKeyed[K comparable, V any](ttl time.Duration, size int, fetch func(context.Context, K) (V, error), opts ...Option) (*Keyed[K, V], error) {
	items, err := lru.New[K, item[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	o := buildOptions(opts)
	return &Keyed[K, V]{
		ttl:     ttl,
		fetch:   fetch,
		clock:   o.clock,
		observe: o.observe,
		items:   items,
	}, nil
}

// Get returns the cached value for key if it has not expired, fetching
// otherwise.
func (c *Keyed[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.record(true)
		return v, nil
	}
	c.record(false)
	return c.Refresh(ctx, key)
}

// Peek returns the cached value for key without fetching.
func (c *Keyed[K, V]) Peek(key K) (V, bool) {
	it, ok := c.items.Get(key)
	if !ok || !it.fresh(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Refresh fetches the value for key unconditionally and stores it.
func (c *Keyed[K, V]) Refresh(ctx context.Context, key K) (V, error) {
	if err := ctx.Err(); err != nil {
		var zero V
		return zero, err
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprint(key), func() (any, error) {
		v, err := c.fetch(fetchCtx, key)
		if err != nil {
			return v, err
		}
		c.items.Add(key, item[V]{value: v, expiresAt: c.clock.Now().Add(c.ttl)})
		return v, nil
	})
	return wait[V](ctx, ch)
}

// Delete drops key from the cache.
func (c *Keyed[K, V]) Delete(key K) {
	c.items.Remove(key)
}

// Len returns the number of retained keys, expired or not.
func (c *Keyed[K, V]) Len() int {
	return c.items.Len()
}

func (c *Keyed[K, V]) record(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}
