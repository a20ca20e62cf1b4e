package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

func TestKeyed_Get(t *testing.T) {
	clock := quartz.NewMock(t)
	calls := map[string]int{}
	c, err := NewKeyed(time.Minute, 10, func(_ context.Context, key string) (string, error) {
		calls[key]++
		return key + "-value", nil
	}, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	// The value should be fetched on first access.
	v, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, "foo-value", v)
	require.Equal(t, 1, calls["foo"])
	// Keys are cached independently.
	_, err = c.Get(ctx, "bar")
	require.NoError(t, err)
	require.Equal(t, 1, calls["bar"])
	// Advance the time to be 1 second before the expiration time.
	clock.Advance(59 * time.Second)
	_, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, 1, calls["foo"])
	// Advance the time to be equal to the expiration time, the value should
	// be fetched again.
	clock.Advance(time.Second)
	_, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, 2, calls["foo"])
}

func TestKeyed_Peek(t *testing.T) {
	clock := quartz.NewMock(t)
	c, err := NewKeyed(time.Minute, 10, func(_ context.Context, key int) (int, error) {
		return key * 2, nil
	}, WithClock(clock))
	require.NoError(t, err)

	// The value should be absent.
	_, ok := c.Peek(4)
	require.False(t, ok)
	// Refresh stores it.
	_, err = c.Refresh(context.Background(), 4)
	require.NoError(t, err)
	v, ok := c.Peek(4)
	require.True(t, ok)
	require.Equal(t, 8, v)
	// Expired entries are not returned.
	clock.Advance(time.Minute)
	_, ok = c.Peek(4)
	require.False(t, ok)
}

func TestKeyed_Delete(t *testing.T) {
	c, err := NewKeyed(time.Minute, 10, func(_ context.Context, key string) (string, error) {
		return key, nil
	}, WithClock(quartz.NewMock(t)))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "foo")
	require.NoError(t, err)
	c.Delete("foo")
	_, ok := c.Peek("foo")
	require.False(t, ok)
}

func TestKeyed_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewKeyed(time.Minute, 2, func(_ context.Context, key string) (string, error) {
		return key, nil
	}, WithClock(quartz.NewMock(t)))
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := c.Get(ctx, k)
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())
	_, ok := c.Peek("a")
	require.False(t, ok)
	_, ok = c.Peek("c")
	require.True(t, ok)
}

func TestNewKeyed_InvalidSize(t *testing.T) {
	_, err := NewKeyed(time.Minute, 0, func(context.Context, string) (string, error) {
		return "", nil
	})
	require.Error(t, err)
}

func TestKeyed_CallerDeadlineDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	c, err := NewKeyed(time.Minute, 10, func(ctx context.Context, key string) (string, error) {
		select {
		case <-release:
			return key + "-value", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Get(short, "orders")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The fetch started by the expired caller is still in flight and is
	// shared with the next reader.
	got := make(chan error, 1)
	go func() {
		v, err := c.Get(context.Background(), "orders")
		if err == nil && v != "orders-value" {
			err = errors.New("unexpected value " + v)
		}
		got <- err
	}()
	close(release)
	require.NoError(t, <-got)
}
