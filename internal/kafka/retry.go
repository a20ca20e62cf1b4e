package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultRetries = 5
	initialBackoff = 500 * time.Millisecond
)

// Retrier runs broker operations with bounded exponential backoff:
// Retries retries after the first attempt, waiting Backoff, 2*Backoff, ...
// between them.
type Retrier struct {
	Retries int
	Backoff time.Duration

	// OnRetry is called once per retry, before the backoff wait.
	OnRetry func(operation string)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with 5 retries starting at 500ms.
func NewRetrier() *Retrier {
	return &Retrier{
		Retries: defaultRetries,
		Backoff: initialBackoff,
		sleep:   sleepContext,
	}
}

var defaultRetrier = NewRetrier()

// Retry runs fn with the default retry policy.
func Retry(ctx context.Context, desc string, fn func() error) error {
	return defaultRetrier.Do(ctx, desc, fn)
}

// IsAuthError reports errors that indicate SASL authentication or
// authorization failures. These are permanent and retrying will not help.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.SaslAuthenticationFailed,
			kerr.UnsupportedSaslMechanism,
			kerr.IllegalSaslState,
			kerr.TopicAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.GroupAuthorizationFailed,
			kerr.TransactionalIDAuthorizationFailed:
			return true
		}
	}

	var eof *kgo.ErrFirstReadEOF
	return errors.As(err, &eof)
}

// isPermanent reports errors that end the retry loop immediately.
// Everything else, including non-retriable Kafka codes, gets the full budget:
// leader moves and coordinator loads surface as a wide range of codes.
func isPermanent(err error) bool {
	return IsAuthError(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Do executes fn until it succeeds, fails permanently, or the retry budget
// is spent. The error of the final attempt is returned wrapped.
func (r *Retrier) Do(ctx context.Context, desc string, fn func() error) error {
	backoff := r.Backoff

	var lastErr error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if isPermanent(lastErr) {
			return lastErr
		}

		if attempt == r.Retries {
			break
		}

		slog.Warn("retrying after broker error",
			"operation", desc,
			"attempt", attempt+1,
			"retries_left", r.Retries-attempt,
			"backoff", backoff,
			"error", lastErr,
		)
		if r.OnRetry != nil {
			r.OnRetry(desc)
		}

		if err := r.wait(ctx, backoff); err != nil {
			return fmt.Errorf("%s: %w (last error: %w)", desc, err, lastErr)
		}

		backoff *= 2
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", desc, r.Retries+1, lastErr)
}

func (r *Retrier) wait(ctx context.Context, d time.Duration) error {
	if r.sleep == nil {
		return sleepContext(ctx, d)
	}
	return r.sleep(ctx, d)
}

// RetryWith establishes a fresh connection for every attempt and runs action
// on it. Connections exposing Close are closed once the attempt is over.
func RetryWith[C, T any](
	ctx context.Context,
	r *Retrier,
	desc string,
	connect func(context.Context) (C, error),
	action func(context.Context, C) (T, error),
) (T, error) {
	var out T
	err := r.Do(ctx, desc, func() error {
		conn, err := connect(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if c, ok := any(conn).(interface{ Close() }); ok {
			defer c.Close()
		}

		v, err := action(ctx, conn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
