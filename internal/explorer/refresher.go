package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/ppiankov/krowser/internal/metrics"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultTopicPause      = 100 * time.Millisecond
)

// Refresher keeps the explorer caches warm by refreshing them on a fixed
// interval instead of waiting for a request to find them expired.
type Refresher struct {
	explorer *Explorer
	interval time.Duration
	pause    time.Duration
	metrics  *metrics.Metrics
	clock    quartz.Clock
}

// RefresherOptions tunes a Refresher. Zero values fall back to the defaults.
type RefresherOptions struct {
	Interval   time.Duration
	TopicPause time.Duration
	Metrics    *metrics.Metrics
	Clock      quartz.Clock
}

// NewRefresher returns a refresher for e.
func NewRefresher(e *Explorer, opts RefresherOptions) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRefreshInterval
	}
	if opts.TopicPause <= 0 {
		opts.TopicPause = DefaultTopicPause
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	return &Refresher{
		explorer: e,
		interval: opts.Interval,
		pause:    opts.TopicPause,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
	}
}

// Run refreshes every interval until ctx is done. Failed refreshes are
// logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	slog.Info("cache refresher started", "interval", r.interval)
	w := r.clock.TickerFunc(ctx, r.interval, func() error {
		if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("cache refresh incomplete", "error", err)
		}
		return nil
	}, "refresher")

	err := w.Wait()
	slog.Info("cache refresher stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RefreshOnce refreshes cluster metadata, the group listing and then the
// detail of every topic, pausing between topics.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := r.clock.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RefreshDuration.Observe(r.clock.Since(start).Seconds())
		}
	}()

	meta, err := r.explorer.RefreshMetadata(ctx)
	if err != nil {
		r.failed("metadata")
		return fmt.Errorf("refresh metadata: %w", err)
	}

	var errs []error
	if _, err := r.explorer.RefreshGroups(ctx); err != nil {
		r.failed("groups")
		errs = append(errs, fmt.Errorf("refresh groups: %w", err))
	}

	topics := meta.TopicNames()
	for i, topic := range topics {
		if _, err := r.explorer.RefreshTopic(ctx, topic); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.failed("topic")
			slog.Debug("topic refresh failed", "topic", topic, "error", err)
			errs = append(errs, fmt.Errorf("refresh topic %s: %w", topic, err))
		}
		if i < len(topics)-1 {
			if err := pause(ctx, r.pause); err != nil {
				return err
			}
		}
	}

	slog.Debug("cache refresh finished", "topics", len(topics), "failed", len(errs))
	return errors.Join(errs...)
}

func (r *Refresher) failed(phase string) {
	if r.metrics != nil {
		r.metrics.RefreshFailures.WithLabelValues(phase).Inc()
	}
}

// pause sleeps on the wall clock; the refresh tick itself is driven by the
// injected clock.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
