// Package explorer answers read-only questions about a Kafka cluster:
// topics, watermarks, consumer groups and decoded messages.
//
// Every broker call goes through a kafka.Retrier. Cluster metadata, the group
// listing and per-topic details are cached with their own TTLs and can be
// refreshed proactively by a Refresher.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/ppiankov/krowser/internal/cache"
	"github.com/ppiankov/krowser/internal/decoder"
	"github.com/ppiankov/krowser/internal/kafka"
	"github.com/ppiankov/krowser/internal/metrics"
)

// ErrNotFound is wrapped by errors for unknown topics, partitions, groups
// and decoders.
var ErrNotFound = errors.New("not found")

// ErrInvalidQuery is wrapped by errors for malformed request parameters.
var ErrInvalidQuery = errors.New("invalid query")

// Broker is the subset of the Kafka client the explorer needs.
type Broker interface {
	Metadata(ctx context.Context, topics ...string) (*kafka.ClusterMetadata, error)
	Watermarks(ctx context.Context, topic string, partition int32) (kafka.TopicOffsets, error)
	ListOffsets(ctx context.Context, topic string, timestamp int64) ([]kafka.PartitionOffset, error)
	Groups(ctx context.Context, groups ...string) ([]kafka.ConsumerGroup, error)
	CommittedOffsets(ctx context.Context, group, topic string) ([]kafka.CommittedOffset, error)
	TopicConfig(ctx context.Context, topic string) ([]kafka.ConfigEntry, error)
	BrokerConfig(ctx context.Context, broker int32) ([]kafka.ConfigEntry, error)
	Consume(ctx context.Context, topic string, partition int32, offset int64) (kafka.RecordReader, error)
}

// Options tunes caching. Zero values fall back to the defaults below.
type Options struct {
	MetadataTTL time.Duration
	GroupsTTL   time.Duration
	TopicTTL    time.Duration
	MaxTopics   int

	Retrier *kafka.Retrier
	Metrics *metrics.Metrics
	Clock   quartz.Clock
}

const (
	DefaultMetadataTTL = 5 * time.Minute
	DefaultGroupsTTL   = time.Minute
	DefaultTopicTTL    = time.Minute
	DefaultMaxTopics   = 10000
)

func (o *Options) setDefaults() {
	if o.MetadataTTL <= 0 {
		o.MetadataTTL = DefaultMetadataTTL
	}
	if o.GroupsTTL <= 0 {
		o.GroupsTTL = DefaultGroupsTTL
	}
	if o.TopicTTL <= 0 {
		o.TopicTTL = DefaultTopicTTL
	}
	if o.MaxTopics <= 0 {
		o.MaxTopics = DefaultMaxTopics
	}
	if o.Retrier == nil {
		o.Retrier = kafka.NewRetrier()
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
}

// Explorer serves cluster queries from caches backed by a Broker.
type Explorer struct {
	broker   Broker
	pipeline *decoder.Pipeline
	retrier  *kafka.Retrier

	metadata *cache.Value[*kafka.ClusterMetadata]
	groups   *cache.Value[[]kafka.ConsumerGroup]
	topics   *cache.Keyed[string, *TopicDetail]
}

// New returns an Explorer reading from broker and decoding with pipeline.
func New(broker Broker, pipeline *decoder.Pipeline, opts Options) (*Explorer, error) {
	opts.setDefaults()

	e := &Explorer{
		broker:   broker,
		pipeline: pipeline,
		retrier:  opts.Retrier,
	}

	cacheOpts := func(name string) []cache.Option {
		o := []cache.Option{cache.WithClock(opts.Clock)}
		if opts.Metrics != nil {
			o = append(o, cache.WithObserver(opts.Metrics.CacheObserver(name)))
		}
		return o
	}

	if opts.Metrics != nil && opts.Retrier.OnRetry == nil {
		opts.Retrier.OnRetry = func(op string) {
			opts.Metrics.BrokerRetries.WithLabelValues(op).Inc()
		}
	}

	e.metadata = cache.NewValue(opts.MetadataTTL, e.fetchMetadata, cacheOpts("metadata")...)
	e.groups = cache.NewValue(opts.GroupsTTL, e.fetchGroups, cacheOpts("groups")...)

	topics, err := cache.NewKeyed(opts.TopicTTL, opts.MaxTopics, e.fetchTopicDetail, cacheOpts("topic")...)
	if err != nil {
		return nil, fmt.Errorf("create topic cache: %w", err)
	}
	e.topics = topics

	return e, nil
}

// retry runs fn through the explorer's retry policy.
func (e *Explorer) retry(ctx context.Context, desc string, fn func() error) error {
	return e.retrier.Do(ctx, desc, fn)
}
