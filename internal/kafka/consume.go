package kafka

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// RecordReader streams records from a single assigned partition.
type RecordReader interface {
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

type partitionReader struct {
	client *kgo.Client
}

// Consume opens a dedicated consumer assigned to topic/partition and
// positioned at offset. The caller must Close the reader.
func (c *Client) Consume(_ context.Context, topic string, partition int32, offset int64) (RecordReader, error) {
	opts := append(slices.Clone(c.opts),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {partition: kgo.NewOffset().At(offset)},
		}),
		kgo.FetchMaxWait(time.Second),
		// Transaction markers can occupy the last offsets below the high
		// watermark.
		kgo.KeepControlRecords(),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return &partitionReader{client: client}, nil
}

// Poll blocks until records are available or ctx is done.
func (r *partitionReader) Poll(ctx context.Context) ([]Record, error) {
	fetches := r.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	var firstErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("fetch %s/%d: %w", topic, partition, err)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	var out []Record
	fetches.EachRecord(func(rec *kgo.Record) {
		out = append(out, Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Timestamp: rec.Timestamp,
			Key:       rec.Key,
			Value:     rec.Value,
			Control:   rec.Attrs.IsControl(),
		})
	})
	return out, nil
}

func (r *partitionReader) Close() {
	r.client.Close()
}
