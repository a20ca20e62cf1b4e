package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/krowser/internal/kafka"
)

// Offsets returns the low and high watermarks of every partition of topic,
// sorted by partition.
//
// A single-partition topic is answered with one watermark query. Larger
// topics use two bulk lookups issued together, one for the earliest and one
// for the end offsets, joined by partition. A partition missing from either
// lookup is left out.
func (e *Explorer) Offsets(ctx context.Context, topic string) ([]kafka.TopicOffsets, error) {
	meta, err := e.Topic(ctx, topic)
	if err != nil {
		return nil, err
	}

	switch len(meta.Partitions) {
	case 0:
		return []kafka.TopicOffsets{}, nil
	case 1:
		partition := meta.Partitions[0].ID
		var wm kafka.TopicOffsets
		err := e.retry(ctx, "fetching watermarks", func() error {
			var err error
			wm, err = e.broker.Watermarks(ctx, topic, partition)
			return err
		})
		if err != nil {
			return nil, err
		}
		return []kafka.TopicOffsets{wm}, nil
	}

	var lows, highs []kafka.PartitionOffset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.retry(gctx, "fetching low offsets", func() error {
			var err error
			lows, err = e.broker.ListOffsets(gctx, topic, 0)
			return err
		})
	})
	g.Go(func() error {
		return e.retry(gctx, "fetching high offsets", func() error {
			var err error
			highs, err = e.broker.ListOffsets(gctx, topic, kafka.TimestampEnd)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return zipOffsets(topic, lows, highs), nil
}

func zipOffsets(topic string, lows, highs []kafka.PartitionOffset) []kafka.TopicOffsets {
	high := make(map[int32]int64, len(highs))
	for _, h := range highs {
		high[h.Partition] = h.Offset
	}

	out := make([]kafka.TopicOffsets, 0, len(lows))
	for _, l := range lows {
		h, ok := high[l.Partition]
		if !ok {
			slog.Warn("partition missing from end offsets, skipping", "topic", topic, "partition", l.Partition)
			continue
		}
		delete(high, l.Partition)
		// An empty partition reports the end offset for timestamp 0.
		low := min(l.Offset, h)
		if low < 0 {
			low = h
		}
		out = append(out, kafka.TopicOffsets{Partition: l.Partition, Low: low, High: h})
	}
	for p := range high {
		slog.Warn("partition missing from start offsets, skipping", "topic", topic, "partition", p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

// OffsetForTimestamp returns the first offset of topic/partition written at
// or after timestamp (milliseconds). A timestamp past the last record
// resolves to the high watermark; a partition without an answer to 0.
func (e *Explorer) OffsetForTimestamp(ctx context.Context, topic string, partition int32, timestamp int64) (int64, error) {
	offsets, err := e.OffsetsForTimestamp(ctx, topic, timestamp)
	if err != nil {
		return 0, err
	}
	for _, o := range offsets {
		if o.Partition == partition {
			return o.Offset, nil
		}
	}
	return 0, nil
}

// PartitionOffset is the JSON shape of a timestamp lookup result.
type PartitionOffset struct {
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}

// OffsetsForTimestamp resolves timestamp for every partition of topic.
func (e *Explorer) OffsetsForTimestamp(ctx context.Context, topic string, timestamp int64) ([]PartitionOffset, error) {
	if _, err := e.Topic(ctx, topic); err != nil {
		return nil, err
	}

	var found []kafka.PartitionOffset
	err := e.retry(ctx, "fetching offsets for times", func() error {
		var err error
		found, err = e.broker.ListOffsets(ctx, topic, timestamp)
		return err
	})
	if err != nil {
		return nil, err
	}

	var watermarks map[int32]int64
	out := make([]PartitionOffset, 0, len(found))
	for _, o := range found {
		offset := o.Offset
		if offset < 0 {
			if watermarks == nil {
				wm, err := e.Offsets(ctx, topic)
				if err != nil {
					return nil, err
				}
				watermarks = make(map[int32]int64, len(wm))
				for _, w := range wm {
					watermarks[w.Partition] = w.High
				}
			}
			h, ok := watermarks[o.Partition]
			if !ok {
				return nil, fmt.Errorf("missing end offset for partition %d of topic %s", o.Partition, topic)
			}
			offset = h
		}
		out = append(out, PartitionOffset{Partition: o.Partition, Offset: offset})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}
