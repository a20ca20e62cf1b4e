package reporter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/kafka"
)

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// printer accumulates the first write error so report bodies can ignore it.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) writef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (r *TextReporter) Cluster(_ context.Context, cluster *explorer.ClusterView) error {
	p := &printer{w: r.writer}

	p.writef("Kafka Cluster Overview\n")
	p.writef("======================\n\n")
	p.writef("Controller: %d\n", cluster.Controller)
	p.writef("Topics: %d\n", cluster.Topics)
	p.writef("Brokers: %d\n", len(cluster.Brokers))
	for _, b := range cluster.Brokers {
		p.writef("  - Broker %d: %s:%d", b.ID, b.Host, b.Port)
		if b.Rack != "" {
			p.writef(" (rack: %s)", b.Rack)
		}
		p.writef("\n")
	}
	return p.err
}

func (r *TextReporter) Topics(_ context.Context, topics []explorer.TopicView) error {
	p := &printer{w: r.writer}

	p.writef("Topics: %d\n", len(topics))
	p.writef("=========\n\n")
	for _, t := range topics {
		p.writef("[Topic] %s", t.Name)
		if t.Internal {
			p.writef(" (internal)")
		}
		p.writef("\n")
		p.writef("  Partitions: %d\n", len(t.Partitions))
		for _, part := range t.Partitions {
			p.writef("    - %d: leader %d, replicas %s, isr %s", part.PartitionID, part.Leader, joinIDs(part.Replicas), joinIDs(part.ISR))
			if part.ErrorDescription != nil {
				p.writef(" [%s]", *part.ErrorDescription)
			}
			p.writef("\n")
		}
		p.writef("\n")
	}
	return p.err
}

func (r *TextReporter) Offsets(_ context.Context, topic string, offsets []kafka.TopicOffsets) error {
	p := &printer{w: r.writer}

	p.writef("[Topic] %s\n", topic)
	var total int64
	for _, o := range offsets {
		p.writef("  Partition %d: low %d, high %d (%d messages)\n", o.Partition, o.Low, o.High, o.High-o.Low)
		total += o.High - o.Low
	}
	p.writef("  Total: %d messages\n", total)
	return p.err
}

func (r *TextReporter) Groups(_ context.Context, groups []explorer.GroupView) error {
	p := &printer{w: r.writer}

	p.writef("Consumer Groups: %d\n", len(groups))
	p.writef("================\n\n")
	for _, g := range groups {
		p.writef("[Group] %s\n", g.Name)
		p.writef("  State: %s\n", g.State)
		if g.ProtocolType != "" {
			p.writef("  Protocol: %s/%s\n", g.ProtocolType, g.Protocol)
		}
		p.writef("  Members: %d\n", len(g.Members))
		for _, m := range g.Members {
			p.writef("    - %s (%s@%s)\n", m.MemberID, m.ClientID, m.ClientHost)
			for _, a := range m.Assignments {
				p.writef("        %s: %s\n", a.Topic, joinIDs(a.Partitions))
			}
		}
		p.writef("\n")
	}
	return p.err
}

func (r *TextReporter) Messages(_ context.Context, result *explorer.MessagesResult) error {
	p := &printer{w: r.writer}

	for _, m := range result.Messages {
		ts := time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339Nano)
		p.writef("%s/%d@%d %s\n", m.Topic, m.Partition, m.Offset, ts)
		p.writef("  key   (%s): %s\n", m.KeyDecoding, m.Key)
		p.writef("  value (%s): %s\n", m.ValueDecoding, m.Value)
	}
	if result.HasTimeout {
		p.writef("Timed out before any message was read.\n")
	} else if len(result.Messages) == 0 {
		p.writef("No messages.\n")
	}
	return p.err
}

func (r *TextReporter) Decoders(_ context.Context, decoders []explorer.DecoderView) error {
	p := &printer{w: r.writer}
	for _, d := range decoders {
		p.writef("%-12s %s\n", d.ID, d.DisplayName)
	}
	return p.err
}

func joinIDs(ids []int32) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
