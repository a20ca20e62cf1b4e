// Package reporter renders explorer results for the command line.
package reporter

import (
	"context"
	"fmt"
	"io"

	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/kafka"
)

// Reporter renders explorer results.
type Reporter interface {
	Cluster(ctx context.Context, cluster *explorer.ClusterView) error
	Topics(ctx context.Context, topics []explorer.TopicView) error
	Offsets(ctx context.Context, topic string, offsets []kafka.TopicOffsets) error
	Groups(ctx context.Context, groups []explorer.GroupView) error
	Messages(ctx context.Context, result *explorer.MessagesResult) error
	Decoders(ctx context.Context, decoders []explorer.DecoderView) error
}

// New returns the reporter for format: "text" or "json".
func New(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "", "text":
		return NewTextReporter(w), nil
	case "json":
		return NewJSONReporter(w, true), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}
