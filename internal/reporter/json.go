package reporter

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/kafka"
)

// JSONReporter writes results in the same shape the HTTP API serves them.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

func (r *JSONReporter) write(v any) error {
	var output []byte
	var err error

	if r.pretty {
		output, err = json.MarshalIndent(v, "", "  ")
	} else {
		output, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err = r.writer.Write(output); err != nil {
		return err
	}
	_, err = r.writer.Write([]byte("\n"))
	return err
}

func (r *JSONReporter) Cluster(_ context.Context, cluster *explorer.ClusterView) error {
	return r.write(cluster)
}

func (r *JSONReporter) Topics(_ context.Context, topics []explorer.TopicView) error {
	return r.write(topics)
}

func (r *JSONReporter) Offsets(_ context.Context, _ string, offsets []kafka.TopicOffsets) error {
	return r.write(offsets)
}

func (r *JSONReporter) Groups(_ context.Context, groups []explorer.GroupView) error {
	return r.write(groups)
}

func (r *JSONReporter) Messages(_ context.Context, result *explorer.MessagesResult) error {
	return r.write(result)
}

func (r *JSONReporter) Decoders(_ context.Context, decoders []explorer.DecoderView) error {
	return r.write(decoders)
}
