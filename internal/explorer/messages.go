package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/krowser/internal/decoder"
	"github.com/ppiankov/krowser/internal/kafka"
)

const (
	DefaultMessageLimit   = 100
	DefaultMessageTimeout = 20 * time.Second
)

// SearchStyle selects how MessageQuery.Search is matched.
type SearchStyle string

const (
	SearchContains      SearchStyle = ""
	SearchCaseSensitive SearchStyle = "case-sensitive"
	SearchRegex         SearchStyle = "regex"
)

// ParseSearchStyle accepts "", "none", "case-sensitive" and "regex".
func ParseSearchStyle(s string) (SearchStyle, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return SearchContains, nil
	case string(SearchCaseSensitive), "casesensitive":
		return SearchCaseSensitive, nil
	case string(SearchRegex):
		return SearchRegex, nil
	}
	return "", fmt.Errorf("search style %q: %w", s, ErrInvalidQuery)
}

// MessageQuery selects records from one partition.
type MessageQuery struct {
	Topic     string
	Partition int32
	Offset    int64
	Limit     int64

	Search      string
	SearchStyle SearchStyle

	// Timeout bounds the whole fetch. Zero means DefaultMessageTimeout.
	Timeout time.Duration
	// Trace logs every decoded record.
	Trace bool
	// Decoder, when set, is the only decoder tried for keys and values.
	Decoder string
}

// NewMessageQuery returns a query for topic/partition with default limit and
// timeout, starting at offset 0.
func NewMessageQuery(topic string, partition int32) MessageQuery {
	return MessageQuery{
		Topic:     topic,
		Partition: partition,
		Limit:     DefaultMessageLimit,
		Timeout:   DefaultMessageTimeout,
	}
}

// Message is a decoded record.
type Message struct {
	Topic         string `json:"topic"`
	Partition     int32  `json:"partition"`
	Offset        int64  `json:"offset"`
	Timestamp     int64  `json:"timestamp"`
	Key           string `json:"key"`
	Value         string `json:"value"`
	KeyDecoding   string `json:"key_decoding"`
	ValueDecoding string `json:"value_decoding"`
}

// MessagesResult is the outcome of a message fetch. HasTimeout is set, with
// no messages, when the fetch ran out of time.
type MessagesResult struct {
	Messages   []Message `json:"messages"`
	HasTimeout bool      `json:"has_timeout"`
}

type matcher func(text string) bool

func newMatcher(search string, style SearchStyle) (matcher, error) {
	if search == "" {
		return nil, nil
	}
	switch style {
	case SearchCaseSensitive:
		return func(text string) bool { return strings.Contains(text, search) }, nil
	case SearchRegex:
		re, err := regexp.Compile(search)
		if err != nil {
			return nil, fmt.Errorf("search pattern: %w: %w", ErrInvalidQuery, err)
		}
		return re.MatchString, nil
	default:
		needle := strings.ToLower(search)
		return func(text string) bool { return strings.Contains(strings.ToLower(text), needle) }, nil
	}
}

// Messages reads up to q.Limit records of q.Topic/q.Partition starting at
// q.Offset, decodes them and keeps those matching q.Search. Filtered records
// count toward the limit. Reading stops at the high watermark observed when
// the fetch started.
func (e *Explorer) Messages(ctx context.Context, q MessageQuery) (*MessagesResult, error) {
	match, err := newMatcher(q.Search, q.SearchStyle)
	if err != nil {
		return nil, err
	}
	if q.Decoder != "" {
		if _, ok := e.pipeline.Registry().Get(q.Decoder); !ok {
			return nil, fmt.Errorf("decoder %q %w", q.Decoder, ErrNotFound)
		}
	}

	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultMessageTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages, err := e.fetchMessages(fetchCtx, q, match)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("message fetch timed out",
				"topic", q.Topic, "partition", q.Partition, "timeout", timeout)
			return &MessagesResult{Messages: []Message{}, HasTimeout: true}, nil
		}
		return nil, err
	}
	return &MessagesResult{Messages: messages, HasTimeout: false}, nil
}

func (e *Explorer) fetchMessages(ctx context.Context, q MessageQuery, match matcher) ([]Message, error) {
	offsets, err := e.Offsets(ctx, q.Topic)
	if err != nil {
		return nil, err
	}

	var (
		high  int64
		found bool
	)
	for _, o := range offsets {
		if o.Partition == q.Partition {
			high, found = o.High, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("partition %d %w for topic %s", q.Partition, ErrNotFound, q.Topic)
	}

	limit := q.Limit
	if high == 0 || q.Offset > high {
		return []Message{}, nil
	}
	if q.Offset+limit > high {
		limit = high - q.Offset
	}
	if limit <= 0 {
		return []Message{}, nil
	}

	// Decode failures are not broker errors and must not be retried.
	var decodeErr error
	messages, err := kafka.RetryWith(ctx, e.retrier, "consuming messages",
		func(ctx context.Context) (kafka.RecordReader, error) {
			return e.broker.Consume(ctx, q.Topic, q.Partition, q.Offset)
		},
		func(ctx context.Context, r kafka.RecordReader) ([]Message, error) {
			out, err := e.readMessages(ctx, r, q, limit, high, match)
			var ie *decoder.InfraError
			if errors.As(err, &ie) {
				decodeErr = err
				return nil, nil
			}
			return out, err
		},
	)
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (e *Explorer) readMessages(ctx context.Context, r kafka.RecordReader, q MessageQuery, limit, high int64, match matcher) ([]Message, error) {
	out := make([]Message, 0, min(limit, DefaultMessageLimit))
	var consumed int64
	for {
		records, err := r.Poll(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			consumed++
			if rec.Control {
				if consumed >= limit || rec.Offset+1 >= high {
					return out, nil
				}
				continue
			}

			msg, err := e.decodeRecord(ctx, rec, q.Decoder)
			if err != nil {
				return nil, fmt.Errorf("decode %s/%d@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
			}
			if q.Trace {
				slog.Info("message",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"timestamp", msg.Timestamp,
					"key", msg.Key,
					"value", msg.Value,
				)
			}
			if match == nil || match(msg.Key+","+msg.Value+","+msg.ValueDecoding) {
				out = append(out, msg)
			}

			if consumed >= limit || rec.Offset+1 >= high {
				return out, nil
			}
		}
	}
}

func (e *Explorer) decodeRecord(ctx context.Context, rec kafka.Record, override string) (Message, error) {
	decode := func(attr decoder.Attribute, payload []byte) (decoder.Decoded, error) {
		if override != "" {
			return e.pipeline.DecodeWith(ctx, []string{override}, attr, payload)
		}
		return e.pipeline.Decode(ctx, rec.Topic, attr, payload)
	}

	key, err := decode(decoder.Key, rec.Key)
	if err != nil {
		return Message{}, err
	}
	value, err := decode(decoder.Value, rec.Value)
	if err != nil {
		return Message{}, err
	}

	var ts int64
	if !rec.Timestamp.IsZero() {
		ts = rec.Timestamp.UnixMilli()
	}
	return Message{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Timestamp:     ts,
		Key:           key.Content,
		Value:         value.Content,
		KeyDecoding:   key.Decoder,
		ValueDecoding: value.Decoder,
	}, nil
}

// DecoderView is the JSON shape of a registered decoder.
type DecoderView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Decoders lists the registered decoders.
func (e *Explorer) Decoders() []DecoderView {
	all := e.pipeline.Registry().All()
	out := make([]DecoderView, 0, len(all))
	for _, d := range all {
		out = append(out, DecoderView{ID: d.ID(), DisplayName: d.DisplayName()})
	}
	return out
}
