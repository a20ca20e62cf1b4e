package decoder

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Builtin returns the decoders compiled into the binary.
func Builtin() []Decoder {
	return []Decoder{
		bytesDecoder{},
		utf8Decoder{},
		utf8LossyDecoder{},
		NewAvro(),
	}
}

type bytesDecoder struct{}

func (bytesDecoder) ID() string                         { return "bytes" }
func (bytesDecoder) DisplayName() string                { return "Bytes" }
func (bytesDecoder) Init(context.Context, Config) error { return nil }

func (bytesDecoder) Decode(_ context.Context, payload []byte, _ Attribute) (string, bool, error) {
	if payload == nil {
		return "", false, nil
	}

	var sb strings.Builder
	for _, b := range payload {
		sb.WriteString(strconv.Itoa(int(b)))
		sb.WriteByte(',')
	}
	out, err := json.Marshal(struct {
		Bytes string `json:"bytes"`
		Size  string `json:"message_size_in_bytes"`
	}{sb.String(), strconv.Itoa(len(payload))})
	if err != nil {
		return "", false, err
	}
	return string(out), true, nil
}

type utf8Decoder struct{}

func (utf8Decoder) ID() string                         { return "utf8" }
func (utf8Decoder) DisplayName() string                { return "UTF-8" }
func (utf8Decoder) Init(context.Context, Config) error { return nil }

func (utf8Decoder) Decode(_ context.Context, payload []byte, _ Attribute) (string, bool, error) {
	if payload == nil || !utf8.Valid(payload) {
		return "", false, nil
	}
	return string(payload), true, nil
}

type utf8LossyDecoder struct{}

func (utf8LossyDecoder) ID() string                         { return "utf8_lossy" }
func (utf8LossyDecoder) DisplayName() string                { return "UTF-8 (Lossy)" }
func (utf8LossyDecoder) Init(context.Context, Config) error { return nil }

func (utf8LossyDecoder) Decode(_ context.Context, payload []byte, _ Attribute) (string, bool, error) {
	if payload == nil {
		return "", false, nil
	}
	return strings.ToValidUTF8(string(payload), "�"), true, nil
}
