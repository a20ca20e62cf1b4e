package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/krowser/internal/explorer"
)

func TestJSONReporterMatchesAPIShape(t *testing.T) {
	result := &explorer.MessagesResult{Messages: []explorer.Message{{
		Topic:         "orders",
		Offset:        3,
		Key:           "k3",
		Value:         "v3",
		KeyDecoding:   "UTF-8",
		ValueDecoding: "UTF-8",
	}}}

	var buf bytes.Buffer
	if err := NewJSONReporter(&buf, false).Messages(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["has_timeout"] != false {
		t.Fatalf("expected has_timeout=false, got %v", decoded["has_timeout"])
	}
	messages, ok := decoded["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one message, got %v", decoded["messages"])
	}
	msg := messages[0].(map[string]any)
	if msg["value_decoding"] != "UTF-8" || msg["key"] != "k3" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestJSONReporterPretty(t *testing.T) {
	var buf bytes.Buffer
	decoders := []explorer.DecoderView{{ID: "utf8", DisplayName: "UTF-8"}}
	if err := NewJSONReporter(&buf, true).Decoders(context.Background(), decoders); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "[\n  {\n    \"id\": \"utf8\",\n    \"display_name\": \"UTF-8\"\n  }\n]\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}
