package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/linkedin/goavro/v2"
	"github.com/twmb/franz-go/pkg/sr"
)

// Configuration keys read by the Avro decoder.
const (
	SchemaRegistryURLKey      = "confluent-schema-registry.url"
	SchemaRegistryUsernameKey = "confluent-schema-registry.username"
	SchemaRegistryPasswordKey = "confluent-schema-registry.password"
)

// Avro decodes Confluent wire-format Avro payloads (magic byte, 4-byte schema
// id, binary body) using schemas from a schema registry.
type Avro struct {
	url      string
	username string
	password string

	mu     sync.RWMutex
	client *sr.Client
	codecs map[int]*goavro.Codec // nil entries mark ids that are not Avro
}

// NewAvro returns an uninitialised Avro decoder.
func NewAvro() *Avro {
	return &Avro{codecs: make(map[int]*goavro.Codec)}
}

func (a *Avro) ID() string          { return "avro" }
func (a *Avro) DisplayName() string { return "Avro (Confluent Schema Registry)" }

// Init reads the registry location. The registry client itself is created on
// first use. Without a registry url every payload is reported as not
// applicable.
func (a *Avro) Init(_ context.Context, cfg Config) error {
	a.url, _ = cfg.Lookup(SchemaRegistryURLKey)
	a.username, _ = cfg.Lookup(SchemaRegistryUsernameKey)
	a.password, _ = cfg.Lookup(SchemaRegistryPasswordKey)
	return nil
}

func (a *Avro) Decode(ctx context.Context, payload []byte, _ Attribute) (string, bool, error) {
	if payload == nil {
		return "", false, nil
	}

	var header sr.ConfluentHeader
	id, body, err := header.DecodeID(payload)
	if err != nil {
		return "", false, nil
	}

	codec, err := a.codec(ctx, id)
	if err != nil {
		return "", false, err
	}
	if codec == nil {
		return "", false, nil
	}

	native, _, err := codec.NativeFromBinary(body)
	if err != nil {
		slog.Debug("avro payload does not match its schema", "schema_id", id, "error", err)
		return "", false, nil
	}

	out, err := json.Marshal(normalize(native))
	if err != nil {
		return "", false, fmt.Errorf("encode avro value as json: %w", err)
	}
	return string(out), true, nil
}

// codec returns the codec for a schema id, or nil if the registry has no
// Avro schema with that id.
func (a *Avro) codec(ctx context.Context, id int) (*goavro.Codec, error) {
	a.mu.RLock()
	codec, ok := a.codecs[id]
	a.mu.RUnlock()
	if ok {
		return codec, nil
	}

	cl, err := a.registry()
	if err != nil || cl == nil {
		return nil, err
	}

	schema, err := cl.SchemaByID(ctx, id)
	if err != nil {
		var re *sr.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			// The id is not one of the registry's schemas.
			slog.Debug("schema not found", "schema_id", id, "error", err)
			a.store(id, nil)
			return nil, nil
		}
		// Outages and auth failures are not cached; the next message retries.
		return nil, &InfraError{Decoder: a.ID(), Err: fmt.Errorf("fetch schema %d: %w", id, err)}
	}

	if schema.Type != sr.TypeAvro {
		a.store(id, nil)
		return nil, nil
	}

	codec, err = goavro.NewCodec(schema.Schema)
	if err != nil {
		slog.Warn("failed to compile avro schema", "schema_id", id, "error", err)
		a.store(id, nil)
		return nil, nil
	}
	a.store(id, codec)
	return codec, nil
}

func (a *Avro) store(id int, codec *goavro.Codec) {
	a.mu.Lock()
	a.codecs[id] = codec
	a.mu.Unlock()
}

func (a *Avro) registry() (*sr.Client, error) {
	a.mu.RLock()
	cl := a.client
	a.mu.RUnlock()
	if cl != nil {
		return cl, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	if a.url == "" {
		return nil, nil
	}

	opts := []sr.ClientOpt{sr.URLs(a.url)}
	if a.username != "" {
		opts = append(opts, sr.BasicAuth(a.username, a.password))
	}
	cl, err := sr.NewClient(opts...)
	if err != nil {
		return nil, &InfraError{Decoder: a.ID(), Err: err}
	}
	a.client = cl
	return cl, nil
}

// normalize returns a copy of a decoded Avro value in which byte strings
// holding valid UTF-8 are replaced by strings.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}
