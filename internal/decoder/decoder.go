// Package decoder turns raw Kafka keys and values into displayable text.
//
// Decoders are tried in the order configured for a topic; the first one that
// recognizes a payload wins. A decoder that does not recognize a payload
// reports it as not applicable. Errors are reserved for infrastructure
// failures such as an unreachable schema registry.
package decoder

import (
	"context"
	"fmt"
)

// Attribute selects which part of a record is being decoded.
type Attribute int

const (
	Key Attribute = iota
	Value
)

func (a Attribute) String() string {
	if a == Key {
		return "key"
	}
	return "value"
}

// Config is a read-only view of the process configuration, keyed by dotted
// kebab-case paths such as "confluent-schema-registry.url".
type Config interface {
	Lookup(key string) (string, bool)
}

// Decoder decodes payloads of one format.
type Decoder interface {
	// ID is the stable identifier used in configuration.
	ID() string
	// DisplayName is shown next to decoded payloads.
	DisplayName() string
	// Init runs once, before the first Decode.
	Init(ctx context.Context, cfg Config) error
	// Decode returns the decoded payload and true, or false when the payload
	// is not in this decoder's format. payload is nil for null keys/values.
	Decode(ctx context.Context, payload []byte, attr Attribute) (string, bool, error)
}

// Unloader is implemented by decoders holding resources that must be
// released at shutdown.
type Unloader interface {
	Unload()
}

// InfraError reports a decoder that could not run, as opposed to a payload
// it did not recognize.
type InfraError struct {
	Decoder string
	Err     error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("decoder %s: %v", e.Decoder, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// MapConfig is a Config backed by a map.
type MapConfig map[string]string

// Lookup implements Config.
func (m MapConfig) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}
