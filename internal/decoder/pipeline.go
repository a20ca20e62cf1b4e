package decoder

import (
	"context"
	"errors"
	"fmt"
)

// Names recorded when no configured decoder recognized a payload.
const (
	EmptyDecoderName   = "Empty"
	UnknownDecoderName = "Unknown"
)

// Decoded is a payload rendered by the named decoder.
type Decoded struct {
	Content string
	Decoder string
}

// Pipeline decodes payloads with the decoders resolved for their topic.
type Pipeline struct {
	registry *Registry
	resolver *Resolver

	// OnDecode is called with the display name of the decoder that handled
	// each payload.
	OnDecode func(decoder string, attr Attribute)
}

// NewPipeline returns a pipeline over a validated registry and resolver.
func NewPipeline(reg *Registry, res *Resolver) *Pipeline {
	return &Pipeline{registry: reg, resolver: res}
}

// Registry returns the registry the pipeline draws decoders from.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Decode renders payload, the attr part of a record on topic.
func (p *Pipeline) Decode(ctx context.Context, topic string, attr Attribute, payload []byte) (Decoded, error) {
	return p.DecodeWith(ctx, p.resolver.Resolve(topic, attr), attr, payload)
}

// DecodeWith tries the decoders ids in order and returns the first result.
// When none applies, a null payload renders as empty and anything else as a
// size placeholder. An infrastructure failure stops the attempt.
func (p *Pipeline) DecodeWith(ctx context.Context, ids []string, attr Attribute, payload []byte) (Decoded, error) {
	for _, id := range ids {
		d, ok := p.registry.Get(id)
		if !ok {
			// Ids are validated when the resolver is built.
			panic(fmt.Sprintf("decoder %q resolved but not registered", id))
		}

		content, ok, err := d.Decode(ctx, payload, attr)
		if err != nil {
			var ie *InfraError
			if !errors.As(err, &ie) {
				err = &InfraError{Decoder: id, Err: err}
			}
			return Decoded{}, err
		}
		if ok {
			return p.done(Decoded{Content: content, Decoder: d.DisplayName()}, attr), nil
		}
	}

	if payload == nil {
		return p.done(Decoded{Content: "", Decoder: EmptyDecoderName}, attr), nil
	}
	return p.done(Decoded{
		Content: fmt.Sprintf(`{"unknown_bytes":%d}`, len(payload)),
		Decoder: UnknownDecoderName,
	}, attr), nil
}

func (p *Pipeline) done(d Decoded, attr Attribute) Decoded {
	if p.OnDecode != nil {
		p.OnDecode(d.Decoder, attr)
	}
	return d
}
