package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the initialised decoders keyed by id. It is populated at
// startup and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Add initialises d with cfg and registers it. A decoder with the same id
// replaces the previous one.
func (r *Registry) Add(ctx context.Context, d Decoder, cfg Config) error {
	if d.ID() == "" {
		return fmt.Errorf("decoder %q has an empty id", d.DisplayName())
	}
	if err := d.Init(ctx, cfg); err != nil {
		return fmt.Errorf("init decoder %s: %w", d.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.decoders[d.ID()]; ok {
		slog.Warn("decoder id registered twice, keeping the latest",
			"id", d.ID(),
			"previous", prev.DisplayName(),
			"current", d.DisplayName(),
		)
	}
	r.decoders[d.ID()] = d
	return nil
}

// Get returns the decoder registered under id.
func (r *Registry) Get(id string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[id]
	return d, ok
}

// All returns the registered decoders sorted by id.
func (r *Registry) All() []Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Decoder, 0, len(r.decoders))
	for _, d := range r.decoders {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close unloads every decoder that holds resources and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.decoders {
		if u, ok := d.(Unloader); ok {
			slog.Debug("unloading decoder", "id", id)
			u.Unload()
		}
	}
	r.decoders = make(map[string]Decoder)
}
