package decoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
)

// PluginSymbol is the constructor every decoder plugin must export, either as
// a function or as a variable of type func() Decoder.
const PluginSymbol = "NewDecoder"

// LoadPlugins opens every *.so file in dir, constructs its decoder and adds
// it to r. Plugins that fail to open, construct or initialise are logged and
// skipped. A missing directory is not an error. Plugins load in file name
// order, so on an id collision the last file wins.
func LoadPlugins(ctx context.Context, r *Registry, dir string, cfg Config) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no decoder plugin directory", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read plugin directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		d, err := openPlugin(path)
		if err != nil {
			slog.Warn("failed to load decoder plugin", "path", path, "error", err)
			continue
		}
		if err := r.Add(ctx, d, cfg); err != nil {
			slog.Warn("failed to initialise decoder plugin", "path", path, "error", err)
			continue
		}

		slog.Info("loaded decoder plugin", "path", path, "id", d.ID(), "name", d.DisplayName())
		loaded++
	}
	return loaded, nil
}

func openPlugin(path string) (Decoder, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(PluginSymbol)
	if err != nil {
		return nil, err
	}
	ctor, err := constructor(sym)
	if err != nil {
		return nil, err
	}
	return construct(ctor)
}

func constructor(sym plugin.Symbol) (func() Decoder, error) {
	switch f := sym.(type) {
	case func() Decoder:
		return f, nil
	case *func() Decoder:
		if f == nil || *f == nil {
			return nil, fmt.Errorf("symbol %s is nil", PluginSymbol)
		}
		return *f, nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() decoder.Decoder", PluginSymbol, sym)
	}
}

func construct(ctor func() Decoder) (d Decoder, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()

	d = ctor()
	if d == nil {
		return nil, errors.New("constructor returned nil")
	}
	return d, nil
}
