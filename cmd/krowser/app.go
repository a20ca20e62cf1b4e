package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/sr"

	"github.com/ppiankov/krowser/internal/config"
	"github.com/ppiankov/krowser/internal/decoder"
	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/kafka"
	"github.com/ppiankov/krowser/internal/metrics"
)

// app holds the components shared by every command that talks to the
// cluster.
type app struct {
	cfg            *config.Config
	client         *kafka.Client
	decoders       *decoder.Registry
	explorer       *explorer.Explorer
	schemaRegistry *sr.Client
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	decoders, err := newDecoderRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pipeline, err := newPipeline(decoders, cfg)
	if err != nil {
		decoders.Close()
		return nil, &usageError{err: err}
	}
	pipeline.OnDecode = func(name string, attr decoder.Attribute) {
		m.Decodes.WithLabelValues(name, attr.String()).Inc()
	}

	var registry *sr.Client
	if cfg.SchemaRegistry.URL != "" {
		registry, err = newSchemaRegistry(cfg.SchemaRegistry)
		if err != nil {
			decoders.Close()
			return nil, &usageError{err: err}
		}
	}

	slog.Info("connecting to Kafka", "bootstrap_servers", cfg.Kafka.URLs)
	client, err := kafka.NewClient(ctx, kafkaConfig(cfg))
	if err != nil {
		decoders.Close()
		return nil, err
	}

	e, err := explorer.New(client, pipeline, explorer.Options{
		MetadataTTL: cfg.Cache.MetadataTTL,
		GroupsTTL:   cfg.Cache.GroupsTTL,
		TopicTTL:    cfg.Cache.TopicTTL,
		MaxTopics:   cfg.Cache.MaxTopics,
		Metrics:     m,
	})
	if err != nil {
		client.Close()
		decoders.Close()
		return nil, err
	}

	return &app{
		cfg:            cfg,
		client:         client,
		decoders:       decoders,
		explorer:       e,
		schemaRegistry: registry,
		metrics:        m,
		gatherer:       reg,
	}, nil
}

func (a *app) Close() {
	a.client.Close()
	a.decoders.Close()
}

func kafkaConfig(cfg *config.Config) kafka.Config {
	return kafka.Config{
		BootstrapServers: cfg.Kafka.URLs,
		AuthMechanism:    cfg.Kafka.AuthMechanism,
		Username:         cfg.Kafka.Username,
		Password:         cfg.Kafka.Password,
		TLSEnabled:       cfg.Kafka.TLS,
		TLSCertFile:      cfg.Kafka.TLSCert,
		TLSKeyFile:       cfg.Kafka.TLSKey,
		TLSCAFile:        cfg.Kafka.TLSCA,
		QueryTimeout:     cfg.Kafka.Timeout,
	}
}

// newDecoderRegistry registers the built-in decoders and then the plugins
// found in the configured directory, which may replace built-ins by id.
func newDecoderRegistry(ctx context.Context, cfg *config.Config) (*decoder.Registry, error) {
	reg := decoder.NewRegistry()
	for _, d := range decoder.Builtin() {
		if err := reg.Add(ctx, d, cfg); err != nil {
			reg.Close()
			return nil, err
		}
	}

	n, err := decoder.LoadPlugins(ctx, reg, cfg.Decoders.PluginDir, cfg)
	if err != nil {
		reg.Close()
		return nil, err
	}
	if n > 0 {
		slog.Info("loaded decoder plugins", "count", n, "dir", cfg.Decoders.PluginDir)
	}
	return reg, nil
}

func newPipeline(reg *decoder.Registry, cfg *config.Config) (*decoder.Pipeline, error) {
	res, err := decoder.NewResolver(reg, cfg.Kafka.KeyDecoders, cfg.Kafka.ValueDecoders, decoderRules(cfg.Kafka.Topics))
	if err != nil {
		return nil, err
	}
	return decoder.NewPipeline(reg, res), nil
}

func decoderRules(topics []config.TopicRule) []decoder.RuleConfig {
	rules := make([]decoder.RuleConfig, 0, len(topics))
	for _, t := range topics {
		rules = append(rules, decoder.RuleConfig{
			Pattern: t.Name,
			Key:     t.KeyDecoders,
			Value:   t.ValueDecoders,
		})
	}
	return rules
}

func decoderViews(reg *decoder.Registry) []explorer.DecoderView {
	all := reg.All()
	out := make([]explorer.DecoderView, 0, len(all))
	for _, d := range all {
		out = append(out, explorer.DecoderView{ID: d.ID(), DisplayName: d.DisplayName()})
	}
	return out
}

func newSchemaRegistry(cfg config.SchemaRegistry) (*sr.Client, error) {
	opts := []sr.ClientOpt{sr.URLs(cfg.URL)}
	if cfg.Username != "" {
		opts = append(opts, sr.BasicAuth(cfg.Username, cfg.Password))
	}
	cl, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create schema registry client: %w", err)
	}
	return cl, nil
}
