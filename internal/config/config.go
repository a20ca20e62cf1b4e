package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the primary config file name that is auto-discovered.
	DefaultFileName = ".krowser.yaml"
	alternateName   = ".krowser.yml"

	// EnvPrefix marks environment overrides: KROWSER__KAFKA__URLS sets
	// kafka.urls. Single underscores in a segment become dashes.
	EnvPrefix = "KROWSER__"
)

// Config is the merged process configuration.
type Config struct {
	Kafka          Kafka          `yaml:"kafka"`
	SchemaRegistry SchemaRegistry `yaml:"confluent-schema-registry"`
	KafkaConnect   KafkaConnect   `yaml:"kafka-connect"`
	Server         Server         `yaml:"server"`
	Decoders       Decoders       `yaml:"decoders"`
	Cache          Cache          `yaml:"cache"`

	flatOnce sync.Once
	flat     map[string]string
}

type Kafka struct {
	URLs          string        `yaml:"urls"`
	AuthMechanism string        `yaml:"auth-mechanism"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TLS           bool          `yaml:"tls"`
	TLSCert       string        `yaml:"tls-cert"`
	TLSKey        string        `yaml:"tls-key"`
	TLSCA         string        `yaml:"tls-ca"`
	Timeout       time.Duration `yaml:"timeout"`
	KeyDecoders   List          `yaml:"key-decoders"`
	ValueDecoders List          `yaml:"value-decoders"`
	Topics        []TopicRule   `yaml:"topics"`
}

// TopicRule overrides the decoders of topics whose name matches the Name
// regular expression.
type TopicRule struct {
	Name          string `yaml:"name"`
	KeyDecoders   List   `yaml:"key-decoders"`
	ValueDecoders List   `yaml:"value-decoders"`
}

type SchemaRegistry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type KafkaConnect struct {
	URL string `yaml:"url"`
}

type Server struct {
	Port int `yaml:"port"`
}

// Decoders locates decoder plugins. Any other key in the section is kept
// for plugins to read through Lookup, for example decoders.reverse.name.
type Decoders struct {
	PluginDir string         `yaml:"plugin-dir"`
	Plugins   map[string]any `yaml:",inline"`
}

type Cache struct {
	MetadataTTL     time.Duration `yaml:"metadata-ttl"`
	GroupsTTL       time.Duration `yaml:"groups-ttl"`
	TopicTTL        time.Duration `yaml:"topic-ttl"`
	RefreshInterval time.Duration `yaml:"refresh-interval"`
	TopicPause      time.Duration `yaml:"topic-pause"`
	MaxTopics       int           `yaml:"max-topics"`
}

// List is a list of names written either as a YAML sequence or as a single
// comma-separated string.
type List []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = SplitList(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = normalizeList(items)
		return nil
	}
	return fmt.Errorf("line %d: expected a list or a comma-separated string", value.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (l List) MarshalYAML() (any, error) {
	return strings.Join(l, ","), nil
}

// SplitList splits a comma-separated list, dropping empty items.
func SplitList(s string) []string {
	return normalizeList(strings.Split(s, ","))
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Kafka: Kafka{
			URLs:          "localhost:9092",
			Timeout:       10 * time.Second,
			KeyDecoders:   List{"utf8", "bytes"},
			ValueDecoders: List{"avro", "utf8", "bytes"},
		},
		SchemaRegistry: SchemaRegistry{URL: "http://localhost:8081"},
		KafkaConnect:   KafkaConnect{URL: "http://localhost:8083"},
		Server:         Server{Port: 9999},
		Decoders:       Decoders{PluginDir: "./decoders"},
		Cache: Cache{
			MetadataTTL:     5 * time.Minute,
			GroupsTTL:       time.Minute,
			TopicTTL:        time.Minute,
			RefreshInterval: 30 * time.Second,
			TopicPause:      100 * time.Millisecond,
			MaxTopics:       10000,
		},
	}
}

// Load auto-discovers and loads a config file, then applies environment
// overrides. Without a config file the defaults are used and the returned
// path is empty.
// Search order:
// 1) current working directory
// 2) user home directory
func Load() (*Config, string, error) {
	paths, err := defaultPaths()
	if err != nil {
		return nil, "", err
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("read config %q: %w", path, err)
		}
		cfg, err := parse(data, os.Environ())
		if err != nil {
			return nil, "", fmt.Errorf("parse config %q: %w", path, err)
		}
		return cfg, path, nil
	}

	cfg, err := parse(nil, os.Environ())
	if err != nil {
		return nil, "", fmt.Errorf("parse environment: %w", err)
	}
	return cfg, "", nil
}

// LoadFromPath loads and parses a config file from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := parse(data, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

func defaultPaths() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve current directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, DefaultFileName),
		filepath.Join(cwd, alternateName),
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		for _, p := range []string{filepath.Join(home, DefaultFileName), filepath.Join(home, alternateName)} {
			if !containsPath(paths, p) {
				paths = append(paths, p)
			}
		}
	}

	return paths, nil
}

func containsPath(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}

// parse decodes data over the defaults after applying the environment
// overrides in environ.
func parse(data []byte, environ []string) (*Config, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(root, environ); err != nil {
		return nil, err
	}

	merged, err := yaml.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(merged))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseTree(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(bytes.TrimPrefix(data, []byte("\uFEFF")), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}
	return root, nil
}

func applyEnv(root *yaml.Node, environ []string) error {
	// Applied in name order.
	sorted := append([]string(nil), environ...)
	sort.Strings(sorted)

	for _, kv := range sorted {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path := envPath(strings.TrimPrefix(name, EnvPrefix))
		if len(path) == 0 {
			continue
		}
		if err := setPath(root, path, scalarNode(value)); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

func envPath(name string) []string {
	var path []string
	for _, seg := range strings.Split(name, "__") {
		seg = strings.ReplaceAll(strings.ToLower(seg), "_", "-")
		if seg != "" {
			path = append(path, seg)
		}
	}
	return path
}

// scalarNode resolves value the way it would be read from a YAML file, so
// "9999" becomes an int and "true" a bool.
func scalarNode(value string) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err == nil &&
		len(doc.Content) == 1 && doc.Content[0].Kind == yaml.ScalarNode {
		return doc.Content[0]
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func setPath(node *yaml.Node, path []string, leaf *yaml.Node) error {
	for i, key := range path {
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a section", strings.Join(path[:i], "."))
		}
		var child *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				child = node.Content[j+1]
				if i == len(path)-1 {
					node.Content[j+1] = leaf
					return nil
				}
				break
			}
		}
		if i == len(path)-1 {
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, leaf)
			return nil
		}
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		node = child
	}
	return nil
}

var authMechanisms = map[string]bool{
	"":              true,
	"PLAIN":         true,
	"SCRAM-SHA-256": true,
	"SCRAM-SHA-512": true,
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Kafka.URLs) == "" {
		return errors.New("kafka.urls must not be empty")
	}
	if !authMechanisms[strings.ToUpper(c.Kafka.AuthMechanism)] {
		return fmt.Errorf("kafka.auth-mechanism %q is not supported (use PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512)", c.Kafka.AuthMechanism)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	for i, t := range c.Kafka.Topics {
		if t.Name == "" {
			return fmt.Errorf("kafka.topics[%d]: name is required", i)
		}
	}
	for key, d := range map[string]time.Duration{
		"kafka.timeout":          c.Kafka.Timeout,
		"cache.metadata-ttl":     c.Cache.MetadataTTL,
		"cache.groups-ttl":       c.Cache.GroupsTTL,
		"cache.topic-ttl":        c.Cache.TopicTTL,
		"cache.refresh-interval": c.Cache.RefreshInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Cache.TopicPause < 0 {
		return fmt.Errorf("cache.topic-pause must not be negative, got %s", c.Cache.TopicPause)
	}
	if c.Cache.MaxTopics <= 0 {
		return fmt.Errorf("cache.max-topics must be positive, got %d", c.Cache.MaxTopics)
	}
	return nil
}

// Lookup returns a setting by its dotted path, for example
// "confluent-schema-registry.url". Lists are comma-joined; entries of
// kafka.topics are addressed by index ("kafka.topics.0.name").
// The view is built on first use; later changes to c are not reflected.
func (c *Config) Lookup(key string) (string, bool) {
	c.flatOnce.Do(func() {
		c.flat = map[string]string{}
		var node yaml.Node
		if err := node.Encode(c); err != nil {
			slog.Warn("config settings unavailable to decoders", "error", err)
			return
		}
		flatten(&node, "", c.flat)
	})
	v, ok := c.flat[key]
	return v, ok
}

func flatten(node *yaml.Node, prefix string, out map[string]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, n := range node.Content {
			flatten(n, prefix, out)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			flatten(node.Content[i+1], join(node.Content[i].Value), out)
		}
	case yaml.SequenceNode:
		scalars := make([]string, 0, len(node.Content))
		for i, n := range node.Content {
			if n.Kind == yaml.ScalarNode {
				scalars = append(scalars, n.Value)
				continue
			}
			flatten(n, join(strconv.Itoa(i)), out)
		}
		if len(scalars) > 0 {
			out[prefix] = strings.Join(scalars, ",")
		}
	case yaml.ScalarNode:
		out[prefix] = node.Value
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	if len(out) == 0 {
		return nil
	}

	return out
}
