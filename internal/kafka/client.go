package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Special timestamps understood by ListOffsets.
const (
	TimestampEarliest int64 = -2
	TimestampEnd      int64 = -1
)

// Client is a read-only view of a Kafka cluster. It is safe for concurrent
// use; message reads get their own consumer client per call.
type Client struct {
	client *kgo.Client
	admin  *kadm.Client
	opts   []kgo.Opt
	config Config
}

// NewClient creates a new Kafka client with the given configuration and
// verifies the cluster is reachable.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := clientOpts(cfg)
	if err != nil {
		return nil, err
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()

	if err := Retry(pingCtx, "ping broker", func() error {
		return client.Ping(pingCtx)
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Kafka cluster: %w", err)
	}

	return &Client{
		client: client,
		admin:  kadm.NewClient(client),
		opts:   opts,
		config: cfg,
	}, nil
}

func clientOpts(cfg Config) ([]kgo.Opt, error) {
	seeds := strings.Split(cfg.BootstrapServers, ",")
	for i, seed := range seeds {
		seeds[i] = strings.TrimSpace(seed)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.RequestTimeoutOverhead(cfg.QueryTimeout),
	}

	if cfg.AuthMechanism != "" {
		saslOpt, err := buildSASL(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure SASL: %w", err)
		}
		opts = append(opts, saslOpt)
	}

	if cfg.TLSEnabled || cfg.TLSCertFile != "" || cfg.TLSCAFile != "" {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	return opts, nil
}

// Close closes the Kafka client connection
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Metadata fetches broker and topic metadata, optionally limited to topics.
func (c *Client) Metadata(ctx context.Context, topics ...string) (*ClusterMetadata, error) {
	meta, err := c.admin.Metadata(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	out := &ClusterMetadata{
		Controller: meta.Controller,
		Topics:     make(map[string]TopicMetadata, len(meta.Topics)),
		FetchedAt:  time.Now(),
	}

	for _, broker := range meta.Brokers {
		rack := ""
		if broker.Rack != nil {
			rack = *broker.Rack
		}
		out.Brokers = append(out.Brokers, BrokerInfo{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
			Rack: rack,
		})
	}

	for name, detail := range meta.Topics {
		if errors.Is(detail.Err, kerr.UnknownTopicOrPartition) {
			continue
		}
		topic := TopicMetadata{
			Name:     name,
			Internal: detail.IsInternal || strings.HasPrefix(name, "__"),
		}
		for _, p := range detail.Partitions.Sorted() {
			pm := PartitionMetadata{
				ID:       p.Partition,
				Leader:   p.Leader,
				Replicas: p.Replicas,
				ISR:      p.ISR,
			}
			if p.Err != nil {
				pm.Error = p.Err.Error()
			}
			topic.Partitions = append(topic.Partitions, pm)
		}
		out.Topics[name] = topic
	}

	return out, nil
}

// Watermarks returns the low and high offsets of a single partition.
func (c *Client) Watermarks(ctx context.Context, topic string, partition int32) (TopicOffsets, error) {
	low, err := c.partitionOffset(ctx, topic, partition, TimestampEarliest)
	if err != nil {
		return TopicOffsets{}, fmt.Errorf("failed to fetch low watermark: %w", err)
	}
	high, err := c.partitionOffset(ctx, topic, partition, TimestampEnd)
	if err != nil {
		return TopicOffsets{}, fmt.Errorf("failed to fetch high watermark: %w", err)
	}
	return TopicOffsets{Partition: partition, Low: low, High: high}, nil
}

func (c *Client) partitionOffset(ctx context.Context, topic string, partition int32, timestamp int64) (int64, error) {
	partitionReq := kmsg.NewListOffsetsRequestTopicPartition()
	partitionReq.Partition = partition
	partitionReq.Timestamp = timestamp

	topicReq := kmsg.NewListOffsetsRequestTopic()
	topicReq.Topic = topic
	topicReq.Partitions = []kmsg.ListOffsetsRequestTopicPartition{partitionReq}

	req := kmsg.NewPtrListOffsetsRequest()
	req.IsolationLevel = 0 // READ_UNCOMMITTED
	req.Topics = []kmsg.ListOffsetsRequestTopic{topicReq}

	resps := c.client.RequestSharded(ctx, req)
	if len(resps) != 1 {
		return 0, fmt.Errorf("unexpected number of responses: %d", len(resps))
	}

	res := resps[0]
	if res.Err != nil {
		return 0, res.Err
	}

	listRes, ok := res.Resp.(*kmsg.ListOffsetsResponse)
	if !ok {
		return 0, errors.New("unexpected response type")
	}
	if len(listRes.Topics) != 1 || len(listRes.Topics[0].Partitions) != 1 {
		return 0, errors.New("malformed response")
	}

	p := listRes.Topics[0].Partitions[0]
	if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
		return 0, err
	}
	return p.Offset, nil
}

// ListOffsets looks up, for every partition of topic, the first offset whose
// timestamp is at or after timestamp. TimestampEnd asks for high watermarks.
// Partitions the broker reports an error for are left out.
func (c *Client) ListOffsets(ctx context.Context, topic string, timestamp int64) ([]PartitionOffset, error) {
	var (
		listed kadm.ListedOffsets
		err    error
	)
	switch timestamp {
	case TimestampEnd:
		listed, err = c.admin.ListEndOffsets(ctx, topic)
	case TimestampEarliest:
		listed, err = c.admin.ListStartOffsets(ctx, topic)
	default:
		listed, err = c.admin.ListOffsetsAfterMilli(ctx, timestamp, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list offsets: %w", err)
	}

	var out []PartitionOffset
	listed.Each(func(o kadm.ListedOffset) {
		if o.Err != nil {
			slog.Debug("skipping partition in offset lookup",
				"topic", o.Topic, "partition", o.Partition, "error", o.Err)
			return
		}
		out = append(out, PartitionOffset{Partition: o.Partition, Offset: o.Offset})
	})
	return out, nil
}

// Groups describes the given groups, or every group in the cluster when none
// are named. Member assignment and metadata are kept as raw bytes.
func (c *Client) Groups(ctx context.Context, groups ...string) ([]ConsumerGroup, error) {
	if len(groups) == 0 {
		listed, err := c.admin.ListGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list consumer groups: %w", err)
		}
		groups = listed.Groups()
	}
	if len(groups) == 0 {
		return nil, nil
	}

	req := kmsg.NewPtrDescribeGroupsRequest()
	req.Groups = groups

	var out []ConsumerGroup
	for _, shard := range c.client.RequestSharded(ctx, req) {
		if shard.Err != nil {
			return nil, fmt.Errorf("failed to describe consumer groups: %w", shard.Err)
		}
		resp, ok := shard.Resp.(*kmsg.DescribeGroupsResponse)
		if !ok {
			return nil, errors.New("unexpected response type")
		}

		for _, g := range resp.Groups {
			if err := kerr.ErrorForCode(g.ErrorCode); err != nil {
				slog.Warn("failed to describe consumer group", "group", g.Group, "error", err)
				continue
			}
			group := ConsumerGroup{
				Name:         g.Group,
				Protocol:     g.Protocol,
				ProtocolType: g.ProtocolType,
				State:        g.State,
			}
			for _, m := range g.Members {
				group.Members = append(group.Members, GroupMember{
					MemberID:   m.MemberID,
					ClientID:   m.ClientID,
					ClientHost: m.ClientHost,
					Assignment: m.MemberAssignment,
					Metadata:   m.ProtocolMetadata,
				})
			}
			out = append(out, group)
		}
	}
	return out, nil
}

// CommittedOffsets returns the offsets group has committed on topic.
func (c *Client) CommittedOffsets(ctx context.Context, group, topic string) ([]CommittedOffset, error) {
	resps, err := c.admin.FetchOffsets(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch committed offsets: %w", err)
	}

	var out []CommittedOffset
	for partition, resp := range resps[topic] {
		if resp.Err != nil {
			slog.Warn("skipping committed offset", "group", group, "topic", topic, "partition", partition, "error", resp.Err)
			continue
		}
		co := CommittedOffset{Partition: partition, Offset: resp.At}
		if resp.Metadata != "" {
			md := resp.Metadata
			co.Metadata = &md
		}
		out = append(out, co)
	}
	return out, nil
}

// TopicConfig describes the configuration of a topic.
func (c *Client) TopicConfig(ctx context.Context, topic string) ([]ConfigEntry, error) {
	configs, err := c.admin.DescribeTopicConfigs(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to describe topic config: %w", err)
	}
	return configEntries(configs)
}

// BrokerConfig describes the configuration of one broker.
func (c *Client) BrokerConfig(ctx context.Context, broker int32) ([]ConfigEntry, error) {
	configs, err := c.admin.DescribeBrokerConfigs(ctx, broker)
	if err != nil {
		return nil, fmt.Errorf("failed to describe broker config: %w", err)
	}
	return configEntries(configs)
}

func configEntries(configs kadm.ResourceConfigs) ([]ConfigEntry, error) {
	var out []ConfigEntry
	for _, rc := range configs {
		if rc.Err != nil {
			return nil, rc.Err
		}
		for _, cfg := range rc.Configs {
			out = append(out, ConfigEntry{
				Name:      cfg.Key,
				Value:     cfg.Value,
				Source:    cfg.Source.String(),
				Default:   cfg.Source == kmsg.ConfigSourceDefaultConfig,
				Sensitive: cfg.Sensitive,
			})
		}
	}
	return out, nil
}

// buildSASL creates SASL authentication options based on the mechanism
func buildSASL(cfg Config) (kgo.Opt, error) {
	switch strings.ToUpper(cfg.AuthMechanism) {
	case "PLAIN":
		return kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()), nil

	case "SCRAM-SHA-256":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha256Mechanism()
		return kgo.SASL(mechanism), nil

	case "SCRAM-SHA-512":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha512Mechanism()
		return kgo.SASL(mechanism), nil

	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.AuthMechanism)
	}
}

// buildTLS creates TLS configuration from the provided cert files
func buildTLS(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
