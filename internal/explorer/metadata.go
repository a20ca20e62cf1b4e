package explorer

import (
	"context"
	"fmt"

	"github.com/ppiankov/krowser/internal/kafka"
)

// TopicView is the JSON shape of a topic listing entry.
type TopicView struct {
	Name       string          `json:"name"`
	Internal   bool            `json:"internal"`
	Partitions []PartitionView `json:"partitions"`
}

// PartitionView is the JSON shape of a partition's placement.
type PartitionView struct {
	ErrorDescription *string `json:"error_description"`
	PartitionID      int32   `json:"partition_id"`
	Leader           int32   `json:"leader"`
	Replicas         []int32 `json:"replicas"`
	ISR              []int32 `json:"isr"`
}

// BrokerView is the JSON shape of a broker.
type BrokerView struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
	Rack string `json:"rack,omitempty"`
}

func (e *Explorer) fetchMetadata(ctx context.Context) (*kafka.ClusterMetadata, error) {
	var meta *kafka.ClusterMetadata
	err := e.retry(ctx, "fetching metadata", func() error {
		var err error
		meta, err = e.broker.Metadata(ctx)
		return err
	})
	return meta, err
}

// Metadata returns the cached cluster metadata.
func (e *Explorer) Metadata(ctx context.Context) (*kafka.ClusterMetadata, error) {
	return e.metadata.Get(ctx)
}

// RefreshMetadata fetches cluster metadata and replaces the cached copy.
func (e *Explorer) RefreshMetadata(ctx context.Context) (*kafka.ClusterMetadata, error) {
	return e.metadata.Refresh(ctx)
}

// Topics lists all topics sorted by name.
func (e *Explorer) Topics(ctx context.Context) ([]TopicView, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]TopicView, 0, len(meta.Topics))
	for _, name := range meta.TopicNames() {
		t := meta.Topics[name]
		view := TopicView{Name: t.Name, Internal: t.Internal, Partitions: make([]PartitionView, 0, len(t.Partitions))}
		for _, p := range t.Partitions {
			pv := PartitionView{
				PartitionID: p.ID,
				Leader:      p.Leader,
				Replicas:    p.Replicas,
				ISR:         p.ISR,
			}
			if p.Error != "" {
				desc := p.Error
				pv.ErrorDescription = &desc
			}
			view.Partitions = append(view.Partitions, pv)
		}
		out = append(out, view)
	}
	return out, nil
}

// Topic returns the metadata of one topic.
func (e *Explorer) Topic(ctx context.Context, topic string) (kafka.TopicMetadata, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return kafka.TopicMetadata{}, err
	}
	t, ok := meta.Topics[topic]
	if !ok {
		return kafka.TopicMetadata{}, fmt.Errorf("topic %q %w", topic, ErrNotFound)
	}
	return t, nil
}

// Brokers lists the brokers of the cluster.
func (e *Explorer) Brokers(ctx context.Context) ([]BrokerView, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BrokerView, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		out = append(out, BrokerView{ID: b.ID, Host: b.Host, Port: b.Port, Rack: b.Rack})
	}
	return out, nil
}

// ClusterView is the JSON shape of the cluster overview.
type ClusterView struct {
	Controller int32        `json:"controller"`
	Brokers    []BrokerView `json:"brokers"`
	Topics     int          `json:"topics"`
}

// Cluster summarizes the cluster: its brokers, controller and topic count.
func (e *Explorer) Cluster(ctx context.Context) (*ClusterView, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	brokers, err := e.Brokers(ctx)
	if err != nil {
		return nil, err
	}
	return &ClusterView{Controller: meta.Controller, Brokers: brokers, Topics: len(meta.Topics)}, nil
}

// TopicConfig describes the configuration of topic.
func (e *Explorer) TopicConfig(ctx context.Context, topic string) ([]kafka.ConfigEntry, error) {
	if _, err := e.Topic(ctx, topic); err != nil {
		return nil, err
	}
	var entries []kafka.ConfigEntry
	err := e.retry(ctx, "describing topic config", func() error {
		var err error
		entries, err = e.broker.TopicConfig(ctx, topic)
		return err
	})
	return entries, err
}

// BrokerConfig describes the configuration of a broker.
func (e *Explorer) BrokerConfig(ctx context.Context, broker int32) ([]kafka.ConfigEntry, error) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	known := false
	for _, b := range meta.Brokers {
		if b.ID == broker {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("broker %d %w", broker, ErrNotFound)
	}

	var entries []kafka.ConfigEntry
	err = e.retry(ctx, "describing broker config", func() error {
		var err error
		entries, err = e.broker.BrokerConfig(ctx, broker)
		return err
	})
	return entries, err
}
