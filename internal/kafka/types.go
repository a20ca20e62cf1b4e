package kafka

import (
	"slices"
	"time"
)

// ClusterMetadata is a whole-cluster snapshot of brokers and topics.
type ClusterMetadata struct {
	Brokers    []BrokerInfo
	Controller int32
	Topics     map[string]TopicMetadata
	FetchedAt  time.Time
}

// TopicNames returns the topic names in sorted order.
func (m *ClusterMetadata) TopicNames() []string {
	names := make([]string, 0, len(m.Topics))
	for name := range m.Topics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TopicMetadata describes a topic and its partitions ordered by id.
type TopicMetadata struct {
	Name       string
	Internal   bool // System topics like __consumer_offsets
	Partitions []PartitionMetadata
}

// Partition returns the partition with the given id.
func (t TopicMetadata) Partition(id int32) (PartitionMetadata, bool) {
	for _, p := range t.Partitions {
		if p.ID == id {
			return p, true
		}
	}
	return PartitionMetadata{}, false
}

// PartitionMetadata describes one partition's placement.
type PartitionMetadata struct {
	ID       int32
	Leader   int32
	Replicas []int32
	ISR      []int32
	Error    string
}

// BrokerInfo contains metadata about a Kafka broker
type BrokerInfo struct {
	ID   int32
	Host string
	Port int32
	Rack string
}

// TopicOffsets holds the watermarks of one partition. High is exclusive.
type TopicOffsets struct {
	Partition int32 `json:"partition"`
	Low       int64 `json:"low"`
	High      int64 `json:"high"`
}

// PartitionOffset is one entry of a timestamp-indexed offset lookup.
type PartitionOffset struct {
	Partition int32
	Offset    int64
}

// ConsumerGroup is a described group with raw member payloads.
type ConsumerGroup struct {
	Name         string
	Protocol     string
	ProtocolType string
	State        string
	Members      []GroupMember
}

// GroupMember carries the opaque assignment and metadata bytes as returned
// by the group coordinator.
type GroupMember struct {
	MemberID   string
	ClientID   string
	ClientHost string
	Assignment []byte
	Metadata   []byte
}

// MemberAssignment is one topic entry of a parsed member assignment.
type MemberAssignment struct {
	Topic      string  `json:"topic"`
	Partitions []int32 `json:"partitions"`
}

// CommittedOffset is a group's committed position on one partition.
type CommittedOffset struct {
	Partition int32
	Offset    int64
	Metadata  *string
}

// ConfigEntry is one described topic or broker config.
type ConfigEntry struct {
	Name      string  `json:"name"`
	Value     *string `json:"value"`
	Source    string  `json:"source"`
	Default   bool    `json:"is_default"`
	Sensitive bool    `json:"is_sensitive"`
}

// Record is a consumed message. Key and Value are nil for null payloads.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
	// Control marks a transaction marker. It occupies an offset but carries
	// no user data.
	Control bool
}

// Config holds the configuration for connecting to Kafka
type Config struct {
	BootstrapServers string
	AuthMechanism    string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username         string
	Password         string
	TLSEnabled       bool // Enable TLS without client certificates
	TLSCertFile      string
	TLSKeyFile       string
	TLSCAFile        string
	QueryTimeout     time.Duration
}
