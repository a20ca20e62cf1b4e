package kafka

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

// newFakeCluster starts an in-process cluster with topic "orders" (3
// partitions) and "empty" (1 partition), and writes n records to partition 0
// of "orders".
func newFakeCluster(t *testing.T, n int) *Client {
	t.Helper()

	cluster, err := kfake.NewCluster(
		kfake.NumBrokers(1),
		kfake.SeedTopics(3, "orders"),
		kfake.SeedTopics(1, "empty"),
	)
	if err != nil {
		t.Fatalf("start fake cluster: %v", err)
	}
	t.Cleanup(cluster.Close)

	addrs := strings.Join(cluster.ListenAddrs(), ",")

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cluster.ListenAddrs()...),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
	)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < n; i++ {
		rec := &kgo.Record{
			Topic:     "orders",
			Partition: 0,
			Key:       []byte(fmt.Sprintf("k%d", i)),
			Value:     []byte(fmt.Sprintf("v%d", i)),
		}
		if err := producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
			t.Fatalf("produce: %v", err)
		}
	}

	client, err := NewClient(ctx, Config{BootstrapServers: addrs, QueryTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClientMetadata(t *testing.T) {
	client := newFakeCluster(t, 0)

	meta, err := client.Metadata(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta.Brokers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(meta.Brokers))
	}

	orders, ok := meta.Topics["orders"]
	if !ok {
		t.Fatalf("topic orders missing from %v", meta.TopicNames())
	}
	if len(orders.Partitions) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(orders.Partitions))
	}
	for i, p := range orders.Partitions {
		if p.ID != int32(i) {
			t.Fatalf("partitions not sorted: %+v", orders.Partitions)
		}
	}
}

func TestClientWatermarks(t *testing.T) {
	client := newFakeCluster(t, 5)
	ctx := context.Background()

	got, err := client.Watermarks(ctx, "orders", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Low != 0 || got.High != 5 {
		t.Fatalf("watermarks = %+v, want low=0 high=5", got)
	}

	empty, err := client.Watermarks(ctx, "empty", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.Low != empty.High {
		t.Fatalf("empty partition watermarks = %+v, want low == high", empty)
	}
}

func TestClientListOffsets(t *testing.T) {
	client := newFakeCluster(t, 4)

	highs, err := client.ListOffsets(context.Background(), "orders", TimestampEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(highs) != 3 {
		t.Fatalf("expected 3 partitions, got %+v", highs)
	}
	for _, o := range highs {
		want := int64(0)
		if o.Partition == 0 {
			want = 4
		}
		if o.Offset != want {
			t.Fatalf("partition %d end offset = %d, want %d", o.Partition, o.Offset, want)
		}
	}
}

func TestClientConsume(t *testing.T) {
	client := newFakeCluster(t, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := client.Consume(ctx, "orders", 0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reader.Close()

	var got []Record
	for len(got) < 2 {
		recs, err := reader.Poll(ctx)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		got = append(got, recs...)
	}

	if got[0].Offset != 3 || string(got[0].Value) != "v3" {
		t.Fatalf("first record = %+v, want offset 3 value v3", got[0])
	}
	if got[1].Offset != 4 || string(got[1].Key) != "k4" {
		t.Fatalf("second record = %+v, want offset 4 key k4", got[1])
	}
}

func TestClientGroupsEmptyCluster(t *testing.T) {
	client := newFakeCluster(t, 0)

	groups, err := client.Groups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %+v", groups)
	}
}
