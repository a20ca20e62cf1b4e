package explorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/ppiankov/krowser/internal/kafka"
)

func assignment(topics map[string][]int32) []byte {
	a := kmsg.NewConsumerMemberAssignment()
	for topic, partitions := range topics {
		at := kmsg.NewConsumerMemberAssignmentTopic()
		at.Topic = topic
		at.Partitions = partitions
		a.Topics = append(a.Topics, at)
	}
	return a.AppendTo(nil)
}

func strPtr(s string) *string { return &s }

func groupsFixture() *fakeBroker {
	b := newFakeBroker()
	b.addTopic("orders",
		kafka.TopicOffsets{Partition: 0, Low: 0, High: 100},
		kafka.TopicOffsets{Partition: 1, Low: 10, High: 50},
	)
	b.addTopic("payments", kafka.TopicOffsets{Partition: 0, Low: 0, High: 5})

	b.groups = []kafka.ConsumerGroup{
		{
			Name: "billing", Protocol: "range", ProtocolType: "consumer", State: "Stable",
			Members: []kafka.GroupMember{
				{MemberID: "billing-1", ClientID: "billing", ClientHost: "/10.0.0.1",
					Assignment: assignment(map[string][]int32{"orders": {0}})},
				{MemberID: "billing-2", ClientID: "billing", ClientHost: "/10.0.0.2",
					Assignment: assignment(map[string][]int32{"orders": {1}, "payments": {0}})},
			},
		},
		{
			Name: "audit", Protocol: "range", ProtocolType: "consumer", State: "Stable",
			Members: []kafka.GroupMember{
				{MemberID: "audit-1", Assignment: []byte{0, 0, 0, 0, 0, 1, 0, 9, 'o'}},
			},
		},
		{
			Name: "connect-sink", Protocol: "sessioned", ProtocolType: "connect", State: "Stable",
			Members: []kafka.GroupMember{
				{MemberID: "worker-1", Assignment: assignment(map[string][]int32{"orders": {0}})},
			},
		},
		{
			Name: "reporting", Protocol: "range", ProtocolType: "consumer", State: "Empty",
		},
	}
	b.committed["billing"] = []kafka.CommittedOffset{
		{Partition: 1, Offset: 40},
		{Partition: 0, Offset: 90, Metadata: strPtr("checkpoint")},
		{Partition: 7, Offset: 3},
	}
	return b
}

func TestTopicGroupsFindsConsumersOnce(t *testing.T) {
	b := groupsFixture()
	e := newTestExplorer(t, b, nil)

	groups, err := e.TopicGroups(context.Background(), "orders", false)
	require.NoError(t, err)
	require.Equal(t, []TopicConsumerGroup{
		{GroupID: "billing", Offsets: []ConsumerGroupOffsets{}},
	}, groups)
	require.Zero(t, b.callCount("committed"))
}

func TestTopicGroupsJoinsCommittedOffsets(t *testing.T) {
	b := groupsFixture()
	e := newTestExplorer(t, b, nil)

	groups, err := e.TopicGroups(context.Background(), "orders", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []ConsumerGroupOffsets{
		{
			Metadata:         strPtr("checkpoint"),
			Offset:           90,
			PartitionOffsets: kafka.TopicOffsets{Partition: 0, Low: 0, High: 100},
		},
		{
			Offset:           40,
			PartitionOffsets: kafka.TopicOffsets{Partition: 1, Low: 10, High: 50},
		},
	}, groups[0].Offsets)
}

func TestTopicGroupsCommittedOffsetFailure(t *testing.T) {
	b := groupsFixture()
	b.failNext("committed", kerr.GroupAuthorizationFailed)
	e := newTestExplorer(t, b, nil)

	// The group stays listed, without offsets.
	groups, err := e.TopicGroups(context.Background(), "orders", true)
	require.NoError(t, err)
	require.Equal(t, []TopicConsumerGroup{
		{GroupID: "billing", Offsets: []ConsumerGroupOffsets{}},
	}, groups)
	require.Equal(t, 1, b.callCount("committed"))
}

func TestTopicGroupsNoConsumers(t *testing.T) {
	e := newTestExplorer(t, groupsFixture(), nil)

	groups, err := e.TopicGroups(context.Background(), "unconsumed", false)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestGroupsCachedUntilTTL(t *testing.T) {
	ctx := context.Background()
	b := groupsFixture()
	e := newTestExplorer(t, b, nil)

	groups, err := e.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	require.Equal(t, "audit", groups[0].Name, "groups are sorted by name")

	_, err = e.TopicGroups(ctx, "payments", false)
	require.NoError(t, err)
	require.Equal(t, 1, b.callCount("groups"))

	_, err = e.RefreshGroups(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, b.callCount("groups"))
}

func TestGroupMembers(t *testing.T) {
	b := groupsFixture()
	b.groups[0].Members[0].Metadata = []byte{0xff, 0xfe}
	e := newTestExplorer(t, b, nil)

	members, err := e.GroupMembers(context.Background(), "billing")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "billing-1", members[0].MemberID)
	require.Equal(t, "/10.0.0.1", members[0].ClientHost)
	require.Equal(t, "Non-Utf8", members[0].Metadata)
	require.Equal(t, []kafka.MemberAssignment{{Topic: "orders", Partitions: []int32{0}}}, members[0].Assignments)

	_, err = e.GroupMembers(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualError(t, err, `group "missing" not found`)
}

func TestGroupMembersMalformedAssignment(t *testing.T) {
	e := newTestExplorer(t, groupsFixture(), nil)

	members, err := e.GroupMembers(context.Background(), "audit")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Nil(t, members[0].Assignments)
}
