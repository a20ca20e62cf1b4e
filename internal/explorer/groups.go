package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/ppiankov/krowser/internal/kafka"
)

// consumerProtocol is the protocol type of groups formed by Kafka consumers.
// Other group types (connect, streams leaders) use different assignments.
const consumerProtocol = "consumer"

// ConsumerGroupOffsets joins a committed offset to its partition watermarks.
type ConsumerGroupOffsets struct {
	Metadata         *string            `json:"metadata"`
	Offset           int64              `json:"offset"`
	PartitionOffsets kafka.TopicOffsets `json:"partition_offsets"`
}

// TopicConsumerGroup is a group consuming a topic.
type TopicConsumerGroup struct {
	GroupID string                 `json:"group_id"`
	Offsets []ConsumerGroupOffsets `json:"offsets"`
}

// GroupView is the JSON shape of a group listing entry.
type GroupView struct {
	Name         string       `json:"name"`
	Protocol     string       `json:"protocol"`
	ProtocolType string       `json:"protocol_type"`
	State        string       `json:"state"`
	Members      []MemberView `json:"members"`
}

// MemberView is the JSON shape of a group member. Assignment and Metadata
// carry the raw payloads when they are valid UTF-8.
type MemberView struct {
	MemberID    string                   `json:"member_id"`
	ClientID    string                   `json:"client_id"`
	ClientHost  string                   `json:"client_host"`
	Metadata    string                   `json:"metadata"`
	Assignment  string                   `json:"assignment"`
	Assignments []kafka.MemberAssignment `json:"assignments,omitempty"`
}

func (e *Explorer) fetchGroups(ctx context.Context) ([]kafka.ConsumerGroup, error) {
	var groups []kafka.ConsumerGroup
	err := e.retry(ctx, "fetching groups", func() error {
		var err error
		groups, err = e.broker.Groups(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// RefreshGroups fetches the group listing and replaces the cached copy.
func (e *Explorer) RefreshGroups(ctx context.Context) ([]kafka.ConsumerGroup, error) {
	return e.groups.Refresh(ctx)
}

// Groups lists all consumer groups with their members.
func (e *Explorer) Groups(ctx context.Context) ([]GroupView, error) {
	groups, err := e.groups.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupView{
			Name:         g.Name,
			Protocol:     g.Protocol,
			ProtocolType: g.ProtocolType,
			State:        g.State,
			Members:      memberViews(g),
		})
	}
	return out, nil
}

// GroupMembers lists the members of one group.
func (e *Explorer) GroupMembers(ctx context.Context, group string) ([]MemberView, error) {
	groups, err := e.groups.Get(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Name == group {
			return memberViews(g), nil
		}
	}
	return nil, fmt.Errorf("group %q %w", group, ErrNotFound)
}

func memberViews(g kafka.ConsumerGroup) []MemberView {
	out := make([]MemberView, 0, len(g.Members))
	for _, m := range g.Members {
		view := MemberView{
			MemberID:   m.MemberID,
			ClientID:   m.ClientID,
			ClientHost: m.ClientHost,
			Metadata:   displayBytes(m.Metadata),
			Assignment: displayBytes(m.Assignment),
		}
		if g.ProtocolType == consumerProtocol && len(m.Assignment) > 0 {
			if parsed, err := kafka.ParseAssignment(m.Assignment); err == nil {
				view.Assignments = parsed
			}
		}
		out = append(out, view)
	}
	return out
}

func displayBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return "Non-Utf8"
}

// TopicGroups returns the consumer groups with a member assigned to topic.
// With committed set, each group's committed offsets on topic are fetched
// and joined to the topic's watermarks.
func (e *Explorer) TopicGroups(ctx context.Context, topic string, committed bool) ([]TopicConsumerGroup, error) {
	var watermarks []kafka.TopicOffsets
	if committed {
		var err error
		watermarks, err = e.Offsets(ctx, topic)
		if err != nil {
			return nil, err
		}
	}
	return e.topicGroups(ctx, topic, watermarks, committed)
}

func (e *Explorer) topicGroups(ctx context.Context, topic string, watermarks []kafka.TopicOffsets, committed bool) ([]TopicConsumerGroup, error) {
	groups, err := e.groups.Get(ctx)
	if err != nil {
		return nil, err
	}

	out := []TopicConsumerGroup{}
	for _, g := range groups {
		if g.ProtocolType != consumerProtocol {
			slog.Debug("skipping non-consumer group", "group", g.Name, "protocol_type", g.ProtocolType)
			continue
		}
		if !consumesTopic(g, topic) {
			continue
		}

		tg := TopicConsumerGroup{GroupID: g.Name, Offsets: []ConsumerGroupOffsets{}}
		if committed {
			offsets, err := e.committedOffsets(ctx, g.Name, topic, watermarks)
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case err != nil:
				// The group is listed without offsets.
				slog.Warn("failed to fetch committed offsets, skipping",
					"group", g.Name, "topic", topic, "error", err)
			default:
				tg.Offsets = offsets
			}
		}
		out = append(out, tg)
	}
	return out, nil
}

func consumesTopic(g kafka.ConsumerGroup, topic string) bool {
	for _, m := range g.Members {
		if len(m.Assignment) == 0 {
			continue
		}
		assignments, err := kafka.ParseAssignment(m.Assignment)
		if err != nil {
			slog.Warn("failed to parse member assignment",
				"group", g.Name, "member", m.MemberID, "error", err)
			continue
		}
		for _, a := range assignments {
			if a.Topic == topic {
				return true
			}
		}
	}
	return false
}

func (e *Explorer) committedOffsets(ctx context.Context, group, topic string, watermarks []kafka.TopicOffsets) ([]ConsumerGroupOffsets, error) {
	var committed []kafka.CommittedOffset
	err := e.retry(ctx, "fetching committed offsets", func() error {
		var err error
		committed, err = e.broker.CommittedOffsets(ctx, group, topic)
		return err
	})
	if err != nil {
		return nil, err
	}

	byPartition := make(map[int32]kafka.TopicOffsets, len(watermarks))
	for _, w := range watermarks {
		byPartition[w.Partition] = w
	}

	out := make([]ConsumerGroupOffsets, 0, len(committed))
	for _, c := range committed {
		wm, ok := byPartition[c.Partition]
		if !ok {
			slog.Warn("no watermarks for committed partition, skipping",
				"group", group, "topic", topic, "partition", c.Partition)
			continue
		}
		out = append(out, ConsumerGroupOffsets{Metadata: c.Metadata, Offset: c.Offset, PartitionOffsets: wm})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PartitionOffsets.Partition < out[j].PartitionOffsets.Partition
	})
	return out, nil
}
