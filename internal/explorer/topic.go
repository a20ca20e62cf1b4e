package explorer

import (
	"context"
	"fmt"

	"github.com/ppiankov/krowser/internal/kafka"
)

// TopicDetail is a topic's watermarks and the consumer groups reading it,
// with their committed offsets.
type TopicDetail struct {
	Offsets        []kafka.TopicOffsets `json:"offsets"`
	ConsumerGroups []TopicConsumerGroup `json:"consumer_groups"`
}

func (e *Explorer) fetchTopicDetail(ctx context.Context, topic string) (*TopicDetail, error) {
	offsets, err := e.Offsets(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("topic offsets: %w", err)
	}
	groups, err := e.topicGroups(ctx, topic, offsets, true)
	if err != nil {
		return nil, fmt.Errorf("topic consumer groups: %w", err)
	}
	return &TopicDetail{Offsets: offsets, ConsumerGroups: groups}, nil
}

// TopicDetail returns the cached detail of topic.
func (e *Explorer) TopicDetail(ctx context.Context, topic string) (*TopicDetail, error) {
	if _, err := e.Topic(ctx, topic); err != nil {
		return nil, err
	}
	return e.topics.Get(ctx, topic)
}

// RefreshTopic fetches the detail of topic and replaces the cached copy.
func (e *Explorer) RefreshTopic(ctx context.Context, topic string) (*TopicDetail, error) {
	return e.topics.Refresh(ctx, topic)
}

// ForgetTopic drops the cached detail of topic.
func (e *Explorer) ForgetTopic(topic string) {
	e.topics.Delete(topic)
}
