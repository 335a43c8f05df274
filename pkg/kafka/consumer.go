package kafka

import (
	"context"
	"errors"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"sync"
	"time"
)

// Consumer wraps a librdkafka consumer bound to a single group id. It never
// subscribes: partitions are only ever assigned explicitly, so it does not
// join the group it is configured with.
type Consumer struct {
	consumer *kafka.Consumer
	config   *Config
	groupID  string

	closeOnce sync.Once
}

// NewConsumer creates a consumer configured with groupID
func NewConsumer(cfg *Config, groupID string) (*Consumer, error) {
	cfg = cfg.withDefaults()

	cm, err := cfg.consumerConfigMap(groupID, "kafkascope-"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for group %s: %w", groupID, err)
	}

	return &Consumer{
		consumer: consumer,
		config:   cfg,
		groupID:  groupID,
	}, nil
}

// GroupID returns the group id the consumer was created with
func (c *Consumer) GroupID() string {
	return c.groupID
}

// Close releases the underlying client. Safe to call more than once.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		if c.consumer != nil {
			_ = c.consumer.Close()
		}
	})
}

// timeoutMs bounds a librdkafka call by both the context deadline and the
// configured limit.
func timeoutMs(ctx context.Context, limit time.Duration) int {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < limit {
			limit = remaining
		}
	}
	if limit < time.Millisecond {
		limit = time.Millisecond
	}
	return int(limit.Milliseconds())
}

// Metadata returns partition metadata for topic, or for every topic when
// topic is empty
func (c *Consumer) Metadata(ctx context.Context, topic string) ([]TopicMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		md  *kafka.Metadata
		err error
	)
	if topic == "" {
		md, err = c.consumer.GetMetadata(nil, true, timeoutMs(ctx, c.config.MetadataTimeout))
	} else {
		md, err = c.consumer.GetMetadata(&topic, false, timeoutMs(ctx, c.config.MetadataTimeout))
	}
	if err != nil {
		return nil, classify("fetch metadata", err)
	}

	topics := make([]TopicMetadata, 0, len(md.Topics))
	for name, tm := range md.Topics {
		if tm.Error.Code() != kafka.ErrNoError {
			if topic != "" {
				return nil, classify(fmt.Sprintf("fetch metadata for topic %s", name), tm.Error)
			}
			continue
		}

		partitions := make([]int32, 0, len(tm.Partitions))
		for _, p := range tm.Partitions {
			partitions = append(partitions, p.ID)
		}
		topics = append(topics, TopicMetadata{Name: name, Partitions: partitions})
	}

	if topic != "" && len(topics) == 0 {
		return nil, fmt.Errorf("fetch metadata for topic %s: %w", topic, ErrUnknownTopic)
	}

	return topics, nil
}

// Committed returns the group's committed offsets for partitions. Partitions
// with no commit carry OffsetInvalid.
func (c *Consumer) Committed(ctx context.Context, partitions []TopicPartition) ([]TopicPartitionOffset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return nil, nil
	}

	tps := make([]kafka.TopicPartition, 0, len(partitions))
	for _, p := range partitions {
		topic := p.Topic
		tps = append(tps, kafka.TopicPartition{Topic: &topic, Partition: p.Partition})
	}

	committed, err := c.consumer.Committed(tps, timeoutMs(ctx, c.config.MetadataTimeout))
	if err != nil {
		return nil, classify("fetch committed offsets", err)
	}

	results := make([]TopicPartitionOffset, 0, len(committed))
	for _, tp := range committed {
		if tp.Topic == nil {
			continue
		}

		offset := int64(tp.Offset)
		if tp.Error != nil || tp.Offset == kafka.OffsetInvalid {
			offset = OffsetInvalid
		}

		results = append(results, TopicPartitionOffset{
			Topic:     *tp.Topic,
			Partition: tp.Partition,
			Offset:    offset,
		})
	}

	return results, nil
}

// Watermarks returns the low and high watermark for a topic partition
func (c *Consumer) Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	low, high, err := c.consumer.QueryWatermarkOffsets(topic, partition, timeoutMs(ctx, c.config.RequestTimeout))
	if err != nil {
		return 0, 0, classify(fmt.Sprintf("query watermarks for %s[%d]", topic, partition), err)
	}
	return low, high, nil
}

// Assign assigns partitions directly, bypassing group coordination
func (c *Consumer) Assign(partitions []TopicPartition) error {
	tps := make([]kafka.TopicPartition, 0, len(partitions))
	for _, p := range partitions {
		topic := p.Topic
		tps = append(tps, kafka.TopicPartition{Topic: &topic, Partition: p.Partition, Offset: kafka.OffsetInvalid})
	}

	if err := c.consumer.Assign(tps); err != nil {
		return classify("assign partitions", err)
	}
	return nil
}

// Seek moves an assigned partition to offset. OffsetBeginning and OffsetEnd
// are accepted as logical positions.
func (c *Consumer) Seek(tp TopicPartition, offset int64) error {
	topic := tp.Topic
	err := c.consumer.Seek(kafka.TopicPartition{
		Topic:     &topic,
		Partition: tp.Partition,
		Offset:    kafka.Offset(offset),
	}, 0)
	if err != nil {
		return classify(fmt.Sprintf("seek %s[%d] to %d", tp.Topic, tp.Partition, offset), err)
	}
	return nil
}

// Poll waits up to timeout for the next message. It returns (nil, nil) when
// nothing arrived in time.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := c.consumer.ReadMessage(time.Duration(timeoutMs(ctx, timeout)) * time.Millisecond)
	if err != nil {
		var ke kafka.Error
		if errors.As(err, &ke) && ke.IsTimeout() {
			return nil, nil
		}
		return nil, classify("poll", err)
	}

	out := &Message{
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Key:       msg.Key,
		Value:     msg.Value,
	}
	if msg.TimestampType != kafka.TimestampNotAvailable {
		out.Timestamp = msg.Timestamp
	}
	if msg.TopicPartition.Topic != nil {
		out.Topic = *msg.TopicPartition.Topic
	}
	for _, h := range msg.Headers {
		out.Headers = append(out.Headers, Header{Key: h.Key, Value: h.Value})
	}

	return out, nil
}

// Unassign drops every assigned partition
func (c *Consumer) Unassign() error {
	if err := c.consumer.Unassign(); err != nil {
		return classify("unassign", err)
	}
	return nil
}

// Commit synchronously commits offsets for the consumer's group
func (c *Consumer) Commit(ctx context.Context, offsets []TopicPartitionOffset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tps := make([]kafka.TopicPartition, 0, len(offsets))
	for _, o := range offsets {
		topic := o.Topic
		tps = append(tps, kafka.TopicPartition{
			Topic:     &topic,
			Partition: o.Partition,
			Offset:    kafka.Offset(o.Offset),
		})
	}

	committed, err := c.consumer.CommitOffsets(tps)
	if err != nil {
		return classify(fmt.Sprintf("commit offsets for group %s", c.groupID), err)
	}
	for _, tp := range committed {
		if tp.Error != nil {
			return classify(fmt.Sprintf("commit offsets for group %s", c.groupID), tp.Error)
		}
	}
	return nil
}
