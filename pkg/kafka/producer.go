package kafka

import (
	"context"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Producer sends single records and waits for their delivery report
type Producer struct {
	producer *kafka.Producer
	config   *Config
}

// NewProducer creates a new producer
func NewProducer(cfg *Config) (*Producer, error) {
	cfg = cfg.withDefaults()

	cm, err := cfg.producerConfigMap()
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Producer{producer: producer, config: cfg}, nil
}

// Close flushes outstanding records and closes the producer
func (p *Producer) Close() {
	if p.producer != nil {
		p.producer.Flush(int(p.config.RequestTimeout.Milliseconds()))
		p.producer.Close()
	}
}

// Send produces one record to topic and blocks until it is acknowledged. The
// partition is chosen by the client's partitioner.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte, headers []Header) (TopicPartitionOffset, error) {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	deliveries := make(chan kafka.Event, 1)
	if err := p.producer.Produce(msg, deliveries); err != nil {
		return TopicPartitionOffset{}, classify(fmt.Sprintf("produce to %s", topic), err)
	}

	select {
	case <-ctx.Done():
		return TopicPartitionOffset{}, ctx.Err()
	case ev := <-deliveries:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return TopicPartitionOffset{}, fmt.Errorf("unexpected delivery event for %s: %v", topic, ev)
		}
		if m.TopicPartition.Error != nil {
			return TopicPartitionOffset{}, classify(fmt.Sprintf("deliver to %s", topic), m.TopicPartition.Error)
		}
		return TopicPartitionOffset{
			Topic:     topic,
			Partition: m.TopicPartition.Partition,
			Offset:    int64(m.TopicPartition.Offset),
		}, nil
	}
}
