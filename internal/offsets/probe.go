package offsets

import (
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"fmt"
	"sort"
)

// MetadataReader lists topics and their partitions
type MetadataReader interface {
	// Metadata returns one topic, or every topic when topic is empty
	Metadata(ctx context.Context, topic string) ([]kafkaclient.TopicMetadata, error)
}

// WatermarkReader reads the low and high watermark of one partition
type WatermarkReader interface {
	Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error)
}

// Conn is the part of a group-bound broker connection the probe uses
type Conn interface {
	MetadataReader
	WatermarkReader
	Committed(ctx context.Context, partitions []kafkaclient.TopicPartition) ([]kafkaclient.TopicPartitionOffset, error)
}

// Snapshot maps each partition the group has committed to its committed
// offset. Partitions without a commit are absent.
type Snapshot map[kafkaclient.TopicPartition]int64

// Topics returns the distinct topics in the snapshot, sorted
func (s Snapshot) Topics() []string {
	seen := make(map[string]struct{}, len(s))
	for tp := range s {
		seen[tp.Topic] = struct{}{}
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// WatermarkPair is the low and high watermark of a partition, or the
// element-wise sum over several partitions
type WatermarkPair struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Add returns the element-wise sum of two pairs
func (w WatermarkPair) Add(o WatermarkPair) WatermarkPair {
	return WatermarkPair{Low: w.Low + o.Low, High: w.High + o.High}
}

// Backlog is the number of messages between Low and High
func (w WatermarkPair) Backlog() int64 {
	if w.High < w.Low {
		return 0
	}
	return w.High - w.Low
}

// Partitions lists every partition of the given topics
func Partitions(topics []kafkaclient.TopicMetadata) []kafkaclient.TopicPartition {
	var universe []kafkaclient.TopicPartition
	for _, t := range topics {
		for _, p := range t.Partitions {
			universe = append(universe, kafkaclient.TopicPartition{Topic: t.Name, Partition: p})
		}
	}
	return universe
}

// CommittedOffsets returns the committed offsets of the group conn is bound
// to, over every partition of topicFilter or of the whole cluster when the
// filter is empty. It costs one metadata request and one committed-offsets
// request.
func CommittedOffsets(ctx context.Context, conn Conn, topicFilter string) (Snapshot, error) {
	topics, err := conn.Metadata(ctx, topicFilter)
	if err != nil {
		return nil, newProbeError("fetch metadata", err)
	}

	universe := Partitions(topics)
	snapshot := make(Snapshot, len(universe))
	if len(universe) == 0 {
		return snapshot, nil
	}

	committed, err := conn.Committed(ctx, universe)
	if err != nil {
		return nil, newProbeError("fetch committed offsets", err)
	}

	for _, c := range committed {
		if !c.IsCommitted() {
			continue
		}
		snapshot[kafkaclient.TopicPartition{Topic: c.Topic, Partition: c.Partition}] = c.Offset
	}

	return snapshot, nil
}

// Watermarks returns the watermarks of a single partition. It is one request;
// summing over a topic is left to the caller.
func Watermarks(ctx context.Context, conn WatermarkReader, topic string, partition int32) (WatermarkPair, error) {
	low, high, err := conn.Watermarks(ctx, topic, partition)
	if err != nil {
		return WatermarkPair{}, newProbeError(fmt.Sprintf("query watermarks for %s[%d]", topic, partition), err)
	}
	return WatermarkPair{Low: low, High: high}, nil
}

// TopicWatermark sums the watermarks of partitions, one request per partition
func TopicWatermark(ctx context.Context, conn WatermarkReader, topic string, partitions []int32) (WatermarkPair, error) {
	var total WatermarkPair
	for _, p := range partitions {
		w, err := Watermarks(ctx, conn, topic, p)
		if err != nil {
			return WatermarkPair{}, err
		}
		total = total.Add(w)
	}
	return total, nil
}
