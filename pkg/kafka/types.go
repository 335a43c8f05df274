package kafka

import (
	"time"
)

const (
	// OffsetInvalid marks a partition the group never committed to
	OffsetInvalid int64 = -1001
	// OffsetBeginning seeks to the earliest retained offset of a partition
	OffsetBeginning int64 = -2
	// OffsetEnd seeks past the last written offset of a partition
	OffsetEnd int64 = -1
)

// TopicPartition identifies a single partition of a topic
type TopicPartition struct {
	Topic     string
	Partition int32
}

// TopicPartitionOffset represents topic partition offset information
type TopicPartitionOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// IsCommitted reports whether the group has a committed position for the partition
func (o TopicPartitionOffset) IsCommitted() bool {
	return o.Offset != OffsetInvalid && o.Offset >= 0
}

// TopicMetadata lists the partitions of a topic as reported by the cluster
type TopicMetadata struct {
	Name       string
	Partitions []int32
}

// Header is a single record header; a nil Value means the header has no value
type Header struct {
	Key   string
	Value []byte
}

// Message is a record read from a partition
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
}

// RawGroup is a consumer group as described by its coordinator, with member
// assignments left in their wire form
type RawGroup struct {
	Name         string
	ProtocolType string
	State        string
	Members      []RawMember
}

// RawMember is one group member with its undecoded assignment payload
type RawMember struct {
	ID         string
	ClientID   string
	ClientHost string
	Assignment []byte
}
