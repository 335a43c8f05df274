package offsets

import (
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
)

// MockConn is a mock implementation of a group-bound connection
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Metadata(ctx context.Context, topic string) ([]kafkaclient.TopicMetadata, error) {
	args := m.Called(ctx, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafkaclient.TopicMetadata), args.Error(1)
}

func (m *MockConn) Committed(ctx context.Context, partitions []kafkaclient.TopicPartition) ([]kafkaclient.TopicPartitionOffset, error) {
	args := m.Called(ctx, partitions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafkaclient.TopicPartitionOffset), args.Error(1)
}

func (m *MockConn) Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	args := m.Called(ctx, topic, partition)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func TestCommittedOffsets_OneRequestForWholeUniverse(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)

	conn.On("Metadata", ctx, "").Return([]kafkaclient.TopicMetadata{
		{Name: "orders", Partitions: []int32{0, 1}},
		{Name: "payments", Partitions: []int32{0}},
	}, nil)

	universe := []kafkaclient.TopicPartition{
		{Topic: "orders", Partition: 0},
		{Topic: "orders", Partition: 1},
		{Topic: "payments", Partition: 0},
	}
	conn.On("Committed", ctx, universe).Return([]kafkaclient.TopicPartitionOffset{
		{Topic: "orders", Partition: 0, Offset: 42},
		{Topic: "orders", Partition: 1, Offset: kafkaclient.OffsetInvalid},
		{Topic: "payments", Partition: 0, Offset: 0},
	}, nil).Once()

	snapshot, err := CommittedOffsets(ctx, conn, "")

	require.NoError(t, err)
	conn.AssertExpectations(t)
	assert.Equal(t, Snapshot{
		{Topic: "orders", Partition: 0}:   42,
		{Topic: "payments", Partition: 0}: 0,
	}, snapshot)
	assert.Equal(t, []string{"orders", "payments"}, snapshot.Topics())
}

func TestCommittedOffsets_TopicFilter(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)

	conn.On("Metadata", ctx, "orders").Return([]kafkaclient.TopicMetadata{
		{Name: "orders", Partitions: []int32{0}},
	}, nil)
	conn.On("Committed", ctx, []kafkaclient.TopicPartition{{Topic: "orders", Partition: 0}}).
		Return([]kafkaclient.TopicPartitionOffset{{Topic: "orders", Partition: 0, Offset: 7}}, nil)

	snapshot, err := CommittedOffsets(ctx, conn, "orders")

	require.NoError(t, err)
	assert.Equal(t, int64(7), snapshot[kafkaclient.TopicPartition{Topic: "orders", Partition: 0}])
}

func TestCommittedOffsets_NoPartitionsSkipsCommittedRequest(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	conn.On("Metadata", ctx, "").Return([]kafkaclient.TopicMetadata{}, nil)

	snapshot, err := CommittedOffsets(ctx, conn, "")

	require.NoError(t, err)
	assert.Empty(t, snapshot)
	conn.AssertNotCalled(t, "Committed", mock.Anything, mock.Anything)
}

func TestCommittedOffsets_UnknownTopic(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	conn.On("Metadata", ctx, "missing").Return(nil, kafkaclient.ErrUnknownTopic)

	_, err := CommittedOffsets(ctx, conn, "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTopic))
	assert.False(t, errors.Is(err, ErrBroker))

	var pe *ProbeError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "fetch metadata", pe.Op)
}

func TestCommittedOffsets_BrokerError(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	cause := errors.New("connection refused")

	conn.On("Metadata", ctx, "").Return([]kafkaclient.TopicMetadata{{Name: "orders", Partitions: []int32{0}}}, nil)
	conn.On("Committed", ctx, mock.Anything).Return(nil, cause)

	_, err := CommittedOffsets(ctx, conn, "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBroker))
	assert.True(t, errors.Is(err, cause))
}

func TestWatermarks_SinglePartition(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	conn.On("Watermarks", ctx, "orders", int32(1)).Return(int64(100), int64(1000), nil).Once()

	w, err := Watermarks(ctx, conn, "orders", 1)

	require.NoError(t, err)
	assert.Equal(t, WatermarkPair{Low: 100, High: 1000}, w)
	assert.Equal(t, int64(900), w.Backlog())
	conn.AssertExpectations(t)
}

func TestTopicWatermark_SumsEachPartition(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	conn.On("Watermarks", ctx, "orders", int32(0)).Return(int64(10), int64(20), nil).Once()
	conn.On("Watermarks", ctx, "orders", int32(1)).Return(int64(5), int64(50), nil).Once()

	total, err := TopicWatermark(ctx, conn, "orders", []int32{0, 1})

	require.NoError(t, err)
	assert.Equal(t, WatermarkPair{Low: 15, High: 70}, total)
	conn.AssertNumberOfCalls(t, "Watermarks", 2)
}

func TestTopicWatermark_StopsOnError(t *testing.T) {
	ctx := context.Background()
	conn := new(MockConn)
	conn.On("Watermarks", ctx, "orders", int32(0)).Return(int64(0), int64(0), errors.New("timeout"))

	_, err := TopicWatermark(ctx, conn, "orders", []int32{0, 1})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBroker))
	conn.AssertNumberOfCalls(t, "Watermarks", 1)
}
