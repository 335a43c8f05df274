package cluster

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/catalog"
	"KafkaScope/internal/fetcher"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/offsets"
	"KafkaScope/internal/storage"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kbin"
	"testing"
	"time"
)

// MockAdmin is a mock implementation of the protocol client
type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) DescribeGroups(ctx context.Context) ([]kafkaclient.RawGroup, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafkaclient.RawGroup), args.Error(1)
}

func (m *MockAdmin) ListTopics(ctx context.Context) ([]kafkaclient.TopicMetadata, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafkaclient.TopicMetadata), args.Error(1)
}

func (m *MockAdmin) CreateTopic(ctx context.Context, name string, partitions int32, replicationFactor int16) error {
	return m.Called(ctx, name, partitions, replicationFactor).Error(0)
}

func (m *MockAdmin) DeleteTopic(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockAdmin) DeleteGroup(ctx context.Context, group string) error {
	return m.Called(ctx, group).Error(0)
}

func (m *MockAdmin) Close() {
	m.Called()
}

// MockConn is a mock consumer connection. It stands in for the metadata
// handle, probes, fetch connections and group connections alike.
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

func (m *MockConn) Watermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	args := m.Called(ctx, topic, partition)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockConn) Committed(ctx context.Context, partitions []kafkaclient.TopicPartition) ([]kafkaclient.TopicPartitionOffset, error) {
	args := m.Called(ctx, partitions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafkaclient.TopicPartitionOffset), args.Error(1)
}

func (m *MockConn) Commit(ctx context.Context, commits []kafkaclient.TopicPartitionOffset) error {
	return m.Called(ctx, commits).Error(0)
}

func (m *MockConn) Assign(partitions []kafkaclient.TopicPartition) error {
	return m.Called(partitions).Error(0)
}

func (m *MockConn) Seek(tp kafkaclient.TopicPartition, offset int64) error {
	return m.Called(tp, offset).Error(0)
}

func (m *MockConn) Poll(ctx context.Context, timeout time.Duration) (*kafkaclient.Message, error) {
	args := m.Called(ctx, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kafkaclient.Message), args.Error(1)
}

func (m *MockConn) Unassign() error {
	return m.Called().Error(0)
}

func (m *MockConn) Close() {
	m.Called()
}

// MockSender is a mock implementation of the producer
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, topic string, key, value []byte, headers []kafkaclient.Header) (kafkaclient.TopicPartitionOffset, error) {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Get(0).(kafkaclient.TopicPartitionOffset), args.Error(1)
}

func (m *MockSender) Close() {
	m.Called()
}

// MockFactory is a mock implementation of the connection factory
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) OpenProbe(ctx context.Context, groupID string) (aggregator.Probe, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(aggregator.Probe), args.Error(1)
}

func (m *MockFactory) OpenFetchConn(ctx context.Context) (fetcher.Conn, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(fetcher.Conn), args.Error(1)
}

func (m *MockFactory) OpenGroupConn(ctx context.Context, groupID string) (groupConn, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(groupConn), args.Error(1)
}

type testSession struct {
	*Session
	admin    *MockAdmin
	metadata *MockConn
	producer *MockSender
	factory  *MockFactory
}

var testOptions = Options{
	SelfGroupSuffix: "kafkascope",
	Fetch: fetcher.Config{
		SeekAttempts: 5,
		SeekBackoff:  time.Millisecond,
		Deadline: fetcher.DeadlinePolicy{
			InitialWait: 20 * time.Millisecond,
			IdleWait:    10 * time.Millisecond,
		},
	},
}

func newTestSession(history *storage.History) *testSession {
	return newNamedTestSession("local", history)
}

func newNamedTestSession(name string, history *storage.History) *testSession {
	ts := &testSession{
		admin:    new(MockAdmin),
		metadata: new(MockConn),
		producer: new(MockSender),
		factory:  new(MockFactory),
	}
	ts.Session = newSession(ConfigCluster{Name: name, Enabled: true, Brokers: []string{"localhost:9092"}},
		testOptions, ts.admin, ts.metadata, ts.producer, ts.factory, history)
	return ts
}

var clusterTopics = []kafkaclient.TopicMetadata{
	{Name: "orders", Partitions: []int32{0, 1}},
	{Name: "payments", Partitions: []int32{0}},
	{Name: "audit", Partitions: []int32{0}},
}

func assignmentBytes(topic string, partitions ...int32) []byte {
	b := kbin.AppendInt16(nil, 0)
	b = kbin.AppendArrayLen(b, 1)
	b = kbin.AppendString(b, topic)
	b = kbin.AppendArrayLen(b, len(partitions))
	for _, p := range partitions {
		b = kbin.AppendInt32(b, p)
	}
	return b
}

func newProbe(committed ...kafkaclient.TopicPartitionOffset) *MockConn {
	p := new(MockConn)
	p.On("Metadata", mock.Anything, "").Return(clusterTopics, nil)
	p.On("Committed", mock.Anything, offsets.Partitions(clusterTopics)).Return(committed, nil)
	p.On("Close").Return().Once()
	return p
}

func tpo(topic string, partition int32, offset int64) kafkaclient.TopicPartitionOffset {
	return kafkaclient.TopicPartitionOffset{Topic: topic, Partition: partition, Offset: offset}
}

func twoGroups() []kafkaclient.RawGroup {
	return []kafkaclient.RawGroup{
		{
			Name:         "orders-svc",
			ProtocolType: "consumer",
			Members: []kafkaclient.RawMember{
				{ID: "m-1", Assignment: assignmentBytes("orders", 0, 1)},
			},
		},
		{Name: "billing-archiver", ProtocolType: "consumer"},
	}
}

func TestSession_GroupReport(t *testing.T) {
	ctx := context.Background()
	ts := newTestSession(nil)

	ts.admin.On("DescribeGroups", mock.Anything).Return(twoGroups(), nil)

	ordersSvc := newProbe(tpo("orders", 0, 100))
	ordersSvc.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(0), int64(150), nil)

	archiver := newProbe(tpo("orders", 0, 40), tpo("orders", 1, 60))
	archiver.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(0), int64(150), nil)
	archiver.On("Watermarks", mock.Anything, "orders", int32(1)).Return(int64(10), int64(90), nil)

	ts.factory.On("OpenProbe", mock.Anything, "orders-svc").Return(ordersSvc, nil)
	ts.factory.On("OpenProbe", mock.Anything, "billing-archiver").Return(archiver, nil)

	rows, err := ts.GroupReport(ctx, "")

	require.NoError(t, err)
	assert.Equal(t, []GroupReportRow{
		{Name: "billing-archiver", State: aggregator.Disconnected, CumulativeLow: 100, CumulativeHigh: 240},
		{Name: "orders-svc", State: aggregator.Consuming, CumulativeLow: 100, CumulativeHigh: 150},
	}, rows)
	ordersSvc.AssertExpectations(t)
	archiver.AssertExpectations(t)
}

func TestSession_GroupReportError(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("DescribeGroups", mock.Anything).Return(nil, errors.New("broker down"))

	_, err := ts.GroupReport(context.Background(), "")
	assert.Error(t, err)
}

func TestSession_TopicReport(t *testing.T) {
	ctx := context.Background()
	ts := newTestSession(nil)

	ts.metadata.On("Metadata", mock.Anything, "").Return(clusterTopics, nil)
	ts.admin.On("DescribeGroups", mock.Anything).Return(twoGroups(), nil)
	ts.factory.On("OpenProbe", mock.Anything, "orders-svc").Return(newProbe(tpo("orders", 0, 100)), nil)
	ts.factory.On("OpenProbe", mock.Anything, "billing-archiver").Return(newProbe(tpo("payments", 0, 5)), nil)

	states, err := ts.TopicReport(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string]aggregator.State{
		"orders":   aggregator.Consuming,
		"payments": aggregator.Disconnected,
		"audit":    aggregator.Unconnected,
	}, states)
}

func TestSession_ReportMetricsArePerCluster(t *testing.T) {
	ctx := context.Background()
	prod := newNamedTestSession("prod", nil)
	dev := newNamedTestSession("dev", nil)

	prod.metadata.On("Metadata", mock.Anything, "").Return(clusterTopics, nil)
	prod.admin.On("DescribeGroups", mock.Anything).Return(twoGroups(), nil)
	prod.factory.On("OpenProbe", mock.Anything, "orders-svc").Return(newProbe(tpo("orders", 0, 100)), nil)
	prod.factory.On("OpenProbe", mock.Anything, "billing-archiver").Return(newProbe(), nil)

	dev.metadata.On("Metadata", mock.Anything, "").Return(clusterTopics, nil)
	dev.admin.On("DescribeGroups", mock.Anything).Return([]kafkaclient.RawGroup{
		{Name: "orders-svc", ProtocolType: "consumer"},
	}, nil)
	dev.factory.On("OpenProbe", mock.Anything, "orders-svc").Return(newProbe(), nil)

	_, err := prod.TopicReport(ctx)
	require.NoError(t, err)
	_, err = dev.TopicReport(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(aggregator.Consuming), testutil.ToFloat64(metrics.TopicState.WithLabelValues("prod", "orders")))
	assert.Equal(t, float64(aggregator.Unconnected), testutil.ToFloat64(metrics.TopicState.WithLabelValues("dev", "orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConsumerGroupMembers.WithLabelValues("prod", "orders-svc")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ConsumerGroupMembers.WithLabelValues("dev", "orders-svc")))

	dev.admin.On("DeleteTopic", mock.Anything, "orders").Return(nil)
	require.NoError(t, dev.DeleteTopic(ctx, "orders"))
	assert.Equal(t, float64(aggregator.Consuming), testutil.ToFloat64(metrics.TopicState.WithLabelValues("prod", "orders")))
}

func TestSession_ListTopicsHidesOffsetsTopic(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("ListTopics", mock.Anything).Return([]kafkaclient.TopicMetadata{
		{Name: OffsetsTopic, Partitions: []int32{0, 1, 2}},
		{Name: "orders", Partitions: []int32{0, 1}},
		{Name: "payments", Partitions: []int32{0}},
	}, nil)

	topics, err := ts.ListTopics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []TopicSummary{
		{Name: "orders", Partitions: 2},
		{Name: "payments", Partitions: 1},
	}, topics)
}

func TestSession_TopicWatermarks(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("ListTopics", mock.Anything).Return([]kafkaclient.TopicMetadata{
		{Name: OffsetsTopic, Partitions: []int32{0}},
		{Name: "orders", Partitions: []int32{0, 1}},
		{Name: "payments", Partitions: []int32{0}},
	}, nil)
	ts.metadata.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(5), int64(100), nil)
	ts.metadata.On("Watermarks", mock.Anything, "orders", int32(1)).Return(int64(0), int64(20), nil)
	ts.metadata.On("Watermarks", mock.Anything, "payments", int32(0)).Return(int64(0), int64(7), nil)

	watermarks, err := ts.TopicWatermarks(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]offsets.WatermarkPair{
		"orders":   {Low: 5, High: 120},
		"payments": {Low: 0, High: 7},
	}, watermarks)
	ts.metadata.AssertNotCalled(t, "Watermarks", mock.Anything, OffsetsTopic, mock.Anything)
}

func TestSession_TopicWatermarksError(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("ListTopics", mock.Anything).Return([]kafkaclient.TopicMetadata{
		{Name: "orders", Partitions: []int32{0}},
	}, nil)
	ts.metadata.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(0), int64(0), errors.New("timed out"))

	_, err := ts.TopicWatermarks(context.Background())
	assert.ErrorIs(t, err, offsets.ErrBroker)
}

func expectGroupConn(ts *testSession, group string) *MockConn {
	conn := new(MockConn)
	conn.On("Metadata", mock.Anything, "orders").Return([]kafkaclient.TopicMetadata{
		{Name: "orders", Partitions: []int32{0, 1}},
	}, nil)
	conn.On("Close").Return().Once()
	ts.factory.On("OpenGroupConn", mock.Anything, group).Return(conn, nil)
	return conn
}

func TestSession_CommitLatest(t *testing.T) {
	ts := newTestSession(nil)
	conn := expectGroupConn(ts, "billing")
	conn.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(0), int64(150), nil)
	conn.On("Watermarks", mock.Anything, "orders", int32(1)).Return(int64(10), int64(90), nil)

	expected := []kafkaclient.TopicPartitionOffset{tpo("orders", 0, 150), tpo("orders", 1, 90)}
	conn.On("Commit", mock.Anything, expected).Return(nil).Once()

	commits, err := ts.CommitLatest(context.Background(), "billing", "orders")

	require.NoError(t, err)
	assert.Equal(t, expected, commits)
	conn.AssertExpectations(t)
}

func TestSession_SeekEarliest(t *testing.T) {
	ts := newTestSession(nil)
	conn := expectGroupConn(ts, "billing")

	expected := []kafkaclient.TopicPartitionOffset{tpo("orders", 0, 0), tpo("orders", 1, 0)}
	conn.On("Commit", mock.Anything, expected).Return(nil).Once()

	commits, err := ts.SeekEarliest(context.Background(), "billing", "orders")

	require.NoError(t, err)
	assert.Equal(t, expected, commits)
	conn.AssertNotCalled(t, "Watermarks", mock.Anything, mock.Anything, mock.Anything)
	conn.AssertExpectations(t)
}

func TestSession_ResetOffsetsCommitFailureClosesConn(t *testing.T) {
	ts := newTestSession(nil)
	conn := expectGroupConn(ts, "billing")
	conn.On("Commit", mock.Anything, mock.Anything).Return(errors.New("rebalance in progress"))

	_, err := ts.SeekEarliest(context.Background(), "billing", "orders")

	assert.Error(t, err)
	conn.AssertCalled(t, "Close")
}

func TestSession_ResetOffsetsRequiresGroupAndTopic(t *testing.T) {
	ts := newTestSession(nil)

	_, err := ts.CommitLatest(context.Background(), "", "orders")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ts.SeekEarliest(context.Background(), "billing", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSession_CreateTopicDefaults(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("CreateTopic", mock.Anything, "orders", int32(1), int16(1)).Return(nil).Once()
	ts.admin.On("CreateTopic", mock.Anything, "payments", int32(6), int16(3)).Return(nil).Once()

	require.NoError(t, ts.CreateTopic(context.Background(), "orders", 0, 0))
	require.NoError(t, ts.CreateTopic(context.Background(), "payments", 6, 3))
	assert.ErrorIs(t, ts.CreateTopic(context.Background(), "", 1, 1), ErrInvalidArgument)
	assert.ErrorIs(t, ts.CreateTopic(context.Background(), "audit", -1, 1), ErrInvalidArgument)
	ts.admin.AssertExpectations(t)
}

func TestSession_DeleteGroupAndTopic(t *testing.T) {
	ts := newTestSession(nil)
	ts.admin.On("DeleteGroup", mock.Anything, "billing").Return(nil).Once()
	ts.admin.On("DeleteTopic", mock.Anything, "orders").Return(errors.New("unknown topic")).Once()

	assert.NoError(t, ts.DeleteGroup(context.Background(), "billing"))
	assert.Error(t, ts.DeleteTopic(context.Background(), "orders"))
	ts.admin.AssertExpectations(t)
}

func TestSession_SendMessage(t *testing.T) {
	ts := newTestSession(nil)
	headers := []kafkaclient.Header{{Key: "trace", Value: []byte("abc")}}
	ts.producer.On("Send", mock.Anything, "orders", []byte("k"), []byte("v"), headers).
		Return(tpo("orders", 1, 42), nil).Once()

	delivered, err := ts.SendMessage(context.Background(), "orders", []byte("k"), []byte("v"), headers)

	require.NoError(t, err)
	assert.Equal(t, tpo("orders", 1, 42), delivered)

	_, err = ts.SendMessage(context.Background(), "", nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func expectFetch(ts *testSession, messages ...*kafkaclient.Message) *MockConn {
	conn := new(MockConn)
	tp := kafkaclient.TopicPartition{Topic: "orders", Partition: 0}
	conn.On("Metadata", mock.Anything, "orders").Return([]kafkaclient.TopicMetadata{
		{Name: "orders", Partitions: []int32{0}},
	}, nil)
	conn.On("Assign", []kafkaclient.TopicPartition{tp}).Return(nil)
	conn.On("Watermarks", mock.Anything, "orders", int32(0)).Return(int64(0), int64(len(messages)), nil)
	conn.On("Seek", tp, kafkaclient.OffsetBeginning).Return(nil)
	for _, msg := range messages {
		conn.On("Poll", mock.Anything, mock.Anything).Return(msg, nil).Once()
	}
	conn.On("Poll", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Unassign").Return(nil).Once()
	conn.On("Close").Return().Once()
	ts.factory.On("OpenFetchConn", mock.Anything).Return(conn, nil)
	return conn
}

func TestSession_RecentMessagesUpdatesHistory(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ts := newTestSession(storage.NewHistory(store, 10))
	conn := expectFetch(ts,
		&kafkaclient.Message{Topic: "orders", Partition: 0, Offset: 0, Value: []byte(`{"id":1}`), Timestamp: time.UnixMilli(1000)},
		&kafkaclient.Message{Topic: "orders", Partition: 0, Offset: 1, Value: []byte("shipped"), Timestamp: time.UnixMilli(2000)},
	)

	records, err := ts.RecentMessages(ctx, "orders", 5)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Offset)
	assert.Equal(t, "shipped", records[0].Value.String())

	history, err := ts.MessageHistory(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	raw, err := store.Get(ctx, storage.BucketMessages, "local/orders")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	conn.AssertExpectations(t)
}

func TestSession_RecentMessagesRejectsNegativeCount(t *testing.T) {
	ts := newTestSession(nil)

	_, err := ts.RecentMessages(context.Background(), "orders", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ts.LiveMessages(context.Background(), "orders", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSession_MessageHistoryWithoutStore(t *testing.T) {
	ts := newTestSession(nil)

	history, err := ts.MessageHistory(context.Background(), "orders")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSession_Close(t *testing.T) {
	ts := newTestSession(nil)
	ts.producer.On("Close").Return().Once()
	ts.metadata.On("Close").Return().Once()
	ts.admin.On("Close").Return().Once()

	ts.Close()

	ts.producer.AssertExpectations(t)
	ts.metadata.AssertExpectations(t)
	ts.admin.AssertExpectations(t)
}

func TestSelfGroupID(t *testing.T) {
	id := selfGroupID("kafkascope")
	assert.NotEqual(t, id, selfGroupID("kafkascope"))
	assert.True(t, catalog.IsSelfGroup(id, "kafkascope"))
	assert.False(t, catalog.IsSelfGroup(selfGroupID(""), "kafkascope"))
}
