package cluster

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/catalog"
	"KafkaScope/internal/fetcher"
	"KafkaScope/internal/logger"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/offsets"
	"KafkaScope/internal/storage"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
	"sort"
	"time"
)

// OffsetsTopic is the internal topic holding committed offsets
const OffsetsTopic = "__consumer_offsets"

var (
	// ErrInvalidArgument is returned for malformed operation parameters
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAutosendNotFound is returned when stopping an unknown auto-publisher
	ErrAutosendNotFound = errors.New("autosend not found")
)

// Options are the settings shared by every session a Manager opens
type Options struct {
	SelfGroupSuffix string
	RequestTimeout  time.Duration
	MetadataTimeout time.Duration
	Aggregator      aggregator.Config
	Fetch           fetcher.Config
}

// adminClient is the protocol client used for group descriptions and administration
type adminClient interface {
	catalog.Lister
	ListTopics(ctx context.Context) ([]kafkaclient.TopicMetadata, error)
	CreateTopic(ctx context.Context, name string, partitions int32, replicationFactor int16) error
	DeleteTopic(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, group string) error
	Close()
}

// metadataConn is the long-lived consumer handle of a session
type metadataConn interface {
	offsets.MetadataReader
	offsets.WatermarkReader
	Close()
}

type sender interface {
	Send(ctx context.Context, topic string, key, value []byte, headers []kafkaclient.Header) (kafkaclient.TopicPartitionOffset, error)
	Close()
}

// groupConn commits offsets on behalf of one group
type groupConn interface {
	offsets.MetadataReader
	offsets.WatermarkReader
	Commit(ctx context.Context, offsets []kafkaclient.TopicPartitionOffset) error
	Close()
}

// connFactory opens the short-lived connections of a session
type connFactory interface {
	aggregator.ProbeFactory
	fetcher.Opener
	OpenGroupConn(ctx context.Context, groupID string) (groupConn, error)
}

// Session is an open connection to one cluster. It owns the long-lived
// handles and opens one short-lived connection per probed group or fetch.
type Session struct {
	name       string
	config     ConfigCluster
	admin      adminClient
	metadata   metadataConn
	producer   sender
	factory    connFactory
	aggregator *aggregator.Aggregator
	fetcher    *fetcher.Fetcher
	history    *storage.History
	autosend   *autosender
	openedAt   time.Time
	log        zerolog.Logger

	// concurrency bounds the watermark tasks of TopicWatermarks; 0 is unbounded
	concurrency int
}

// GroupReportRow is one line of the group report
type GroupReportRow struct {
	Name           string           `json:"name"`
	State          aggregator.State `json:"state"`
	CumulativeLow  int64            `json:"cumulative_low"`
	CumulativeHigh int64            `json:"cumulative_high"`
}

// TopicSummary describes one topic of the cluster
type TopicSummary struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
}

// Open connects to the cluster described by cc and checks the connection by
// listing its groups once. history may be nil.
func Open(ctx context.Context, cc ConfigCluster, opts Options, history *storage.History) (*Session, error) {
	kcfg := cc.kafkaConfig(opts)

	client, err := kafkaclient.NewClient(kcfg,
		kgo.WithHooks(metrics.NewClientMetrics(cc.Name)),
		kgo.WithLogger(logger.Kafka()),
	)
	if err != nil {
		return nil, err
	}

	consumer, err := kafkaclient.NewConsumer(kcfg, selfGroupID(opts.SelfGroupSuffix))
	if err != nil {
		client.Close()
		return nil, err
	}

	producer, err := kafkaclient.NewProducer(kcfg)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, err
	}

	factory := &consumerFactory{config: kcfg, selfSuffix: opts.SelfGroupSuffix}
	s := newSession(cc, opts, client, consumer, producer, factory, history)

	if _, err := client.DescribeGroups(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to cluster %s: %w", cc.Name, err)
	}

	s.log.Info().Strs("brokers", cc.Brokers).Msg("session opened")
	return s, nil
}

func newSession(cc ConfigCluster, opts Options, admin adminClient, metadata metadataConn, producer sender,
	factory connFactory, history *storage.History) *Session {

	aggCfg := opts.Aggregator
	aggCfg.Cluster = cc.Name
	aggCfg.SelfGroupSuffix = opts.SelfGroupSuffix

	return &Session{
		name:       cc.Name,
		config:     cc,
		admin:      admin,
		metadata:   metadata,
		producer:   producer,
		factory:    factory,
		aggregator: aggregator.New(admin, metadata, factory, aggCfg),
		fetcher:    fetcher.New(factory, opts.Fetch),
		history:    history,
		autosend:   newAutosender(producer),
		openedAt:   time.Now(),
		log:        logger.WithComponent("session").With().Str("cluster", cc.Name).Logger(),

		concurrency: opts.Aggregator.MaxConcurrency,
	}
}

// selfGroupID returns a group id that group reports exclude
func selfGroupID(suffix string) string {
	if suffix == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "-" + suffix
}

// Name returns the cluster name
func (s *Session) Name() string {
	return s.name
}

// Config returns the connection settings the session was opened with
func (s *Session) Config() ConfigCluster {
	return s.config
}

// Close stops every auto-publisher and closes the long-lived handles
func (s *Session) Close() {
	s.autosend.stopAll()
	s.producer.Close()
	s.metadata.Close()
	s.admin.Close()
	s.log.Info().Msg("session closed")
}

// GroupReport classifies every consumer group, optionally restricted to the
// committed offsets and assignments of one topic. Rows are sorted by name.
func (s *Session) GroupReport(ctx context.Context, topic string) ([]GroupReportRow, error) {
	result, err := s.aggregator.Aggregate(ctx, aggregator.ByGroup, topic)
	if err != nil {
		return nil, err
	}

	rows := make([]GroupReportRow, 0, len(result.States))
	for name, state := range result.States {
		w := result.Watermarks[name]
		rows = append(rows, GroupReportRow{
			Name:           name,
			State:          state,
			CumulativeLow:  w.Low,
			CumulativeHigh: w.High,
		})
		if topic == "" {
			metrics.ConsumerGroupState.WithLabelValues(s.name, name).Set(float64(state))
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Name < rows[j].Name
	})

	return rows, nil
}

// TopicReport classifies every topic of the cluster
func (s *Session) TopicReport(ctx context.Context) (map[string]aggregator.State, error) {
	result, err := s.aggregator.Aggregate(ctx, aggregator.ByTopic, "")
	if err != nil {
		return nil, err
	}

	for topic, state := range result.States {
		metrics.TopicState.WithLabelValues(s.name, topic).Set(float64(state))
	}
	return result.States, nil
}

// RecentMessages returns up to n of the latest messages of topic. When a
// history is configured the records are also merged into it.
func (s *Session) RecentMessages(ctx context.Context, topic string, n int64) ([]fetcher.MessageRecord, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: message count must not be negative", ErrInvalidArgument)
	}

	records, err := s.fetcher.FetchRecent(ctx, topic, n, s.fetcher.Policy())
	if err != nil {
		return nil, err
	}

	if s.history != nil && len(records) > 0 {
		if _, err := s.history.Append(ctx, s.historyKey(topic), records); err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("failed to update message history")
		}
	}
	return records, nil
}

// LiveMessages starts from the latest n messages of topic and keeps
// delivering new ones until ctx is cancelled
func (s *Session) LiveMessages(ctx context.Context, topic string, n int64) (*fetcher.LiveStream, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: message count must not be negative", ErrInvalidArgument)
	}
	return s.fetcher.Stream(ctx, topic, n)
}

// MessageHistory returns the stored records of topic, newest first
func (s *Session) MessageHistory(ctx context.Context, topic string) ([]fetcher.MessageRecord, error) {
	if s.history == nil {
		return []fetcher.MessageRecord{}, nil
	}
	return s.history.Get(ctx, s.historyKey(topic))
}

func (s *Session) historyKey(topic string) string {
	return s.name + "/" + topic
}

// ListTopics lists the topics of the cluster, without the offsets topic
func (s *Session) ListTopics(ctx context.Context) ([]TopicSummary, error) {
	topics, err := s.admin.ListTopics(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]TopicSummary, 0, len(topics))
	for _, t := range topics {
		if t.Name == OffsetsTopic {
			continue
		}
		summaries = append(summaries, TopicSummary{Name: t.Name, Partitions: len(t.Partitions)})
	}
	return summaries, nil
}

// TopicWatermarks sums the watermarks of every listed topic, one task per topic
func (s *Session) TopicWatermarks(ctx context.Context) (map[string]offsets.WatermarkPair, error) {
	topics, err := s.admin.ListTopics(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]offsets.WatermarkPair, len(topics))
	eg, egCtx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		eg.SetLimit(s.concurrency)
	}

	for i, t := range topics {
		if t.Name == OffsetsTopic {
			continue
		}
		eg.Go(func() error {
			w, err := offsets.TopicWatermark(egCtx, s.metadata, t.Name, t.Partitions)
			if err != nil {
				return err
			}
			results[i] = w
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]offsets.WatermarkPair, len(topics))
	for i, t := range topics {
		if t.Name == OffsetsTopic {
			continue
		}
		out[t.Name] = results[i]
	}
	return out, nil
}

// CommitLatest moves group to the end of every partition of topic
func (s *Session) CommitLatest(ctx context.Context, group, topic string) ([]kafkaclient.TopicPartitionOffset, error) {
	return s.resetOffsets(ctx, group, topic, func(w offsets.WatermarkPair) int64 {
		return w.High
	})
}

// SeekEarliest moves group to offset 0 on every partition of topic
func (s *Session) SeekEarliest(ctx context.Context, group, topic string) ([]kafkaclient.TopicPartitionOffset, error) {
	return s.resetOffsets(ctx, group, topic, nil)
}

func (s *Session) resetOffsets(ctx context.Context, group, topic string, target func(offsets.WatermarkPair) int64) ([]kafkaclient.TopicPartitionOffset, error) {
	if group == "" || topic == "" {
		return nil, fmt.Errorf("%w: group and topic are required", ErrInvalidArgument)
	}

	conn, err := s.factory.OpenGroupConn(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection for group %s: %w", group, err)
	}
	defer conn.Close()

	topics, err := conn.Metadata(ctx, topic)
	if err != nil {
		return nil, err
	}

	var commits []kafkaclient.TopicPartitionOffset
	for _, tp := range offsets.Partitions(topics) {
		commit := kafkaclient.TopicPartitionOffset{Topic: tp.Topic, Partition: tp.Partition}
		if target != nil {
			w, err := offsets.Watermarks(ctx, conn, tp.Topic, tp.Partition)
			if err != nil {
				return nil, err
			}
			commit.Offset = target(w)
		}
		commits = append(commits, commit)
	}

	if err := conn.Commit(ctx, commits); err != nil {
		return nil, err
	}

	s.log.Info().Str("group", group).Str("topic", topic).Int("partitions", len(commits)).Msg("group offsets reset")
	return commits, nil
}

// CreateTopic creates a topic. Zero partitions or replication factor default to 1.
func (s *Session) CreateTopic(ctx context.Context, name string, partitions int32, replicationFactor int16) error {
	if name == "" {
		return fmt.Errorf("%w: topic name is required", ErrInvalidArgument)
	}
	if partitions < 0 || replicationFactor < 0 {
		return fmt.Errorf("%w: partitions and replication factor must be positive", ErrInvalidArgument)
	}
	if partitions == 0 {
		partitions = 1
	}
	if replicationFactor == 0 {
		replicationFactor = 1
	}
	return s.admin.CreateTopic(ctx, name, partitions, replicationFactor)
}

// DeleteTopic deletes a topic and drops its stored history
func (s *Session) DeleteTopic(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: topic name is required", ErrInvalidArgument)
	}
	if err := s.admin.DeleteTopic(ctx, name); err != nil {
		return err
	}
	metrics.TopicState.DeleteLabelValues(s.name, name)

	if s.history != nil {
		if err := s.history.Clear(ctx, s.historyKey(name)); err != nil {
			s.log.Warn().Err(err).Str("topic", name).Msg("failed to clear message history")
		}
	}
	return nil
}

// DeleteGroup deletes an empty consumer group
func (s *Session) DeleteGroup(ctx context.Context, group string) error {
	if group == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidArgument)
	}
	if err := s.admin.DeleteGroup(ctx, group); err != nil {
		return err
	}
	metrics.ConsumerGroupState.DeleteLabelValues(s.name, group)
	metrics.ConsumerGroupMembers.DeleteLabelValues(s.name, group)
	return nil
}

// SendMessage produces one record and waits for its delivery report
func (s *Session) SendMessage(ctx context.Context, topic string, key, value []byte, headers []kafkaclient.Header) (kafkaclient.TopicPartitionOffset, error) {
	if topic == "" {
		return kafkaclient.TopicPartitionOffset{}, fmt.Errorf("%w: topic is required", ErrInvalidArgument)
	}
	return s.producer.Send(ctx, topic, key, value, headers)
}

// StartAutosend publishes the same record every interval until duration has
// elapsed or StopAutosend is called. It returns the publisher id.
func (s *Session) StartAutosend(req AutosendRequest) (string, error) {
	if req.Topic == "" {
		return "", fmt.Errorf("%w: topic is required", ErrInvalidArgument)
	}
	if req.Interval <= 0 || req.Duration <= 0 {
		return "", fmt.Errorf("%w: interval and duration must be positive", ErrInvalidArgument)
	}
	id := s.autosend.start(req)
	s.log.Info().Str("id", id).Str("topic", req.Topic).Dur("interval", req.Interval).Dur("duration", req.Duration).Msg("autosend started")
	return id, nil
}

// StopAutosend stops a running auto-publisher
func (s *Session) StopAutosend(id string) error {
	if !s.autosend.stop(id) {
		return fmt.Errorf("%w: %s", ErrAutosendNotFound, id)
	}
	s.log.Info().Str("id", id).Msg("autosend stopped")
	return nil
}

// Autosends lists the running auto-publishers
func (s *Session) Autosends() []AutosendInfo {
	return s.autosend.list()
}
