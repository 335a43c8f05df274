package fetcher

import (
	"KafkaScope/internal/logger"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/offsets"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"time"
)

// Phase is the step a fetch is in
type Phase int

const (
	Unassigned Phase = iota
	Assigning
	Seeking
	Polling
	Draining
	Live
	Unsubscribed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Unassigned:
		return "unassigned"
	case Assigning:
		return "assigning"
	case Seeking:
		return "seeking"
	case Polling:
		return "polling"
	case Draining:
		return "draining"
	case Live:
		return "live"
	case Unsubscribed:
		return "unsubscribed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Conn is a consumer connection that reads partitions by direct assignment
type Conn interface {
	offsets.MetadataReader
	offsets.WatermarkReader
	Assign(partitions []kafkaclient.TopicPartition) error
	Seek(tp kafkaclient.TopicPartition, offset int64) error
	// Poll returns (nil, nil) when nothing arrived within timeout
	Poll(ctx context.Context, timeout time.Duration) (*kafkaclient.Message, error)
	Unassign() error
	Close()
}

// Opener opens a connection that does not belong to any operator-visible group
type Opener interface {
	OpenFetchConn(ctx context.Context) (Conn, error)
}

// DeadlinePolicy controls how long a bounded fetch waits for messages
type DeadlinePolicy struct {
	// InitialWait covers connection latency before the first message
	InitialWait time.Duration `yaml:"initial_wait" env:"INITIAL_WAIT"`
	// IdleWait ends the fetch when no message arrives for this long
	IdleWait time.Duration `yaml:"idle_wait" env:"IDLE_WAIT"`
}

// Config holds fetch settings
type Config struct {
	SeekAttempts int            `yaml:"seek_attempts" env:"SEEK_ATTEMPTS"`
	SeekBackoff  time.Duration  `yaml:"seek_backoff" env:"SEEK_BACKOFF"`
	Deadline     DeadlinePolicy `yaml:",inline"`
}

// DefaultConfig returns the default fetch settings
func DefaultConfig() Config {
	return Config{
		SeekAttempts: 5,
		SeekBackoff:  100 * time.Millisecond,
		Deadline: DeadlinePolicy{
			InitialWait: 3 * time.Second,
			IdleWait:    time.Second,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SeekAttempts <= 0 {
		c.SeekAttempts = d.SeekAttempts
	}
	if c.SeekBackoff <= 0 {
		c.SeekBackoff = d.SeekBackoff
	}
	if c.Deadline.InitialWait <= 0 {
		c.Deadline.InitialWait = d.Deadline.InitialWait
	}
	if c.Deadline.IdleWait <= 0 {
		c.Deadline.IdleWait = d.Deadline.IdleWait
	}
	return c
}

// Fetcher reads a recent window of messages from a topic without joining or
// committing for any group
type Fetcher struct {
	opener Opener
	config Config
	log    zerolog.Logger
}

// New creates a fetcher
func New(opener Opener, cfg Config) *Fetcher {
	return &Fetcher{
		opener: opener,
		config: cfg.withDefaults(),
		log:    logger.WithComponent("fetcher"),
	}
}

// Policy returns the configured deadline policy
func (f *Fetcher) Policy() DeadlinePolicy {
	return f.config.Deadline
}

// SeekOffset returns where a partition should be read from so that at most
// window messages remain: max(high-window, low)
func SeekOffset(w offsets.WatermarkPair, window int64) int64 {
	seek := w.High - window
	if seek < w.Low {
		return w.Low
	}
	return seek
}

// session tracks one assigned connection through its phases
type session struct {
	f     *Fetcher
	conn  Conn
	topic string
	phase Phase
	// pending is the number of messages between the seek positions and the high watermarks
	pending int64
}

func (s *session) fail(kind error, partition int32, offset int64, err error) *FetchError {
	fe := &FetchError{Kind: kind, Phase: s.phase, Topic: s.topic, Partition: partition, Offset: offset, Err: err}
	s.phase = Failed
	return fe
}

// close unassigns and closes the connection. It runs on every exit path.
func (s *session) close() {
	if err := s.conn.Unassign(); err != nil {
		s.f.log.Warn().Err(err).Str("topic", s.topic).Msg("failed to unassign fetch connection")
	}
	s.conn.Close()
	metrics.ProbeConnections.Dec()
	if s.phase != Failed {
		s.phase = Unsubscribed
	}
}

// open assigns every partition of topic and seeks each one to its window
func (f *Fetcher) open(ctx context.Context, topic string, window int64) (*session, error) {
	conn, err := f.opener.OpenFetchConn(ctx)
	if err != nil {
		return nil, &FetchError{Kind: ErrBroker, Phase: Unassigned, Topic: topic, Partition: -1, Offset: -1, Err: err}
	}
	metrics.ProbeConnections.Inc()

	s := &session{f: f, conn: conn, topic: topic, phase: Assigning}
	if err := s.assign(ctx, window); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) assign(ctx context.Context, window int64) error {
	topics, err := s.conn.Metadata(ctx, s.topic)
	if err != nil {
		return s.fail(ErrBroker, -1, -1, err)
	}

	var partitions []int32
	for _, t := range topics {
		if t.Name == s.topic {
			partitions = t.Partitions
		}
	}
	if len(partitions) == 0 {
		return s.fail(ErrBroker, -1, -1, fmt.Errorf("topic %s: %w", s.topic, kafkaclient.ErrUnknownTopic))
	}

	tps := make([]kafkaclient.TopicPartition, 0, len(partitions))
	for _, p := range partitions {
		tps = append(tps, kafkaclient.TopicPartition{Topic: s.topic, Partition: p})
	}
	if err := s.conn.Assign(tps); err != nil {
		return s.fail(ErrBroker, -1, -1, err)
	}

	s.phase = Seeking
	for _, tp := range tps {
		w, err := offsets.Watermarks(ctx, s.conn, tp.Topic, tp.Partition)
		if err != nil {
			return s.fail(ErrBroker, tp.Partition, -1, err)
		}

		seek := SeekOffset(w, window)
		s.pending += w.High - seek

		position := seek
		if seek <= w.Low {
			position = kafkaclient.OffsetBeginning
		}
		if err := s.seek(ctx, tp, position); err != nil {
			return err
		}
	}

	s.phase = Polling
	return nil
}

// seek applies one seek, retrying only the transient erroneous state error.
// It makes at most SeekAttempts calls.
func (s *session) seek(ctx context.Context, tp kafkaclient.TopicPartition, offset int64) error {
	cfg := s.f.config
	for attempt := 1; ; attempt++ {
		err := s.conn.Seek(tp, offset)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kafkaclient.ErrErroneousState) {
			return s.fail(ErrBroker, tp.Partition, offset, err)
		}
		if attempt >= cfg.SeekAttempts {
			return s.fail(ErrSeekExhausted, tp.Partition, offset,
				fmt.Errorf("%d attempts: %w", attempt, err))
		}

		metrics.SeekRetries.Inc()
		s.f.log.Debug().
			Str("topic", tp.Topic).
			Int32("partition", tp.Partition).
			Int("attempt", attempt).
			Msg("seek hit transient state, retrying")

		select {
		case <-ctx.Done():
			return s.fail(ErrBroker, tp.Partition, offset, ctx.Err())
		case <-time.After(cfg.SeekBackoff):
		}
	}
}

// record decodes one polled message
func (s *session) record(msg *kafkaclient.Message) (MessageRecord, error) {
	if msg.Timestamp.IsZero() {
		return MessageRecord{}, s.fail(ErrDecode, msg.Partition, msg.Offset, errors.New("message has no timestamp"))
	}
	return NewRecord(msg), nil
}

// FetchRecent returns up to window of the newest messages of topic, newest
// first. Each partition is read from max(high-window, low), so more than
// window messages may arrive; the surplus is dropped after sorting.
func (f *Fetcher) FetchRecent(ctx context.Context, topic string, window int64, policy DeadlinePolicy) ([]MessageRecord, error) {
	if window <= 0 {
		return []MessageRecord{}, nil
	}
	if policy.InitialWait <= 0 || policy.IdleWait <= 0 {
		policy = f.config.Deadline
	}

	s, err := f.open(ctx, topic, window)
	if err != nil {
		return nil, err
	}
	defer s.close()

	records := []MessageRecord{}
	if s.pending == 0 {
		return records, nil
	}

	wait := policy.InitialWait
	for {
		msg, err := s.conn.Poll(ctx, wait)
		if err != nil {
			return nil, s.fail(ErrBroker, -1, -1, err)
		}
		if msg == nil {
			break
		}

		rec, err := s.record(msg)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		metrics.MessagesFetched.WithLabelValues("bounded").Inc()

		s.phase = Draining
		wait = policy.IdleWait
	}

	SortRecent(records)
	if int64(len(records)) > window {
		records = records[:window]
	}

	f.log.Debug().Str("topic", topic).Int("records", len(records)).Msg("fetched recent messages")
	return records, nil
}
