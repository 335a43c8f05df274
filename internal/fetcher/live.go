package fetcher

import (
	"KafkaScope/internal/metrics"
	"context"
	"github.com/google/uuid"
	"sync"
)

// LiveStream delivers records as they arrive until its context is cancelled
// or the connection fails. Records from different partitions are interleaved
// in arrival order.
type LiveStream struct {
	ID      string
	Topic   string
	records chan MessageRecord
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Records is closed once the stream has stopped and its connection is released
func (l *LiveStream) Records() <-chan MessageRecord {
	return l.records
}

// Done is closed together with Records
func (l *LiveStream) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that stopped the stream, or nil when it was cancelled.
// It is only meaningful after Records is closed.
func (l *LiveStream) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *LiveStream) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Stream assigns topic the same way FetchRecent does and then tails it until
// ctx is cancelled. Setup errors are returned directly; later errors stop the
// stream and are reported by Err.
func (f *Fetcher) Stream(ctx context.Context, topic string, window int64) (*LiveStream, error) {
	if window < 0 {
		window = 0
	}

	s, err := f.open(ctx, topic, window)
	if err != nil {
		return nil, err
	}
	s.phase = Live

	stream := &LiveStream{
		ID:      uuid.NewString(),
		Topic:   topic,
		records: make(chan MessageRecord, 64),
		done:    make(chan struct{}),
	}

	metrics.LiveStreams.Inc()
	go f.tail(ctx, s, stream)

	f.log.Info().Str("topic", topic).Str("stream", stream.ID).Msg("live stream started")
	return stream, nil
}

func (f *Fetcher) tail(ctx context.Context, s *session, stream *LiveStream) {
	defer func() {
		s.close()
		metrics.LiveStreams.Dec()
		close(stream.records)
		close(stream.done)
		f.log.Info().Str("topic", stream.Topic).Str("stream", stream.ID).Msg("live stream stopped")
	}()

	for ctx.Err() == nil {
		msg, err := s.conn.Poll(ctx, f.config.Deadline.IdleWait)
		if ctx.Err() != nil {
			// whatever the in-flight poll returned is discarded
			return
		}
		if err != nil {
			stream.setErr(s.fail(ErrBroker, -1, -1, err))
			return
		}
		if msg == nil {
			continue
		}

		rec, err := s.record(msg)
		if err != nil {
			stream.setErr(err)
			return
		}

		select {
		case stream.records <- rec:
			metrics.MessagesFetched.WithLabelValues("live").Inc()
		case <-ctx.Done():
			return
		}
	}
}
