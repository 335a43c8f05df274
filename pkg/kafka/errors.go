package kafka

import (
	"errors"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/twmb/franz-go/pkg/kerr"
)

var (
	// ErrErroneousState is the transient client-side state error a seek can
	// hit while partition assignment bookkeeping is still settling
	ErrErroneousState = errors.New("erroneous client state")
	// ErrUnknownTopic is returned when the cluster does not know the topic
	ErrUnknownTopic = errors.New("unknown topic or partition")
	// ErrNotConnected is returned by operations on a closed client
	ErrNotConnected = errors.New("client not connected")
)

// classify tags librdkafka and Kafka protocol errors with the sentinels above
// so callers can use errors.Is without depending on a client library.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke.Code() {
		case kafka.ErrState:
			return fmt.Errorf("%s: %w: %v", op, ErrErroneousState, err)
		case kafka.ErrUnknownTopicOrPart, kafka.ErrUnknownTopic, kafka.ErrUnknownPartition:
			return fmt.Errorf("%s: %w: %v", op, ErrUnknownTopic, err)
		}
	}

	if errors.Is(err, kerr.UnknownTopicOrPartition) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnknownTopic, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
