package offsets

import (
	kafkaclient "KafkaScope/pkg/kafka"
	"errors"
	"fmt"
)

var (
	// ErrBroker marks a failed broker request
	ErrBroker = errors.New("broker request failed")
	// ErrUnknownTopic marks a request for a topic the cluster does not have
	ErrUnknownTopic = kafkaclient.ErrUnknownTopic
)

// ProbeError is returned by every probe operation
type ProbeError struct {
	Kind error
	Op   string
	Err  error
}

func newProbeError(op string, err error) *ProbeError {
	kind := ErrBroker
	if errors.Is(err, kafkaclient.ErrUnknownTopic) {
		kind = ErrUnknownTopic
	}
	return &ProbeError{Kind: kind, Op: op, Err: err}
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Is matches the error kind, so errors.Is(err, ErrBroker) works without the
// cause carrying the sentinel
func (e *ProbeError) Is(target error) bool {
	return target == e.Kind
}
