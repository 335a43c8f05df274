package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrBroker marks a failed broker request
	ErrBroker = errors.New("broker request failed")
	// ErrSeekExhausted is returned when a seek kept failing with a transient
	// state error until the attempt ceiling was reached
	ErrSeekExhausted = errors.New("seek retries exhausted")
	// ErrDecode marks a message that could not be turned into a record
	ErrDecode = errors.New("message undecodable")
)

// FetchError is returned by every fetch operation. Partition and Offset are
// -1 when the failure is not tied to one.
type FetchError struct {
	Kind error
	// Phase is the step that failed; the session itself moves to Failed
	Phase     Phase
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *FetchError) Error() string {
	switch {
	case e.Offset >= 0:
		return fmt.Sprintf("fetch %s[%d]@%d while %s: %v", e.Topic, e.Partition, e.Offset, e.Phase, e.Err)
	case e.Partition >= 0:
		return fmt.Sprintf("fetch %s[%d] while %s: %v", e.Topic, e.Partition, e.Phase, e.Err)
	}
	return fmt.Sprintf("fetch %s while %s: %v", e.Topic, e.Phase, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}
