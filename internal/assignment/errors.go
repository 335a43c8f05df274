package assignment

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the payload ends before a declared length is satisfied
	ErrTruncated = errors.New("assignment payload truncated")
	// ErrEncoding is returned when a topic name is not valid UTF-8
	ErrEncoding = errors.New("assignment topic name is not valid utf-8")
)

// DecodeError locates a decode failure inside an assignment payload
type DecodeError struct {
	Err    error
	Field  string
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at byte %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
