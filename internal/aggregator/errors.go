package aggregator

import (
	"fmt"
)

// GroupError names the group whose probe aborted an aggregation
type GroupError struct {
	Name  string
	Cause error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("probe group %s: %v", e.Name, e.Cause)
}

func (e *GroupError) Unwrap() error {
	return e.Cause
}
