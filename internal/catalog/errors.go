package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrBroker marks a failed group listing request
	ErrBroker = errors.New("broker request failed")
	// ErrMemberAssignment marks a member assignment that could not be decoded
	ErrMemberAssignment = errors.New("member assignment undecodable")
)

// CatalogError is returned when the cluster could not be asked for its groups
type CatalogError struct {
	Kind error
	Err  error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("list groups: %v", e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

func (e *CatalogError) Is(target error) bool {
	return target == e.Kind
}

// MemberAssignmentError names the member whose assignment failed to decode
type MemberAssignmentError struct {
	Group  string
	Member string
	Cause  error
}

func (e *MemberAssignmentError) Error() string {
	return fmt.Sprintf("group %s member %s: %v", e.Group, e.Member, e.Cause)
}

func (e *MemberAssignmentError) Unwrap() error {
	return e.Cause
}

func (e *MemberAssignmentError) Is(target error) bool {
	return target == ErrMemberAssignment
}
