package models

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a remote call that overran its per-stage deadline.
var ErrTimeout = errors.New("deadline exceeded")

// ParseError reports a malformed quote string.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse quote %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse quote %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ServiceError reports a failed call to a simulated remote service
// (a shop price lookup or the discount service).
type ServiceError struct {
	Service   string
	Shop      string
	Err       error
	Temporary bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s call for %s failed: %v", e.Service, e.Shop, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is worth retrying. Timeouts and
// temporary service errors are; parse errors and cancellations are not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Temporary
	}
	return false
}
