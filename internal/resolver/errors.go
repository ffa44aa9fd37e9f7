package resolver

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ProtocolError is a malformed virtual URL or request. Not retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "bad site request: " + e.Reason }

// IdentityMismatchError means a different site is loaded than the one
// requested. The user has to load the intended site explicitly.
type IdentityMismatchError struct {
	Requested string
	Loaded    string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("site %s is not loaded (loaded: %s)", e.Requested, e.Loaded)
}

// NotFoundError is a path the manager answered with no data.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return "not found in site: " + e.Path }

// TimeoutError is a bounded wait that ran out.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out %s after %s", e.Op, e.After.Round(time.Millisecond))
}

func statusOf(err error) int {
	var (
		pe *ProtocolError
		me *IdentityMismatchError
		ne *NotFoundError
		te *TimeoutError
	)
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.As(err, &me), errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &te):
		return http.StatusServiceUnavailable
	default:
		return http.StatusServiceUnavailable
	}
}
