// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-fd library.

package api

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Common errors used across the library.
var (
	ErrEndpointClosed    = fmt.Errorf("endpoint is closed")
	ErrReactorClosed     = fmt.Errorf("reactor is closed")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrOperationTimeout  = fmt.Errorf("operation timeout")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrPathTooLong       = fmt.Errorf("endpoint path exceeds address buffer")
	ErrEnvelopeMalformed = fmt.Errorf("ancillary envelope malformed")
)

// NetError is a synchronous OS-level failure carrying the errno that
// produced it. It is raised directly to the caller; transient
// non-readiness and timeouts never surface as NetError.
type NetError struct {
	Op    string
	Errno unix.Errno
}

// Error implements the error interface.
func (e *NetError) Error() string {
	return fmt.Sprintf("%s: %s (errno %d)", e.Op, e.Errno.Error(), int(e.Errno))
}

// Unwrap exposes the underlying errno for errors.Is checks.
func (e *NetError) Unwrap() error { return e.Errno }

// NewNetError creates a NetError for the given operation and errno.
func NewNetError(op string, errno unix.Errno) *NetError {
	return &NetError{Op: op, Errno: errno}
}

// IsWouldBlock reports whether err is one of the transient
// non-readiness conditions that trigger the retry path instead of
// being raised: EAGAIN, EWOULDBLOCK, or EINPROGRESS for connect.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINPROGRESS)
}
