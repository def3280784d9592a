// File: api/reactor.go
// Package api defines the readiness-notification reactor contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// Interest selects which readiness condition a registration waits for.
type Interest int

const (
	// InterestRead waits until the descriptor is readable.
	InterestRead Interest = iota
	// InterestWrite waits until the descriptor is writable.
	InterestWrite
)

// String returns the interest name for logs and errors.
func (i Interest) String() string {
	if i == InterestRead {
		return "read"
	}
	return "write"
}

// Outcome is delivered to a registration's callback exactly once.
type Outcome int

const (
	// OutcomeReady means the descriptor became ready for the registered
	// interest and the suspended operation may be retried now.
	OutcomeReady Outcome = iota
	// OutcomeTimedOut means the registration's deadline elapsed first.
	OutcomeTimedOut
)

// NoTimeout disables the deadline on a registration: the interest
// stays armed until readiness arrives.
const NoTimeout time.Duration = 0

// ReadyCallback is invoked on the reactor's loop thread when a
// registration resolves. It must not block.
type ReadyCallback func(fd int, outcome Outcome)

// Reactor multiplexes one-shot readiness interests for many
// descriptors on a single loop thread. Each successful Register call
// produces exactly one ReadyCallback invocation: either OutcomeReady
// or OutcomeTimedOut, never both, never zero.
type Reactor interface {
	// Register arms a one-shot interest in fd becoming ready.
	// timeout <= 0 means no deadline. Safe to call from any thread,
	// including from inside a ReadyCallback.
	Register(fd int, interest Interest, timeout time.Duration, cb ReadyCallback) error

	// Run executes the loop until Stop. Blocks the calling goroutine.
	Run() error

	// Stop terminates the loop; outstanding registrations resolve
	// with OutcomeTimedOut before Run returns.
	Stop()

	// Close releases the reactor's own descriptors.
	Close() error
}
