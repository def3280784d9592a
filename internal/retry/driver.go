// File: internal/retry/driver.go
// Package retry implements the readiness-retry state machine behind
// every non-blocking endpoint operation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per call the machine moves Attempt -> Done(success) | Done(failure)
// | Suspended, and Suspended -> Attempt (on readiness) | Done(timeout).
// Each suspension is a fresh one-shot reactor registration that
// re-submits the same state object, so rapid repeated non-readiness
// loops through the reactor instead of growing the call stack. Exactly
// one terminal outcome is delivered per call.

package retry

import (
	"time"

	"github.com/momentics/hioload-fd/api"
)

// Op describes one retryable non-blocking operation.
type Op struct {
	Reactor  api.Reactor
	FD       int
	Interest api.Interest

	// Timeout is the total budget across all retries; <= 0 waits
	// indefinitely. The deadline is absolute: re-suspensions get the
	// remaining slice, not a fresh budget.
	Timeout time.Duration

	// Attempt performs the underlying syscall once without blocking.
	// nil = terminal success; a would-block errno = suspend; anything
	// else = terminal hard failure.
	Attempt func() error

	// Done receives the terminal outcome: nil on success,
	// api.ErrOperationTimeout on deadline expiry, or the hard failure
	// observed after a resume. Invoked exactly once, and never when
	// Start itself returns an error.
	Done func(err error)
}

type driver struct {
	op       Op
	deadline time.Time
}

// Start performs the first attempt on the calling thread. A hard
// failure there is returned directly — raised, not delivered through
// Done. Once the operation suspends, every outcome flows through Done
// on the reactor thread.
func Start(op Op) error {
	if err := op.Attempt(); err == nil {
		op.Done(nil)
		return nil
	} else if !api.IsWouldBlock(err) {
		return err
	}
	d := &driver{op: op}
	if op.Timeout > 0 {
		d.deadline = time.Now().Add(op.Timeout)
	}
	return d.suspend()
}

// suspend registers a one-shot interest carrying the remaining budget.
func (d *driver) suspend() error {
	timeout := api.NoTimeout
	if !d.deadline.IsZero() {
		remain := time.Until(d.deadline)
		if remain <= 0 {
			d.op.Done(api.ErrOperationTimeout)
			return nil
		}
		timeout = remain
	}
	return d.op.Reactor.Register(d.op.FD, d.op.Interest, timeout, d.onReady)
}

// onReady resumes the attempt on the reactor thread.
func (d *driver) onReady(fd int, outcome api.Outcome) {
	if outcome == api.OutcomeTimedOut {
		d.op.Done(api.ErrOperationTimeout)
		return
	}
	err := d.op.Attempt()
	switch {
	case err == nil:
		d.op.Done(nil)
	case api.IsWouldBlock(err):
		if rerr := d.suspend(); rerr != nil {
			// Reactor refused the re-registration (shutdown): the
			// terminal callback must still fire.
			d.op.Done(rerr)
		}
	default:
		d.op.Done(err)
	}
}
