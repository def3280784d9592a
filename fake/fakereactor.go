// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides test doubles for the reactor collaborator.
package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-fd/api"
)

// Registration records one Register call made against FakeReactor.
type Registration struct {
	FD       int
	Interest api.Interest
	Timeout  time.Duration
	CB       api.ReadyCallback
	consumed bool
}

// FakeReactor provides a test/dummy Reactor. Registrations are
// recorded and fired manually by the test.
type FakeReactor struct {
	mu     sync.Mutex
	regs   []*Registration
	refuse error // when set, Register fails with this error
}

// Run is a no-op; tests drive callbacks by hand.
func (f *FakeReactor) Run() error { return nil }

// Stop is a no-op.
func (f *FakeReactor) Stop() {}

// Close is a no-op.
func (f *FakeReactor) Close() error { return nil }

// Register records the registration.
func (f *FakeReactor) Register(fd int, interest api.Interest, timeout time.Duration, cb api.ReadyCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse != nil {
		return f.refuse
	}
	f.regs = append(f.regs, &Registration{FD: fd, Interest: interest, Timeout: timeout, CB: cb})
	return nil
}

// Refuse makes subsequent Register calls fail with err.
func (f *FakeReactor) Refuse(err error) {
	f.mu.Lock()
	f.refuse = err
	f.mu.Unlock()
}

// Pending returns the number of unfired registrations.
func (f *FakeReactor) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.regs {
		if !r.consumed {
			n++
		}
	}
	return n
}

// Fire resolves the oldest unfired registration with the outcome,
// consuming it. Returns false if nothing was pending.
func (f *FakeReactor) Fire(outcome api.Outcome) bool {
	f.mu.Lock()
	var reg *Registration
	for _, r := range f.regs {
		if !r.consumed {
			reg = r
			break
		}
	}
	if reg == nil {
		f.mu.Unlock()
		return false
	}
	reg.consumed = true
	f.mu.Unlock()
	reg.CB(reg.FD, outcome)
	return true
}

// Last returns the most recent registration, fired or not.
func (f *FakeReactor) Last() *Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.regs) == 0 {
		return nil
	}
	return f.regs[len(f.regs)-1]
}
