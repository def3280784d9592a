//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based readiness reactor. One-shot interests, eventfd
// cross-thread wakeup, deadline queue for timed registrations.
//
// Registration state (entries, deadline heap) is owned by the loop
// thread; other threads only touch the locked inbox and the eventfd.
// Callbacks run on the loop thread and may register again immediately,
// which is how the retry driver loops without growing the stack.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/control"
)

const maxEvents = 128

// fdEntry tracks the at-most-two live interests (read, write) on one
// descriptor.
type fdEntry struct {
	slots [2]*pendingReg
}

func (e *fdEntry) mask() uint32 {
	var m uint32
	if e.slots[api.InterestRead] != nil {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if e.slots[api.InterestWrite] != nil {
		m |= unix.EPOLLOUT
	}
	return m
}

func (e *fdEntry) empty() bool {
	return e.slots[api.InterestRead] == nil && e.slots[api.InterestWrite] == nil
}

// epollReactor implements api.Reactor using Linux epoll.
type epollReactor struct {
	epfd   int
	wakeFd int

	mu    sync.Mutex
	inbox *queue.Queue // of *pendingReg, drained by the loop thread

	// Loop-thread state.
	entries   map[int]*fdEntry
	deadlines deadlineHeap

	quitCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool
	closed  atomic.Bool
	quitOnce sync.Once

	metrics *control.Metrics
}

// NewReactor constructs the platform reactor for Linux.
func NewReactor() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &epollReactor{
		epfd:    epfd,
		wakeFd:  wakeFd,
		inbox:   queue.New(),
		entries: make(map[int]*fdEntry),
		quitCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return r, nil
}

// SetMetrics attaches a metrics collector. Call before Run.
func (r *epollReactor) SetMetrics(m *control.Metrics) {
	r.metrics = m
}

// Register arms a one-shot interest. Safe from any thread; the loop is
// woken through the eventfd so the interest takes effect immediately.
func (r *epollReactor) Register(fd int, interest api.Interest, timeout time.Duration, cb api.ReadyCallback) error {
	if fd < 0 || cb == nil {
		return api.ErrInvalidArgument
	}
	if interest != api.InterestRead && interest != api.InterestWrite {
		return api.ErrInvalidArgument
	}
	if r.closed.Load() {
		return api.ErrReactorClosed
	}
	reg := &pendingReg{fd: fd, interest: interest, cb: cb}
	if timeout > 0 {
		reg.deadline = time.Now().Add(timeout)
	}
	r.mu.Lock()
	r.inbox.Add(reg)
	r.mu.Unlock()
	r.metrics.IncRegistrations()
	r.wake()
	return nil
}

// wake nudges the loop thread out of epoll_wait.
func (r *epollReactor) wake() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(r.wakeFd, one[:])
	r.metrics.IncWakeups()
}

// Run executes the loop until Stop.
func (r *epollReactor) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return nil // already running
	}
	defer close(r.doneCh)

	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-r.quitCh:
			r.drainOnQuit()
			return nil
		default:
		}

		r.applyInbox()

		timeoutMs := -1
		if dl, ok := nextDeadline(&r.deadlines); ok {
			remain := time.Until(dl)
			if remain < 0 {
				remain = 0
			}
			// Round up so a deadline never fires before its time.
			timeoutMs = int((remain + time.Millisecond - 1) / time.Millisecond)
		}

		n, err := unix.EpollWait(r.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == r.wakeFd {
				r.drainWake()
				continue
			}
			r.handleEvent(fd, ev.Events)
		}

		r.expireDeadlines()
	}
}

// applyInbox installs registrations submitted from other threads.
func (r *epollReactor) applyInbox() {
	for {
		r.mu.Lock()
		if r.inbox.Length() == 0 {
			r.mu.Unlock()
			return
		}
		reg := r.inbox.Remove().(*pendingReg)
		r.mu.Unlock()
		r.install(reg)
	}
}

// install wires one registration into the entry table and epoll set.
// A second registration on an already-armed (fd, interest) pair
// replaces the first, resolving it as timed out; overlapping
// same-direction operations are the caller's responsibility.
func (r *epollReactor) install(reg *pendingReg) {
	entry, exists := r.entries[reg.fd]
	if !exists {
		entry = &fdEntry{}
		r.entries[reg.fd] = entry
	}
	if old := entry.slots[reg.interest]; old != nil {
		r.resolve(old, api.OutcomeTimedOut)
	}
	entry.slots[reg.interest] = reg
	if !reg.deadline.IsZero() {
		pushDeadline(&r.deadlines, reg)
	}
	if err := r.arm(reg.fd, entry, exists); err != nil {
		// The handle is unusable (closed or not pollable): the
		// registration still must resolve exactly once.
		entry.slots[reg.interest] = nil
		if entry.empty() {
			delete(r.entries, reg.fd)
		}
		r.resolve(reg, api.OutcomeTimedOut)
	}
}

// arm programs the one-shot interest union for fd.
func (r *epollReactor) arm(fd int, entry *fdEntry, update bool) error {
	ev := unix.EpollEvent{
		Events: entry.mask() | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	op := unix.EPOLL_CTL_ADD
	if update {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(r.epfd, op, fd, &ev)
	if err == unix.ENOENT && update {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	} else if err == unix.EEXIST && !update {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	return err
}

// handleEvent resolves the slots matched by an epoll event. Error and
// hangup conditions resolve both directions: the retry attempt will
// observe the real failure on its next syscall.
func (r *epollReactor) handleEvent(fd int, events uint32) {
	entry, ok := r.entries[fd]
	if !ok {
		return
	}
	errCond := events&(unix.EPOLLERR|unix.EPOLLHUP) != 0

	var fired []*pendingReg
	if reg := entry.slots[api.InterestRead]; reg != nil &&
		(errCond || events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0) {
		entry.slots[api.InterestRead] = nil
		fired = append(fired, reg)
	}
	if reg := entry.slots[api.InterestWrite]; reg != nil &&
		(errCond || events&unix.EPOLLOUT != 0) {
		entry.slots[api.InterestWrite] = nil
		fired = append(fired, reg)
	}

	// Reprogram epoll before invoking callbacks so a re-registration
	// from inside a callback sees a consistent interest set.
	if entry.empty() {
		delete(r.entries, fd)
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	} else {
		_ = r.arm(fd, entry, true)
	}

	for _, reg := range fired {
		r.resolve(reg, api.OutcomeReady)
	}
}

// expireDeadlines resolves every registration whose deadline elapsed.
func (r *epollReactor) expireDeadlines() {
	expired := popExpired(&r.deadlines, time.Now())
	for _, reg := range expired {
		entry, ok := r.entries[reg.fd]
		if !ok || entry.slots[reg.interest] != reg {
			continue // resolved by readiness in this same cycle
		}
		entry.slots[reg.interest] = nil
		if entry.empty() {
			delete(r.entries, reg.fd)
			_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
		} else {
			_ = r.arm(reg.fd, entry, true)
		}
		r.resolve(reg, api.OutcomeTimedOut)
	}
}

// resolve invokes a registration's callback exactly once. The
// registration is consumed; it cannot fire again.
func (r *epollReactor) resolve(reg *pendingReg, outcome api.Outcome) {
	if reg.done {
		return
	}
	reg.done = true
	if outcome == api.OutcomeReady {
		r.metrics.IncReady()
	} else {
		r.metrics.IncTimeouts()
	}
	// Keep the loop alive if a callback panics.
	func() {
		defer func() { _ = recover() }()
		reg.cb(reg.fd, outcome)
	}()
}

// drainWake empties the eventfd counter.
func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

// drainOnQuit resolves everything still outstanding so no callback is
// silently dropped across shutdown.
func (r *epollReactor) drainOnQuit() {
	r.applyInbox()
	for fd, entry := range r.entries {
		for _, slot := range []api.Interest{api.InterestRead, api.InterestWrite} {
			if reg := entry.slots[slot]; reg != nil {
				entry.slots[slot] = nil
				r.resolve(reg, api.OutcomeTimedOut)
			}
		}
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		delete(r.entries, fd)
	}
	r.deadlines = r.deadlines[:0]
}

// Stop terminates the loop and waits for Run to return.
func (r *epollReactor) Stop() {
	r.quitOnce.Do(func() { close(r.quitCh) })
	r.wake()
	if r.running.Load() {
		<-r.doneCh
	}
}

// Close releases the reactor's own descriptors.
func (r *epollReactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.Stop()
	_ = unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
