// File: reactor/deadlines.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deadline queue for timed registrations. A container/heap ordered by
// absolute deadline; entries resolved early by readiness are skipped
// lazily on pop instead of being removed in place.

package reactor

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-fd/api"
)

// pendingReg is one in-flight registration: the sole owner of the
// retry it tracks. Mutated only on the loop thread after submission.
type pendingReg struct {
	fd       int
	interest api.Interest
	deadline time.Time // zero value = no deadline
	cb       api.ReadyCallback
	done     bool
}

type deadlineHeap []*pendingReg

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(*pendingReg))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	reg := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return reg
}

// pushDeadline adds a timed registration to the queue.
func pushDeadline(h *deadlineHeap, reg *pendingReg) {
	heap.Push(h, reg)
}

// nextDeadline returns the earliest live deadline, discarding entries
// already resolved by readiness. ok is false when nothing is pending.
func nextDeadline(h *deadlineHeap) (time.Time, bool) {
	for h.Len() > 0 {
		if (*h)[0].done {
			heap.Pop(h)
			continue
		}
		return (*h)[0].deadline, true
	}
	return time.Time{}, false
}

// popExpired removes and returns every live entry due at or before
// now.
func popExpired(h *deadlineHeap, now time.Time) []*pendingReg {
	var expired []*pendingReg
	for h.Len() > 0 {
		top := (*h)[0]
		if top.done {
			heap.Pop(h)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(h)
		expired = append(expired, top)
	}
	return expired
}
