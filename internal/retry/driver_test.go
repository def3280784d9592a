// File: internal/retry/driver_test.go
// Author: momentics <momentics@gmail.com>

package retry

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/fake"
)

type recorder struct {
	calls []error
}

func (rec *recorder) done(err error) { rec.calls = append(rec.calls, err) }

// TestStart_ImmediateSuccess: no suspension, Done(nil) once.
func TestStart_ImmediateSuccess(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	err := Start(Op{
		Reactor:  fr,
		FD:       3,
		Interest: api.InterestWrite,
		Attempt:  func() error { return nil },
		Done:     rec.done,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != nil {
		t.Fatalf("Done calls = %v, want one nil", rec.calls)
	}
	if fr.Pending() != 0 {
		t.Errorf("unexpected registration")
	}
}

// TestStart_ImmediateHardFailureIsRaised: the synchronous failure is
// returned, never delivered through Done.
func TestStart_ImmediateHardFailureIsRaised(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	err := Start(Op{
		Reactor:  fr,
		FD:       3,
		Interest: api.InterestWrite,
		Attempt:  func() error { return unix.ECONNREFUSED },
		Done:     rec.done,
	})
	if !errors.Is(err, unix.ECONNREFUSED) {
		t.Fatalf("Start err = %v, want ECONNREFUSED", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("Done invoked on raised path: %v", rec.calls)
	}
}

// TestSuspend_ResumesUntilSuccess: would-block twice, then success.
// Each suspension is a fresh registration.
func TestSuspend_ResumesUntilSuccess(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	attempts := 0
	err := Start(Op{
		Reactor:  fr,
		FD:       7,
		Interest: api.InterestRead,
		Attempt: func() error {
			attempts++
			if attempts < 3 {
				return unix.EAGAIN
			}
			return nil
		},
		Done: rec.done,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fr.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", fr.Pending())
	}

	fr.Fire(api.OutcomeReady) // attempt 2: EAGAIN again, re-suspends
	if fr.Pending() != 1 {
		t.Fatalf("pending after first resume = %d, want 1", fr.Pending())
	}
	fr.Fire(api.OutcomeReady) // attempt 3: success

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(rec.calls) != 1 || rec.calls[0] != nil {
		t.Fatalf("Done calls = %v, want one nil", rec.calls)
	}
	if fr.Pending() != 0 {
		t.Errorf("registration leaked after terminal outcome")
	}
}

// TestSuspend_Timeout delivers the distinguished timeout through Done.
func TestSuspend_Timeout(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	err := Start(Op{
		Reactor:  fr,
		FD:       7,
		Interest: api.InterestWrite,
		Timeout:  time.Second,
		Attempt:  func() error { return unix.EAGAIN },
		Done:     rec.done,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := fr.Last().Timeout; got <= 0 || got > time.Second {
		t.Errorf("registration timeout = %v, want remaining budget", got)
	}
	fr.Fire(api.OutcomeTimedOut)
	if len(rec.calls) != 1 || !errors.Is(rec.calls[0], api.ErrOperationTimeout) {
		t.Fatalf("Done calls = %v, want one ErrOperationTimeout", rec.calls)
	}
}

// TestResume_HardFailureGoesThroughDone: after a suspend/resume cycle
// a hard failure is a callback outcome, not a raised error.
func TestResume_HardFailureGoesThroughDone(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	attempts := 0
	err := Start(Op{
		Reactor:  fr,
		FD:       7,
		Interest: api.InterestWrite,
		Attempt: func() error {
			attempts++
			if attempts == 1 {
				return unix.EAGAIN
			}
			return unix.EPIPE
		},
		Done: rec.done,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	fr.Fire(api.OutcomeReady)
	if len(rec.calls) != 1 || !errors.Is(rec.calls[0], unix.EPIPE) {
		t.Fatalf("Done calls = %v, want one EPIPE", rec.calls)
	}
}

// TestResuspend_ReactorRefusal still produces exactly one terminal
// callback.
func TestResuspend_ReactorRefusal(t *testing.T) {
	fr := &fake.FakeReactor{}
	rec := &recorder{}
	if err := Start(Op{
		Reactor:  fr,
		FD:       7,
		Interest: api.InterestRead,
		Attempt:  func() error { return unix.EAGAIN },
		Done:     rec.done,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fr.Refuse(api.ErrReactorClosed)
	fr.Fire(api.OutcomeReady) // re-attempt EAGAINs, re-suspend refused
	if len(rec.calls) != 1 || !errors.Is(rec.calls[0], api.ErrReactorClosed) {
		t.Fatalf("Done calls = %v, want one ErrReactorClosed", rec.calls)
	}
}
