// File: fd/fd_test.go
// Author: momentics <momentics@gmail.com>

package fd

import (
	"testing"

	"golang.org/x/sys/unix"
)

func openPipeFD(t *testing.T) int {
	t.Helper()
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	unix.Close(p[1])
	return p[0]
}

// TestClose_Once verifies the handle is closed at most once.
func TestClose_Once(t *testing.T) {
	raw := openPipeFD(t)
	d := New(raw)
	if !d.Valid() {
		t.Fatalf("fresh descriptor reported invalid")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if d.Valid() {
		t.Errorf("descriptor still valid after close")
	}
	// Second close must be a no-op, not an EBADF.
	if err := d.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

// TestRelease_DisarmsClose verifies that a released handle survives
// the old owner's Close.
func TestRelease_DisarmsClose(t *testing.T) {
	raw := openPipeFD(t)
	d := New(raw)
	got := d.Release()
	if got != raw {
		t.Fatalf("Release = %d, want %d", got, raw)
	}
	if d.Release() != Invalid {
		t.Errorf("second Release should yield Invalid")
	}
	if err := d.Close(); err != nil {
		t.Errorf("close after release: %v", err)
	}
	// Handle must still be open for the new owner.
	if err := unix.Close(raw); err != nil {
		t.Errorf("raw handle was closed by old owner: %v", err)
	}
}
