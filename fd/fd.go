// File: fd/fd.go
// Package fd wraps a raw OS descriptor in an owning resource type.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Descriptor has exactly one logical owner at a time. Close releases
// the underlying handle at most once; Release hands the raw value to a
// new owner and disarms Close. Receiving a descriptor over an endpoint
// transfers ownership to the receiver.

package fd

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Invalid is the distinguished "no descriptor" sentinel.
const Invalid = -1

// Descriptor owns one raw OS handle.
type Descriptor struct {
	raw atomic.Int64
}

// New wraps an already-open raw handle. The Descriptor becomes the
// handle's owner.
func New(raw int) *Descriptor {
	d := &Descriptor{}
	d.raw.Store(int64(raw))
	return d
}

// Raw returns the underlying handle without transferring ownership,
// or Invalid after Close/Release.
func (d *Descriptor) Raw() int {
	return int(d.raw.Load())
}

// Valid reports whether the Descriptor still holds an open handle.
func (d *Descriptor) Valid() bool {
	return d.Raw() != Invalid
}

// Release hands the raw handle to the caller and disarms Close.
// Returns Invalid if ownership was already given up.
func (d *Descriptor) Release() int {
	return int(d.raw.Swap(Invalid))
}

// Close closes the underlying handle exactly once. Closing an already
// closed or released Descriptor is a no-op.
func (d *Descriptor) Close() error {
	raw := d.raw.Swap(Invalid)
	if raw == Invalid {
		return nil
	}
	return unix.Close(int(raw))
}
