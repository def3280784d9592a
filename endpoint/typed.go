// File: endpoint/typed.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed convenience wrappers over the raw descriptor exchange.
// Sending is generalized over anything holding an OS handle; receiving
// constructs the appropriately-typed owner around the transferred
// handle, or delivers the absent value when no descriptor arrived.

package endpoint

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/fd"
)

// SendHandle transfers the descriptor of any handle owner: a file, a
// stream socket, or another endpoint.
func (e *Endpoint) SendHandle(h api.HandleOwner, timeout time.Duration, cb CompleteFunc) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	return e.SendDescriptor(int(h.RawFD()), timeout, cb)
}

// SendFile transfers an open file's descriptor. The caller's *os.File
// stays open and usable; the peer receives a duplicate.
func (e *Endpoint) SendFile(f *os.File, timeout time.Duration, cb CompleteFunc) error {
	if f == nil {
		return api.ErrInvalidArgument
	}
	return e.SendDescriptor(int(f.Fd()), timeout, cb)
}

// ReceiveFile waits for a descriptor and wraps it in an *os.File owned
// by the callee. cb(nil) when the peer closed without sending or the
// wait timed out.
func (e *Endpoint) ReceiveFile(timeout time.Duration, cb func(f *os.File)) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	return e.ReceiveDescriptor(timeout, func(raw int) {
		if raw == fd.Invalid {
			cb(nil)
			return
		}
		cb(os.NewFile(uintptr(raw), "received"))
	})
}

// ReceiveConn waits for a descriptor and wraps it in a net.Conn.
// The received handle is consumed either way: net.FileConn works on a
// duplicate, so the original is closed here.
func (e *Endpoint) ReceiveConn(timeout time.Duration, cb func(c net.Conn)) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	return e.ReceiveFile(timeout, func(f *os.File) {
		if f == nil {
			cb(nil)
			return
		}
		defer f.Close()
		c, err := net.FileConn(f)
		if err != nil {
			cb(nil)
			return
		}
		cb(c)
	})
}

// ReceiveEndpoint waits for a descriptor and wraps it in a peer
// endpoint driven by the same reactor.
func (e *Endpoint) ReceiveEndpoint(timeout time.Duration, cb ConnectFunc) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	return e.ReceiveDescriptor(timeout, func(raw int) {
		if raw == fd.Invalid {
			cb(nil)
			return
		}
		peer, err := NewFromRaw(e.reactor, raw)
		if err != nil {
			cb(nil)
			return
		}
		peer.SetMetrics(e.metrics)
		cb(peer)
	})
}

// interface conformance
var _ api.StreamSocket = (*Endpoint)(nil)
var _ fmt.Stringer = (*Endpoint)(nil)

// String identifies the endpoint in logs.
func (e *Endpoint) String() string {
	return fmt.Sprintf("endpoint(fd=%d, addr=%q)", int(e.RawFD()), e.Addr())
}
