// File: endpoint/endpoint.go
// Package endpoint implements the named local-domain socket that can
// pass one open descriptor per call over its ancillary channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// No operation here blocks the calling thread. Bind and the
// synchronous half of Connect execute immediately; everything else
// routes through the readiness-retry driver and completes through a
// caller-supplied callback on the reactor thread. Synchronous OS
// failures are raised as *api.NetError; timeouts and absent results
// are callback outcomes, never errors.

package endpoint

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/control"
	"github.com/momentics/hioload-fd/fd"
	"github.com/momentics/hioload-fd/internal/retry"
	"github.com/momentics/hioload-fd/pool"
	"github.com/momentics/hioload-fd/protocol"
)

// CompleteFunc receives a send outcome: true on success, false on
// timeout or a post-suspension failure.
type CompleteFunc func(ok bool)

// ConnectFunc receives the connected endpoint, or nil when the
// connect timed out or failed after suspension.
type ConnectFunc func(ep *Endpoint)

// ReceiveFunc receives the raw transferred descriptor. fd.Invalid
// means the peer closed without sending, or the wait timed out. A
// valid descriptor is owned by the callee from this point on.
type ReceiveFunc func(raw int)

// Endpoint is a connection-oriented local-domain socket. It owns its
// OS handle exclusively until Close or until a fresh handle replaces
// it on the next Bind/Connect.
type Endpoint struct {
	reactor api.Reactor
	metrics *control.Metrics

	mu   sync.Mutex
	h    *fd.Descriptor
	addr string
}

// New creates an endpoint without an underlying socket; Bind or
// Connect acquires one.
func New(r api.Reactor) *Endpoint {
	return &Endpoint{reactor: r}
}

// NewFromRaw wraps an accepted or received handle in a peer endpoint
// and switches it to non-blocking mode. Ownership of raw passes to
// the endpoint.
func NewFromRaw(r api.Reactor, raw int) (*Endpoint, error) {
	e := &Endpoint{reactor: r, h: fd.New(raw)}
	if err := e.SetNonblock(); err != nil {
		e.h.Close()
		return nil, err
	}
	return e, nil
}

// SetMetrics attaches a metrics collector; nil disables collection.
func (e *Endpoint) SetMetrics(m *control.Metrics) { e.metrics = m }

// Addr returns the path this endpoint was bound or connected to.
func (e *Endpoint) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// RawFD implements api.HandleOwner.
func (e *Endpoint) RawFD() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.h == nil {
		invalid := fd.Invalid
		return uintptr(invalid)
	}
	return uintptr(e.h.Raw())
}

// SetNonblock implements api.StreamSocket.
func (e *Endpoint) SetNonblock() error {
	raw, err := e.rawHandle()
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(raw, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// Close releases the underlying handle. Suspended operations on it
// resolve through their timeout path.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	h := e.h
	e.h = nil
	e.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// initSocket acquires a fresh non-blocking local-domain handle,
// closing the previous one so no descriptor leaks across re-init.
func (e *Endpoint) initSocket() error {
	s, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return api.NewNetError("socket", errnoOf(err))
	}
	e.mu.Lock()
	old := e.h
	e.h = fd.New(s)
	e.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// rawHandle returns the current raw descriptor or ErrEndpointClosed.
func (e *Endpoint) rawHandle() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.h == nil || !e.h.Valid() {
		return fd.Invalid, api.ErrEndpointClosed
	}
	return e.h.Raw(), nil
}

// Bind attaches a fresh handle to the filesystem path. Synchronous;
// any OS failure is raised with its errno.
func (e *Endpoint) Bind(path string) error {
	buf, err := protocol.EncodeSockaddr(path)
	if err != nil {
		return err
	}
	sa, err := protocol.KernelSockaddr(buf)
	if err != nil {
		return err
	}
	if err := e.initSocket(); err != nil {
		return err
	}
	raw, err := e.rawHandle()
	if err != nil {
		return err
	}
	if err := unix.Bind(raw, sa); err != nil {
		return api.NewNetError("bind", errnoOf(err))
	}
	e.mu.Lock()
	e.addr = path
	e.mu.Unlock()
	return nil
}

// Listen marks a bound endpoint as accepting connections.
func (e *Endpoint) Listen(backlog int) error {
	raw, err := e.rawHandle()
	if err != nil {
		return err
	}
	if err := unix.Listen(raw, backlog); err != nil {
		return api.NewNetError("listen", errnoOf(err))
	}
	return nil
}

// Accept waits for an inbound connection and delivers a connected
// peer endpoint, or nil on timeout. timeout <= 0 waits indefinitely.
func (e *Endpoint) Accept(timeout time.Duration, cb ConnectFunc) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	raw, err := e.rawHandle()
	if err != nil {
		return err
	}
	accepted := fd.Invalid
	err = retry.Start(retry.Op{
		Reactor:  e.reactor,
		FD:       raw,
		Interest: api.InterestRead,
		Timeout:  timeout,
		Attempt: func() error {
			nfd, _, aerr := unix.Accept4(raw, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			if aerr != nil {
				return aerr
			}
			accepted = nfd
			return nil
		},
		Done: func(derr error) {
			if derr != nil {
				if derr != api.ErrOperationTimeout {
					log.Printf("[endpoint] accept on %q failed after resume: %v", e.Addr(), derr)
				}
				cb(nil)
				return
			}
			peer, perr := NewFromRaw(e.reactor, accepted)
			if perr != nil {
				_ = unix.Close(accepted)
				log.Printf("[endpoint] accept peer init: %v", perr)
				cb(nil)
				return
			}
			peer.SetMetrics(e.metrics)
			cb(peer)
		},
	})
	return raise("accept", err)
}

// Connect establishes a connection to a bound endpoint path. The
// synchronous half runs immediately: success invokes cb inline, a
// hard failure is raised. An in-progress connect suspends on
// write-readiness; readiness delivers cb(self), timeout delivers
// cb(nil). timeout <= 0 waits indefinitely.
func (e *Endpoint) Connect(path string, timeout time.Duration, cb ConnectFunc) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	buf, err := protocol.EncodeSockaddr(path)
	if err != nil {
		return err
	}
	sa, err := protocol.KernelSockaddr(buf)
	if err != nil {
		return err
	}
	if err := e.initSocket(); err != nil {
		return err
	}
	raw, err := e.rawHandle()
	if err != nil {
		return err
	}

	inProgress := false
	err = retry.Start(retry.Op{
		Reactor:  e.reactor,
		FD:       raw,
		Interest: api.InterestWrite,
		Timeout:  timeout,
		Attempt: func() error {
			if inProgress {
				// Write-readiness after EINPROGRESS: the connect
				// finished; its verdict is in SO_ERROR.
				soerr, gerr := unix.GetsockoptInt(raw, unix.SOL_SOCKET, unix.SO_ERROR)
				if gerr != nil {
					return gerr
				}
				if soerr != 0 {
					return unix.Errno(soerr)
				}
				return nil
			}
			cerr := unix.Connect(raw, sa)
			if cerr == unix.EINPROGRESS {
				inProgress = true
			}
			return cerr
		},
		Done: func(derr error) {
			if derr != nil {
				if derr != api.ErrOperationTimeout {
					log.Printf("[endpoint] connect %q failed after resume: %v", path, derr)
				}
				cb(nil)
				return
			}
			e.mu.Lock()
			e.addr = path
			e.mu.Unlock()
			cb(e)
		},
	})
	return raise("connect", err)
}

// SendDescriptor transfers one raw descriptor to the connected peer,
// alongside the single protocol payload byte. The caller keeps its
// own copy of the descriptor; the OS duplicates it on delivery.
// cb(true) on success; cb(false) on timeout or post-suspension
// failure; a synchronous hard failure is raised instead.
func (e *Endpoint) SendDescriptor(rawFD int, timeout time.Duration, cb CompleteFunc) error {
	if cb == nil || rawFD < 0 {
		return api.ErrInvalidArgument
	}
	sock, err := e.rawHandle()
	if err != nil {
		return err
	}
	oob, sentinel := protocol.EncodeRights(rawFD)
	payload := []byte{sentinel}
	err = retry.Start(retry.Op{
		Reactor:  e.reactor,
		FD:       sock,
		Interest: api.InterestWrite,
		Timeout:  timeout,
		Attempt: func() error {
			return unix.Sendmsg(sock, payload, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		},
		Done: func(derr error) {
			if derr != nil {
				if derr != api.ErrOperationTimeout {
					log.Printf("[endpoint] send descriptor failed after resume: %v", derr)
				}
				cb(false)
				return
			}
			e.metrics.IncSent()
			cb(true)
		},
	})
	return raise("sendmsg", err)
}

// ReceiveDescriptor waits for one descriptor from the peer. cb
// receives the raw handle and owns it; fd.Invalid means the peer
// closed without sending or the wait timed out — both expected
// outcomes, not errors.
func (e *Endpoint) ReceiveDescriptor(timeout time.Duration, cb ReceiveFunc) error {
	if cb == nil {
		return api.ErrInvalidArgument
	}
	sock, err := e.rawHandle()
	if err != nil {
		return err
	}
	env := pool.GetEnvelope(protocol.EnvelopeSpace())
	result := fd.Invalid
	err = retry.Start(retry.Op{
		Reactor:  e.reactor,
		FD:       sock,
		Interest: api.InterestRead,
		Timeout:  timeout,
		Attempt: func() error {
			n, oobn, _, _, rerr := unix.Recvmsg(sock, env.Payload(), env.OOB(),
				unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
			if rerr != nil {
				return rerr
			}
			if n == 0 && oobn == 0 {
				// End of connection: no descriptor available.
				result = fd.Invalid
				return nil
			}
			raw, derr := protocol.DecodeRights(env.OOB()[:oobn])
			if derr != nil {
				return derr
			}
			result = raw
			return nil
		},
		Done: func(derr error) {
			env.Release()
			if derr != nil {
				if derr != api.ErrOperationTimeout {
					log.Printf("[endpoint] receive descriptor failed after resume: %v", derr)
				}
				cb(fd.Invalid)
				return
			}
			if result != fd.Invalid {
				e.metrics.IncReceived()
			}
			cb(result)
		},
	})
	if err != nil {
		env.Release()
	}
	return raise("recvmsg", err)
}

// errnoOf extracts the unix errno from a syscall error, defaulting to
// EIO for wrapped non-errno failures.
func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}

// raise converts a synchronous attempt failure into the raised form:
// OS errnos become *api.NetError, everything else passes through.
func raise(op string, err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return api.NewNetError(op, errno)
	}
	return err
}
