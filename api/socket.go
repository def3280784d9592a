// File: api/socket.go
// Author: momentics <momentics@gmail.com>
//
// Defines the stream-socket collaborator abstraction the descriptor
// exchange layer builds on, mirroring NetConn from hioload-ws.

package api

// HandleOwner is anything holding an open OS handle: a file, a stream
// socket, or another endpoint. Sending a descriptor is generalized
// over this interface.
type HandleOwner interface {
	// RawFD returns the underlying OS-level file descriptor.
	RawFD() uintptr
}

// StreamSocket abstracts the connection-oriented local socket the
// endpoint layer specializes. Implementations own their handle
// exclusively until Close or an explicit ownership release.
type StreamSocket interface {
	HandleOwner

	// SetNonblock switches the handle to non-blocking mode.
	SetNonblock() error

	// Close shuts down the handle and notifies upstream layers.
	Close() error
}
