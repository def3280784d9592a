// File: protocol/sockaddr.go
// Package protocol implements the wire structures of the descriptor
// exchange: the local-domain address buffer and the ancillary rights
// envelope.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address buffer layout, byte-exact:
//
//	[total_length:1][family_tag:1][path_bytes:variable][0x00:1]
//
// The path is passed through byte-for-byte, no escaping. Encoding
// fails fast when the path cannot fit the platform's fixed sockaddr
// buffer; nothing is silently truncated.

package protocol

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
)

const (
	// addrHeaderLen covers the total-length and family-tag bytes.
	addrHeaderLen = 2

	// familyTag identifies the local address family on the wire.
	familyTag = byte(unix.AF_UNIX)

	// maxPathBytes is the largest path that still leaves room for the
	// terminating zero byte inside the platform address buffer.
	maxPathBytes = len(unix.RawSockaddrUnix{}.Path) - 1
)

// EncodeSockaddr builds the address buffer for a local-domain endpoint
// path. Returns api.ErrPathTooLong when the encoded form would
// overflow the platform buffer.
func EncodeSockaddr(path string) ([]byte, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("encode sockaddr: empty path: %w", api.ErrInvalidArgument)
	}
	if len(path) > maxPathBytes {
		return nil, fmt.Errorf("encode sockaddr: %d bytes > %d: %w",
			len(path), maxPathBytes, api.ErrPathTooLong)
	}
	buf := make([]byte, addrHeaderLen+len(path)+1)
	buf[0] = byte(len(buf))
	buf[1] = familyTag
	copy(buf[addrHeaderLen:], path)
	buf[len(buf)-1] = 0x00
	return buf, nil
}

// DecodeSockaddr recovers the endpoint path from an encoded address
// buffer, validating the header and terminator.
func DecodeSockaddr(buf []byte) (string, error) {
	if len(buf) < addrHeaderLen+1 {
		return "", fmt.Errorf("decode sockaddr: %d bytes too short: %w",
			len(buf), api.ErrEnvelopeMalformed)
	}
	if int(buf[0]) != len(buf) {
		return "", fmt.Errorf("decode sockaddr: length field %d != %d: %w",
			buf[0], len(buf), api.ErrEnvelopeMalformed)
	}
	if buf[1] != familyTag {
		return "", fmt.Errorf("decode sockaddr: family tag %d != %d: %w",
			buf[1], familyTag, api.ErrEnvelopeMalformed)
	}
	if buf[len(buf)-1] != 0x00 {
		return "", fmt.Errorf("decode sockaddr: missing terminator: %w",
			api.ErrEnvelopeMalformed)
	}
	return string(buf[addrHeaderLen : len(buf)-1]), nil
}

// KernelSockaddr converts an encoded address buffer into the form the
// syscall layer consumes. Kept next to the codec so every assumption
// about the platform address structure lives in this package.
func KernelSockaddr(buf []byte) (unix.Sockaddr, error) {
	path, err := DecodeSockaddr(buf)
	if err != nil {
		return nil, err
	}
	return &unix.SockaddrUnix{Name: path}, nil
}
