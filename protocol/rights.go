// File: protocol/rights.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ancillary (SCM_RIGHTS) envelope carrying exactly one descriptor:
//
//	[cmsg_len:native][cmsg_level:native = SOL_SOCKET]
//	[cmsg_type:native = SCM_RIGHTS][descriptor:int32]
//
// The envelope always travels with one regular payload byte: at least
// one platform family refuses to deliver ancillary data attached to a
// zero-length payload. The byte is a protocol-compatibility shim, not
// a meaningful payload; peers must accept and ignore its value.

package protocol

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/fd"
)

// PayloadSentinel is the fixed dummy payload byte sent with every
// rights envelope.
const PayloadSentinel byte = 0x21

// descriptorSize is the encoded size of one descriptor in the
// envelope's data section.
const descriptorSize = int(unsafe.Sizeof(int32(0)))

// EnvelopeSpace returns the buffer size that holds one full rights
// envelope including alignment padding. Receive buffers are sized
// with this.
func EnvelopeSpace() int {
	return unix.CmsgSpace(descriptorSize)
}

// dataOffset is where the descriptor value starts, after the aligned
// control-message header.
func dataOffset() int {
	return unix.CmsgLen(0)
}

// EncodeRights builds the control bytes transferring one raw
// descriptor, plus the single payload byte that must accompany them.
func EncodeRights(raw int) (oob []byte, payload byte) {
	oob = make([]byte, EnvelopeSpace())
	h := (*unix.Cmsghdr)(unsafe.Pointer(&oob[0]))
	h.SetLen(unix.CmsgLen(descriptorSize))
	h.Level = unix.SOL_SOCKET
	h.Type = unix.SCM_RIGHTS
	*(*int32)(unsafe.Pointer(&oob[dataOffset()])) = int32(raw)
	return oob, PayloadSentinel
}

// DecodeRights parses the control bytes produced by a receive attempt.
// An empty or short control segment is not an error: the peer sent no
// descriptor (or closed), and fd.Invalid is returned. A full-length
// segment whose header contradicts its real size is a protocol
// violation.
func DecodeRights(oob []byte) (int, error) {
	if len(oob) < unix.CmsgLen(descriptorSize) {
		return fd.Invalid, nil
	}
	h := (*unix.Cmsghdr)(unsafe.Pointer(&oob[0]))
	if int(h.Len) != unix.CmsgLen(descriptorSize) {
		return fd.Invalid, fmt.Errorf("decode rights: header length %d != %d: %w",
			h.Len, unix.CmsgLen(descriptorSize), api.ErrEnvelopeMalformed)
	}
	if h.Level != unix.SOL_SOCKET || h.Type != unix.SCM_RIGHTS {
		return fd.Invalid, fmt.Errorf("decode rights: level/type %d/%d: %w",
			h.Level, h.Type, api.ErrEnvelopeMalformed)
	}
	raw := *(*int32)(unsafe.Pointer(&oob[dataOffset()]))
	return int(raw), nil
}
