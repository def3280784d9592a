// File: pool/envelope.go
// Author: momentics <momentics@gmail.com>

package pool

import "github.com/valyala/bytebufferpool"

// envelopePool backs the staging buffers for receive attempts.
var envelopePool bytebufferpool.Pool

// EnvelopeBuffer is one receive staging area: a single payload byte
// followed by room for the full ancillary envelope, carved out of one
// pooled allocation.
type EnvelopeBuffer struct {
	bb      *bytebufferpool.ByteBuffer
	oobSize int
}

// GetEnvelope returns a staging buffer with oobSize bytes of control
// space. The contents are zeroed; a short receive must not observe a
// previous envelope.
func GetEnvelope(oobSize int) *EnvelopeBuffer {
	bb := envelopePool.Get()
	need := 1 + oobSize
	if cap(bb.B) < need {
		bb.B = make([]byte, need)
	}
	bb.B = bb.B[:need]
	for i := range bb.B {
		bb.B[i] = 0
	}
	return &EnvelopeBuffer{bb: bb, oobSize: oobSize}
}

// Payload is the one-byte regular payload slot.
func (e *EnvelopeBuffer) Payload() []byte { return e.bb.B[:1] }

// OOB is the control-message slot.
func (e *EnvelopeBuffer) OOB() []byte { return e.bb.B[1 : 1+e.oobSize] }

// Release returns the buffer to the pool. The EnvelopeBuffer must not
// be used afterwards.
func (e *EnvelopeBuffer) Release() {
	if e.bb == nil {
		return
	}
	envelopePool.Put(e.bb)
	e.bb = nil
}
