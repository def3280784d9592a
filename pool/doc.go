// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
//
// Package pool provides pooled staging buffers for the descriptor
// exchange hot path, so per-call receive attempts do not allocate.
package pool
