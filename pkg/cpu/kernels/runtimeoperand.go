// Package kernels implements the shape-inference ("prepare") and
// numeric ("execute") pair for each (OpKind, ElementType) the CPU
// executor can dispatch to, per the spec's Design Notes: a table keyed
// by (OpKind, ElementType) replaces a hand-written switch, and the same
// table trivially answers a driver's SupportedOperations query.
package kernels

import (
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// BufferRef distinguishes a buffer the executor owns (and must free
// when UsesLeft reaches zero) from one it only borrows (a constant or a
// pool slice it must never free).
type BufferRef struct {
	Owned    []byte
	Borrowed []byte
}

// Bytes returns the live view regardless of ownership.
func (b BufferRef) Bytes() []byte {
	if b.Owned != nil {
		return b.Owned
	}
	return b.Borrowed
}

// RuntimeOperand is the transient, per-run state for one operand,
// indexed like the model's operand table (§3's "Run-time operand info").
type RuntimeOperand struct {
	Type  nntype.ElementType
	Shape nntype.Shape
	Quant *nntype.QuantParams

	Buffer BufferRef
	// UsesLeft is the remaining consumer count: initialized from the
	// operand's ConsumerCount for temporaries, zero otherwise. Model
	// inputs/outputs are never freed by the executor regardless.
	UsesLeft int
	Lifetime model.Lifetime
}

// HasBuffer reports whether a buffer has been materialized yet.
func (r *RuntimeOperand) HasBuffer() bool {
	return r.Buffer.Owned != nil || r.Buffer.Borrowed != nil
}

// ByteSize is nntype.ByteSize for this operand's current resolved type/shape.
func (r *RuntimeOperand) ByteSize() uint64 {
	return nntype.ByteSize(r.Type, r.Shape)
}
