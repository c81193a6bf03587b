// Package wire encodes a Request's dispatch-time shape -- the argument
// views and pool vector a driver receives (§4.F step 2-3, §6) -- into
// a flatbuffer, the way the runtime this module is modeled on hands a
// driver an HIDL-serialized request rather than raw process pointers.
// The core's own in-process reference driver (pkg/driver/refimpl) never
// needs this: it consumes driver.ExecutionRequest directly. This
// package exists for the boundary a real out-of-process driver sits
// behind, and for cmd/nnrt's "inspect" subcommand to report the wire
// size a request would actually cross.
package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/nnexec/nnexec/pkg/driver"
)

// EncodeRequest flattens req into a self-contained flatbuffer: one
// vector of operation indices, and two parallel argument tables (one
// per direction), each a flat struct-of-arrays rather than a vector of
// per-argument tables, since every field is a fixed-width scalar and a
// struct-of-arrays layout is both simpler to hand-encode against the
// builder's primitive Prepend calls and cheaper for a reader to walk.
func EncodeRequest(req driver.ExecutionRequest) []byte {
	b := flatbuffers.NewBuilder(1024)

	ops := make([]int32, len(req.Operations))
	for i, v := range req.Operations {
		ops[i] = int32(v)
	}
	opsVec := writeInt32Vector(b, ops)
	inArgs := writeArgumentArrays(b, req.Inputs)
	outArgs := writeArgumentArrays(b, req.Outputs)
	poolSizes := make([]int32, len(req.Pools))
	for i, p := range req.Pools {
		poolSizes[i] = int32(len(p.Bytes))
	}
	poolSizesVec := writeInt32Vector(b, poolSizes)

	b.StartObject(numRequestFields)
	b.PrependUOffsetTSlot(0, opsVec, 0)
	prependArgumentArrays(b, inArgs, fieldInputOperand)
	prependArgumentArrays(b, outArgs, fieldOutputOperand)
	b.PrependUOffsetTSlot(fieldPoolSizes, poolSizesVec, 0)
	root := b.EndObject()

	b.Finish(root)
	return b.FinishedBytes()
}

// argumentArrays is the struct-of-arrays encoding of one direction's
// []driver.ArgumentView.
type argumentArrays struct {
	operandIndex flatbuffers.UOffsetT
	poolIndex    flatbuffers.UOffsetT
	offset       flatbuffers.UOffsetT
	length       flatbuffers.UOffsetT
	dimsFlat     flatbuffers.UOffsetT
	dimsCount    flatbuffers.UOffsetT
}

func writeArgumentArrays(b *flatbuffers.Builder, views []driver.ArgumentView) argumentArrays {
	operandIdx := make([]int32, len(views))
	poolIdx := make([]int32, len(views))
	offsets := make([]uint64, len(views))
	lengths := make([]uint64, len(views))
	dimsCount := make([]int32, len(views))
	var dimsFlat []uint32
	for i, v := range views {
		operandIdx[i] = int32(v.OperandIndex)
		poolIdx[i] = int32(v.PoolIndex)
		offsets[i] = v.Offset
		lengths[i] = v.Length
		dimsCount[i] = int32(len(v.Dimensions))
		dimsFlat = append(dimsFlat, v.Dimensions...)
	}
	return argumentArrays{
		operandIndex: writeInt32Vector(b, operandIdx),
		poolIndex:    writeInt32Vector(b, poolIdx),
		offset:       writeUint64Vector(b, offsets),
		length:       writeUint64Vector(b, lengths),
		dimsFlat:     writeUint32Vector(b, dimsFlat),
		dimsCount:    writeInt32Vector(b, dimsCount),
	}
}

// Field slots: 0=operations, 1-6=input arrays, 7-12=output arrays,
// 13=pool sizes. Declared as constants rather than iota-derived from
// fieldInputOperand so the output block's offset is explicit at the
// call sites in EncodeRequest.
const (
	fieldInputOperand  = 1
	fieldOutputOperand = 7
	fieldPoolSizes     = 13
	numRequestFields   = 14
)

func prependArgumentArrays(b *flatbuffers.Builder, a argumentArrays, base int) {
	b.PrependUOffsetTSlot(base+0, a.operandIndex, 0)
	b.PrependUOffsetTSlot(base+1, a.poolIndex, 0)
	b.PrependUOffsetTSlot(base+2, a.offset, 0)
	b.PrependUOffsetTSlot(base+3, a.length, 0)
	b.PrependUOffsetTSlot(base+4, a.dimsFlat, 0)
	b.PrependUOffsetTSlot(base+5, a.dimsCount, 0)
}

func writeInt32Vector(b *flatbuffers.Builder, v []int32) flatbuffers.UOffsetT {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependInt32(v[i])
	}
	return b.EndVector(len(v))
}

func writeUint32Vector(b *flatbuffers.Builder, v []uint32) flatbuffers.UOffsetT {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependUint32(v[i])
	}
	return b.EndVector(len(v))
}

func writeUint64Vector(b *flatbuffers.Builder, v []uint64) flatbuffers.UOffsetT {
	b.StartVector(8, len(v), 8)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependUint64(v[i])
	}
	return b.EndVector(len(v))
}

// Size returns the encoded byte length of req without retaining the
// buffer, for "nnrt inspect" to report the wire cost of a request.
func Size(req driver.ExecutionRequest) int {
	return len(EncodeRequest(req))
}
