package kernels

import (
	"encoding/binary"
	"math"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// Every scalar attribute operand (activation codes, axis indices, pool
// filter sizes, ...) is stored little-endian, the one wire-layout
// decision the whole module agrees on.

func readInt32(ro RuntimeOperand) int32 {
	b := ro.Buffer.Bytes()
	if len(b) < 4 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func readFloat32(ro RuntimeOperand) float32 {
	b := ro.Buffer.Bytes()
	if len(b) < 4 {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func putInt32(dst []byte, v int32) {
	binary.LittleEndian.PutUint32(dst, uint32(v))
}

func f32At(ro RuntimeOperand, i uint64) float32 {
	b := ro.Buffer.Bytes()
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
}

func setF32At(ro RuntimeOperand, i uint64, v float32) {
	b := ro.Buffer.Bytes()
	binary.LittleEndian.PutUint32(b[i*4:i*4+4], math.Float32bits(v))
}

func i32At(ro RuntimeOperand, i uint64) int32 {
	b := ro.Buffer.Bytes()
	return int32(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
}

// asFloat reads element i of ro as a real number regardless of whether
// ro is an F32/TensorF32 or a TensorQuant8Asymm operand.
func asFloat(ro RuntimeOperand, i uint64) float32 {
	if ro.Type == nntype.TensorQuant8Asymm {
		q := ro.Quant
		return q.Dequantize(ro.Buffer.Bytes()[i])
	}
	return f32At(ro, i)
}

func setAsFloat(ro RuntimeOperand, i uint64, v float32) {
	if ro.Type == nntype.TensorQuant8Asymm {
		ro.Buffer.Bytes()[i] = ro.Quant.Quantize(v)
		return
	}
	setF32At(ro, i, v)
}

// broadcastShape implements §4.G's broadcasting rule: aligned from the
// trailing dimension, each pair must be equal or one must be 1; the
// result dimension is the max, and result rank is the max input rank.
func broadcastShape(a, b nntype.Shape) (nntype.Shape, error) {
	ra, rb := len(a), len(b)
	rank := ra
	if rb > rank {
		rank = rb
	}
	out := make(nntype.Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := uint32(1), uint32(1)
		if i < ra {
			da = a[ra-1-i]
		}
		if i < rb {
			db = b[rb-1-i]
		}
		switch {
		case da == db:
			out[rank-1-i] = da
		case da == 1:
			out[rank-1-i] = db
		case db == 1:
			out[rank-1-i] = da
		default:
			return nil, nnerrors.BadDataf("broadcast: incompatible dims %d and %d", da, db)
		}
	}
	return out, nil
}

func applyActivationF32(v float32, act model.Activation) float32 {
	switch act {
	case model.ActivationRelu:
		if v < 0 {
			return 0
		}
		return v
	case model.ActivationRelu1:
		if v < -1 {
			return -1
		}
		if v > 1 {
			return 1
		}
		return v
	case model.ActivationRelu6:
		if v < 0 {
			return 0
		}
		if v > 6 {
			return 6
		}
		return v
	default:
		return v
	}
}

// outSizeSame/outSizeValid implement §4.G's convolution/pooling output
// size formulas.
func outSizeSame(in, stride uint32) uint32 {
	return ceilDiv(in, stride)
}

func outSizeValid(in, filter, stride uint32) uint32 {
	return ceilDiv(in-filter+1, stride)
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// padTotal returns the total padding needed along one spatial
// dimension so that the given output size is achieved, per §4.G:
// max(0, (out-1)*stride + filter - in).
func padTotal(in, filter, stride, out uint32) uint32 {
	need := int64(out-1)*int64(stride) + int64(filter) - int64(in)
	if need < 0 {
		return 0
	}
	return uint32(need)
}

// padBeginEnd splits total padding with the extra pixel on the "end"
// side, per §4.G.
func padBeginEnd(total uint32) (begin, end uint32) {
	begin = total / 2
	end = total - begin
	return
}

type padding int

const (
	PaddingSame padding = iota
	PaddingValid
)
