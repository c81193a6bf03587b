package kernels

import (
	"math"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	registerAll(model.SOFTMAX, Pair{Prepare: sameShapeAsInput0, Execute: executeSoftmax}, nntype.TensorF32, nntype.TensorQuant8Asymm)
	registerAll(model.L2_NORMALIZATION, Pair{Prepare: sameShapeAsInput0, Execute: executeL2Normalization}, nntype.TensorF32, nntype.TensorQuant8Asymm)
	register(model.LOCAL_RESPONSE_NORMALIZATION, nntype.TensorF32, Pair{Prepare: sameShapeAsInput0, Execute: executeLRN})
}

func sameShapeAsInput0(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	return []nntype.Shape{operands[op.Inputs[0]].Shape.Clone()}, nil
}

// executeSoftmax applies softmax along the last dimension, scaled by
// the beta operand (inputs[1]), the way the last axis is always the
// "depth" axis for the tensor shapes this op is defined over.
func executeSoftmax(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	beta := readFloat32(operands[op.Inputs[1]])
	out := operands[op.Outputs[0]]

	rank := len(in.Shape)
	if rank == 0 {
		return nnerrors.BadDataf("softmax: input must have rank >= 1")
	}
	depth := in.Shape[rank-1]
	if depth == 0 {
		return nil
	}
	outer := nntype.ElementCount(in.Shape) / uint64(depth)

	row := make([]float32, depth)
	for o := uint64(0); o < outer; o++ {
		base := o * uint64(depth)
		max := float32(math.Inf(-1))
		for d := uint32(0); d < depth; d++ {
			v := asFloat(in, base+uint64(d))
			row[d] = v
			if v > max {
				max = v
			}
		}
		var sum float32
		for d := uint32(0); d < depth; d++ {
			e := float32(math.Exp(float64((row[d] - max) * beta)))
			row[d] = e
			sum += e
		}
		for d := uint32(0); d < depth; d++ {
			setAsFloat(out, base+uint64(d), row[d]/sum)
		}
	}
	return nil
}

// executeL2Normalization scales each vector along the last dimension to
// unit L2 norm, per-"outer" index just like softmax.
func executeL2Normalization(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	out := operands[op.Outputs[0]]

	rank := len(in.Shape)
	if rank == 0 {
		return nnerrors.BadDataf("l2_normalization: input must have rank >= 1")
	}
	depth := in.Shape[rank-1]
	outer := nntype.ElementCount(in.Shape) / uint64(depth)

	for o := uint64(0); o < outer; o++ {
		base := o * uint64(depth)
		var sumSq float32
		for d := uint32(0); d < depth; d++ {
			v := asFloat(in, base+uint64(d))
			sumSq += v * v
		}
		norm := float32(math.Sqrt(float64(sumSq)))
		if norm == 0 {
			norm = 1
		}
		for d := uint32(0); d < depth; d++ {
			setAsFloat(out, base+uint64(d), asFloat(in, base+uint64(d))/norm)
		}
	}
	return nil
}

// executeLRN implements local response normalization across the
// channel (last) dimension: out[c] = in[c] / (bias + alpha *
// sum(in[c-r..c+r]^2))^beta, with radius/bias/alpha/beta carried as
// scalar operands inputs[1..4].
func executeLRN(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	radius := int(readInt32(operands[op.Inputs[1]]))
	bias := readFloat32(operands[op.Inputs[2]])
	alpha := readFloat32(operands[op.Inputs[3]])
	beta := readFloat32(operands[op.Inputs[4]])
	out := operands[op.Outputs[0]]

	rank := len(in.Shape)
	if rank == 0 {
		return nnerrors.BadDataf("local_response_normalization: input must have rank >= 1")
	}
	depth := int(in.Shape[rank-1])
	outer := nntype.ElementCount(in.Shape) / uint64(depth)

	for o := uint64(0); o < outer; o++ {
		base := o * uint64(depth)
		for c := 0; c < depth; c++ {
			lo := c - radius
			if lo < 0 {
				lo = 0
			}
			hi := c + radius
			if hi >= depth {
				hi = depth - 1
			}
			var sumSq float32
			for j := lo; j <= hi; j++ {
				v := asFloat(in, base+uint64(j))
				sumSq += v * v
			}
			denom := float32(math.Pow(float64(bias+alpha*sumSq), float64(beta)))
			setAsFloat(out, base+uint64(c), asFloat(in, base+uint64(c))/denom)
		}
	}
	return nil
}
