package kernels

import (
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	registerAll(model.FULLY_CONNECTED, Pair{Prepare: prepareFullyConnected, Execute: executeFullyConnected}, nntype.TensorF32, nntype.TensorQuant8Asymm)
}

// prepareFullyConnected flattens the input to (batch, input_size) per
// weights' (num_units, input_size), producing a (batch, num_units) output.
func prepareFullyConnected(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	weights := operands[op.Inputs[1]]
	if len(weights.Shape) != 2 {
		return nil, nnerrors.BadDataf("fully_connected: weights must be rank-2 (num_units, input_size)")
	}
	numUnits, inputSize := weights.Shape[0], weights.Shape[1]

	total := nntype.ElementCount(in.Shape)
	if total%uint64(inputSize) != 0 {
		return nil, nnerrors.BadDataf("fully_connected: input element count %d not divisible by input_size %d", total, inputSize)
	}
	batch := uint32(total / uint64(inputSize))
	return []nntype.Shape{{batch, numUnits}}, nil
}

func executeFullyConnected(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	weights := operands[op.Inputs[1]]
	bias := operands[op.Inputs[2]]
	act := model.Activation(readInt32(operands[op.Inputs[3]]))
	out := operands[op.Outputs[0]]

	inputSize := weights.Shape[1]
	batch, numUnits := out.Shape[0], out.Shape[1]

	for b := uint32(0); b < batch; b++ {
		for u := uint32(0); u < numUnits; u++ {
			acc := asFloat(bias, uint64(u))
			for k := uint32(0); k < inputSize; k++ {
				iv := asFloat(in, uint64(b)*uint64(inputSize)+uint64(k))
				wv := asFloat(weights, uint64(u)*uint64(inputSize)+uint64(k))
				acc += iv * wv
			}
			setAsFloat(out, uint64(b)*uint64(numUnits)+uint64(u), applyActivationF32(acc, act))
		}
	}
	return nil
}
