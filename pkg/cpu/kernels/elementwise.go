package kernels

import (
	"math"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	registerBroadcast(model.ADD, func(a, b float32) float32 { return a + b })
	registerBroadcast(model.MUL, func(a, b float32) float32 { return a * b })

	registerUnary(model.RELU, func(v float32) float32 { return applyActivationF32(v, model.ActivationRelu) })
	registerUnary(model.RELU1, func(v float32) float32 { return applyActivationF32(v, model.ActivationRelu1) })
	registerUnary(model.RELU6, func(v float32) float32 { return applyActivationF32(v, model.ActivationRelu6) })
	registerUnary(model.LOGISTIC, func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) })
	registerUnary(model.TANH, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
	registerUnary(model.FLOOR, func(v float32) float32 { return float32(math.Floor(float64(v))) })

	register(model.DEQUANTIZE, nntype.TensorQuant8Asymm, Pair{
		Prepare: func(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
			return []nntype.Shape{operands[op.Inputs[0]].Shape.Clone()}, nil
		},
		Execute: func(op model.Operation, operands []RuntimeOperand) error {
			in := operands[op.Inputs[0]]
			out := operands[op.Outputs[0]]
			n := nntype.ElementCount(in.Shape)
			for i := uint64(0); i < n; i++ {
				setF32At(out, i, asFloat(in, i))
			}
			return nil
		},
	})
}

// registerBroadcast registers a two-input, activation-fused elementwise
// op (ADD, MUL) for both F32 and Quant8 tensors; asFloat/setAsFloat
// abstract the element encoding so the same loop body works for either.
func registerBroadcast(kind model.OpKind, fn func(a, b float32) float32) {
	pair := Pair{
		Prepare: func(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
			a := operands[op.Inputs[0]]
			b := operands[op.Inputs[1]]
			shape, err := broadcastShape(a.Shape, b.Shape)
			if err != nil {
				return nil, err
			}
			return []nntype.Shape{shape}, nil
		},
		Execute: func(op model.Operation, operands []RuntimeOperand) error {
			a := operands[op.Inputs[0]]
			b := operands[op.Inputs[1]]
			act := model.Activation(readInt32(operands[op.Inputs[2]]))
			out := operands[op.Outputs[0]]

			n := nntype.ElementCount(out.Shape)
			for i := uint64(0); i < n; i++ {
				av := asFloat(a, broadcastIndex(a.Shape, out.Shape, i))
				bv := asFloat(b, broadcastIndex(b.Shape, out.Shape, i))
				setAsFloat(out, i, applyActivationF32(fn(av, bv), act))
			}
			return nil
		},
	}
	registerAll(kind, pair, nntype.TensorF32, nntype.TensorQuant8Asymm)
}

func registerUnary(kind model.OpKind, fn func(v float32) float32) {
	pair := Pair{
		Prepare: func(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
			return []nntype.Shape{operands[op.Inputs[0]].Shape.Clone()}, nil
		},
		Execute: func(op model.Operation, operands []RuntimeOperand) error {
			in := operands[op.Inputs[0]]
			out := operands[op.Outputs[0]]
			n := nntype.ElementCount(in.Shape) // 1 for a scalar operand
			for i := uint64(0); i < n; i++ {
				setAsFloat(out, i, fn(asFloat(in, i)))
			}
			return nil
		},
	}
	registerAll(kind, pair, nntype.TensorF32, nntype.TensorQuant8Asymm)
}

// broadcastIndex maps a flat index into outShape back to the
// corresponding flat index into inShape under the broadcasting rule: a
// dimension of size 1 (or absent, for ranks shorter than outShape)
// repeats instead of advancing.
func broadcastIndex(inShape, outShape nntype.Shape, flatOut uint64) uint64 {
	rank := len(outShape)
	inRank := len(inShape)

	coord := make([]uint32, rank)
	rem := flatOut
	for i := rank - 1; i >= 0; i-- {
		d := uint64(outShape[i])
		if d == 0 {
			d = 1
		}
		coord[i] = uint32(rem % d)
		rem /= d
	}

	var flatIn, stride uint64 = 0, 1
	for i := inRank - 1; i >= 0; i-- {
		outIdx := rank - inRank + i
		d := inShape[i]
		c := coord[outIdx]
		if d == 1 {
			c = 0
		}
		flatIn += uint64(c) * stride
		stride *= uint64(d)
	}
	return flatIn
}
