package kernels

import (
	"math"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	avg := Pair{Prepare: preparePool2D, Execute: poolExecutor(poolAverage)}
	max := Pair{Prepare: preparePool2D, Execute: poolExecutor(poolMax)}
	l2 := Pair{Prepare: preparePool2D, Execute: poolExecutor(poolL2)}

	registerAll(model.AVERAGE_POOL_2D, avg, nntype.TensorF32, nntype.TensorQuant8Asymm)
	registerAll(model.MAX_POOL_2D, max, nntype.TensorF32, nntype.TensorQuant8Asymm)
	register(model.L2_POOL_2D, nntype.TensorF32, l2)
}

// poolParams is the pooling-op argument layout: same two padding
// conventions as convParams, plus a filter window instead of a filter
// operand.
type poolParams struct {
	padL, padR, padT, padB uint32
	strideW, strideH       uint32
	filterW, filterH       uint32
	act                    model.Activation
}

func parsePoolArgs(op model.Operation, operands []RuntimeOperand, inH, inW uint32) (poolParams, error) {
	args := op.Inputs[1:]
	n := len(args)
	read := func(i int) int32 { return readInt32(operands[args[i]]) }

	var p poolParams
	explicit := n == 9 || n == 10
	implicit := n == 6 || n == 7

	idx := 0
	var code int32
	switch {
	case explicit:
		p.padL, p.padR, p.padT, p.padB = uint32(read(0)), uint32(read(1)), uint32(read(2)), uint32(read(3))
		idx = 4
	case implicit:
		code = read(0)
		idx = 1
	default:
		return p, nnerrors.BadDataf("pool: unrecognized argument layout (%d trailing args)", n)
	}

	p.strideW = uint32(read(idx))
	p.strideH = uint32(read(idx + 1))
	p.filterW = uint32(read(idx + 2))
	p.filterH = uint32(read(idx + 3))
	idx += 4
	p.act = model.Activation(read(idx))

	if implicit {
		var outH, outW uint32
		if code == 0 {
			outH, outW = outSizeSame(inH, p.strideH), outSizeSame(inW, p.strideW)
		} else {
			outH, outW = outSizeValid(inH, p.filterH, p.strideH), outSizeValid(inW, p.filterW, p.strideW)
		}
		totalH := padTotal(inH, p.filterH, p.strideH, outH)
		totalW := padTotal(inW, p.filterW, p.strideW, outW)
		p.padT, p.padB = padBeginEnd(totalH)
		p.padL, p.padR = padBeginEnd(totalW)
	}
	return p, nil
}

func preparePool2D(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	if len(in.Shape) != 4 {
		return nil, nnerrors.BadDataf("pool: input must be rank-4 NHWC")
	}
	p, err := parsePoolArgs(op, operands, in.Shape[1], in.Shape[2])
	if err != nil {
		return nil, err
	}
	outH := convOutSize(in.Shape[1], p.filterH, p.strideH, p.padT, p.padB)
	outW := convOutSize(in.Shape[2], p.filterW, p.strideW, p.padL, p.padR)
	return []nntype.Shape{{in.Shape[0], outH, outW, in.Shape[3]}}, nil
}

// windowFn reduces one pooling window's values to a single output value.
type windowFn func(values []float32) float32

func poolAverage(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum / float32(len(values))
}

func poolMax(values []float32) float32 {
	m := float32(math.Inf(-1))
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func poolL2(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v * v
	}
	return float32(math.Sqrt(float64(sum) / float64(len(values))))
}

func poolExecutor(fn windowFn) ExecuteFn {
	return func(op model.Operation, operands []RuntimeOperand) error {
		in := operands[op.Inputs[0]]
		out := operands[op.Outputs[0]]
		p, err := parsePoolArgs(op, operands, in.Shape[1], in.Shape[2])
		if err != nil {
			return err
		}

		inH, inW, c := in.Shape[1], in.Shape[2], in.Shape[3]
		batch, outH, outW := out.Shape[0], out.Shape[1], out.Shape[2]
		window := make([]float32, 0, p.filterH*p.filterW)

		for b := uint32(0); b < batch; b++ {
			for oy := uint32(0); oy < outH; oy++ {
				for ox := uint32(0); ox < outW; ox++ {
					baseY := int64(oy*p.strideH) - int64(p.padT)
					baseX := int64(ox*p.strideW) - int64(p.padL)
					for ch := uint32(0); ch < c; ch++ {
						window = window[:0]
						for fy := uint32(0); fy < p.filterH; fy++ {
							iy := baseY + int64(fy)
							if iy < 0 || iy >= int64(inH) {
								continue
							}
							for fx := uint32(0); fx < p.filterW; fx++ {
								ix := baseX + int64(fx)
								if ix < 0 || ix >= int64(inW) {
									continue
								}
								window = append(window, asFloat(in, flatOf(in.Shape, []uint32{b, uint32(iy), uint32(ix), ch})))
							}
						}
						v := applyActivationF32(fn(window), p.act)
						setAsFloat(out, flatOf(out.Shape, []uint32{b, oy, ox, ch}), v)
					}
				}
			}
		}
		return nil
	}
}
