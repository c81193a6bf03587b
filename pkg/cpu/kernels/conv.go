package kernels

import (
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	register(model.CONV_2D, nntype.TensorF32, Pair{Prepare: prepareConv2D, Execute: executeConv2D})
	register(model.CONV_2D, nntype.TensorQuant8Asymm, Pair{Prepare: prepareConv2D, Execute: executeConv2D})
	register(model.DEPTHWISE_CONV_2D, nntype.TensorF32, Pair{Prepare: prepareDepthwiseConv2D, Execute: executeDepthwiseConv2D})
	register(model.DEPTHWISE_CONV_2D, nntype.TensorQuant8Asymm, Pair{Prepare: prepareDepthwiseConv2D, Execute: executeDepthwiseConv2D})
}

// convParams is the resolved (stride, padding, activation) triple
// common to CONV_2D and DEPTHWISE_CONV_2D across both of NNAPI's
// implicit-padding and explicit-padding argument layouts.
type convParams struct {
	padL, padR, padT, padB uint32
	strideW, strideH       uint32
	depthMultiplier        uint32
	act                    model.Activation
}

// parseConvArgs reads the trailing scalar arguments for CONV_2D/
// DEPTHWISE_CONV_2D, starting at argStart (the index right after
// input/filter/bias), in whichever of the implicit- or
// explicit-padding layouts the operand count indicates. hasDepthMultiplier
// is false when the op has no depth_multiplier argument (CONV_2D).
func parseConvArgs(op model.Operation, operands []RuntimeOperand, argStart int, hasDepthMultiplier bool, inH, inW, filterH, filterW uint32) (convParams, error) {
	args := op.Inputs[argStart:]
	n := len(args)
	read := func(i int) int32 { return readInt32(operands[args[i]]) }

	var p convParams
	// Explicit layout carries four padding scalars before the strides;
	// implicit carries one padding code. With an optional
	// depth_multiplier and an optional trailing data_layout bool, the
	// remaining count after removing those settles which layout this is.
	base := n
	if hasDepthMultiplier {
		base-- // depth_multiplier
	}
	// An optional trailing NCHW/NHWC bool pushes the count up by one;
	// this runtime only supports NHWC and ignores the flag's value.
	explicit := base == 7 || base == 8
	implicit := base == 4 || base == 5

	idx := 0
	switch {
	case explicit:
		p.padL, p.padR, p.padT, p.padB = uint32(read(idx)), uint32(read(idx+1)), uint32(read(idx+2)), uint32(read(idx+3))
		idx += 4
	case implicit:
		// padding_code is re-read by name below once strides are known;
		// just skip over it here.
		idx++
	default:
		return p, nnerrors.BadDataf("conv: unrecognized argument layout (%d trailing args)", n)
	}

	p.strideW = uint32(read(idx))
	p.strideH = uint32(read(idx + 1))
	idx += 2

	if implicit {
		// Recompute the implicit padding now that strides are known,
		// per §4.G: Same padding targets ceil(in/stride) output size.
		code := read(0)
		var outH, outW uint32
		if code == 0 {
			outH, outW = outSizeSame(inH, p.strideH), outSizeSame(inW, p.strideW)
		} else {
			outH, outW = outSizeValid(inH, filterH, p.strideH), outSizeValid(inW, filterW, p.strideW)
		}
		totalH := padTotal(inH, filterH, p.strideH, outH)
		totalW := padTotal(inW, filterW, p.strideW, outW)
		p.padT, p.padB = padBeginEnd(totalH)
		p.padL, p.padR = padBeginEnd(totalW)
	}

	if hasDepthMultiplier {
		p.depthMultiplier = uint32(read(idx))
		idx++
	}
	p.act = model.Activation(read(idx))
	return p, nil
}

func prepareConv2D(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	filter := operands[op.Inputs[1]]
	if len(in.Shape) != 4 || len(filter.Shape) != 4 {
		return nil, nnerrors.BadDataf("conv_2d: input and filter must be rank-4 NHWC/OHWI")
	}
	inH, inW := in.Shape[1], in.Shape[2]
	depthOut, filterH, filterW := filter.Shape[0], filter.Shape[1], filter.Shape[2]

	p, err := parseConvArgs(op, operands, 3, false, inH, inW, filterH, filterW)
	if err != nil {
		return nil, err
	}
	outH := convOutSize(inH, filterH, p.strideH, p.padT, p.padB)
	outW := convOutSize(inW, filterW, p.strideW, p.padL, p.padR)
	return []nntype.Shape{{in.Shape[0], outH, outW, depthOut}}, nil
}

func convOutSize(in, filter, stride, padBegin, padEnd uint32) uint32 {
	return (in+padBegin+padEnd-filter)/stride + 1
}

func executeConv2D(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	filter := operands[op.Inputs[1]]
	bias := operands[op.Inputs[2]]
	out := operands[op.Outputs[0]]

	inH, inW, inC := in.Shape[1], in.Shape[2], in.Shape[3]
	filterH, filterW := filter.Shape[1], filter.Shape[2]

	p, err := parseConvArgs(op, operands, 3, false, inH, inW, filterH, filterW)
	if err != nil {
		return err
	}

	batch, outH, outW, outC := out.Shape[0], out.Shape[1], out.Shape[2], out.Shape[3]
	for b := uint32(0); b < batch; b++ {
		for oy := uint32(0); oy < outH; oy++ {
			for ox := uint32(0); ox < outW; ox++ {
				for oc := uint32(0); oc < outC; oc++ {
					acc := asFloat(bias, uint64(oc))
					baseY := int64(oy*p.strideH) - int64(p.padT)
					baseX := int64(ox*p.strideW) - int64(p.padL)
					for fy := uint32(0); fy < filterH; fy++ {
						iy := baseY + int64(fy)
						if iy < 0 || iy >= int64(inH) {
							continue
						}
						for fx := uint32(0); fx < filterW; fx++ {
							ix := baseX + int64(fx)
							if ix < 0 || ix >= int64(inW) {
								continue
							}
							for ic := uint32(0); ic < inC; ic++ {
								iv := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(iy), uint32(ix), ic}))
								fv := asFloat(filter, flatOf(filter.Shape, []uint32{oc, fy, fx, ic}))
								acc += iv * fv
							}
						}
					}
					setAsFloat(out, flatOf(out.Shape, []uint32{b, oy, ox, oc}), applyActivationF32(acc, p.act))
				}
			}
		}
	}
	return nil
}

func prepareDepthwiseConv2D(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	filter := operands[op.Inputs[1]]
	if len(in.Shape) != 4 || len(filter.Shape) != 4 {
		return nil, nnerrors.BadDataf("depthwise_conv_2d: input and filter must be rank-4")
	}
	inH, inW := in.Shape[1], in.Shape[2]
	filterH, filterW, depthOut := filter.Shape[1], filter.Shape[2], filter.Shape[3]

	p, err := parseConvArgs(op, operands, 3, true, inH, inW, filterH, filterW)
	if err != nil {
		return nil, err
	}
	outH := convOutSize(inH, filterH, p.strideH, p.padT, p.padB)
	outW := convOutSize(inW, filterW, p.strideW, p.padL, p.padR)
	return []nntype.Shape{{in.Shape[0], outH, outW, depthOut}}, nil
}

func executeDepthwiseConv2D(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	filter := operands[op.Inputs[1]]
	bias := operands[op.Inputs[2]]
	out := operands[op.Outputs[0]]

	inH, inW, inC := in.Shape[1], in.Shape[2], in.Shape[3]
	filterH, filterW := filter.Shape[1], filter.Shape[2]

	p, err := parseConvArgs(op, operands, 3, true, inH, inW, filterH, filterW)
	if err != nil {
		return err
	}
	depthMult := p.depthMultiplier
	if depthMult == 0 {
		depthMult = 1
	}

	batch, outH, outW, outC := out.Shape[0], out.Shape[1], out.Shape[2], out.Shape[3]
	for b := uint32(0); b < batch; b++ {
		for oy := uint32(0); oy < outH; oy++ {
			for ox := uint32(0); ox < outW; ox++ {
				for oc := uint32(0); oc < outC; oc++ {
					ic := oc / depthMult
					if ic >= inC {
						continue
					}
					acc := asFloat(bias, uint64(oc))
					baseY := int64(oy*p.strideH) - int64(p.padT)
					baseX := int64(ox*p.strideW) - int64(p.padL)
					for fy := uint32(0); fy < filterH; fy++ {
						iy := baseY + int64(fy)
						if iy < 0 || iy >= int64(inH) {
							continue
						}
						for fx := uint32(0); fx < filterW; fx++ {
							ix := baseX + int64(fx)
							if ix < 0 || ix >= int64(inW) {
								continue
							}
							iv := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(iy), uint32(ix), ic}))
							fv := asFloat(filter, flatOf(filter.Shape, []uint32{0, fy, fx, oc}))
							acc += iv * fv
						}
					}
					setAsFloat(out, flatOf(out.Shape, []uint32{b, oy, ox, oc}), applyActivationF32(acc, p.act))
				}
			}
		}
	}
	return nil
}
