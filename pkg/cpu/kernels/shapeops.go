package kernels

import (
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	registerAll(model.RESHAPE, Pair{Prepare: prepareReshape, Execute: executeCopy}, nntype.TensorF32, nntype.TensorQuant8Asymm, nntype.TensorI32)
	registerAll(model.CONCATENATION, Pair{Prepare: prepareConcat, Execute: executeConcat}, nntype.TensorF32, nntype.TensorQuant8Asymm)
	registerAll(model.DEPTH_TO_SPACE, Pair{Prepare: prepareDepthToSpace, Execute: executeDepthToSpace}, nntype.TensorF32, nntype.TensorQuant8Asymm)
	registerAll(model.SPACE_TO_DEPTH, Pair{Prepare: prepareSpaceToDepth, Execute: executeSpaceToDepth}, nntype.TensorF32, nntype.TensorQuant8Asymm)
	register(model.RESIZE_BILINEAR, nntype.TensorF32, Pair{Prepare: prepareResizeBilinear, Execute: executeResizeBilinear})
}

// coordOf decomposes a row-major flat index into shape's coordinates.
func coordOf(shape nntype.Shape, flat uint64) []uint32 {
	coord := make([]uint32, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		d := uint64(shape[i])
		if d == 0 {
			d = 1
		}
		coord[i] = uint32(flat % d)
		flat /= d
	}
	return coord
}

// flatOf is coordOf's inverse.
func flatOf(shape nntype.Shape, coord []uint32) uint64 {
	var flat, stride uint64 = 0, 1
	for i := len(shape) - 1; i >= 0; i-- {
		flat += uint64(coord[i]) * stride
		stride *= uint64(shape[i])
	}
	return flat
}

func prepareReshape(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	dims := operands[op.Inputs[1]]
	n := nntype.ElementCount(dims.Shape)

	out := make(nntype.Shape, n)
	wildcard := -1
	known := uint64(1)
	for i := uint64(0); i < n; i++ {
		v := i32At(dims, i)
		if v < 0 {
			if wildcard >= 0 {
				return nil, nnerrors.BadDataf("reshape: only one dimension may be -1")
			}
			wildcard = int(i)
			continue
		}
		out[i] = uint32(v)
		known *= uint64(v)
	}

	total := nntype.ElementCount(in.Shape)
	if wildcard >= 0 {
		if known == 0 || total%known != 0 {
			return nil, nnerrors.BadDataf("reshape: cannot infer dimension, %d not divisible by %d", total, known)
		}
		out[wildcard] = uint32(total / known)
	} else if known != total {
		return nil, nnerrors.BadDataf("reshape: new shape has %d elements, input has %d", known, total)
	}
	return []nntype.Shape{out}, nil
}

func executeCopy(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	out := operands[op.Outputs[0]]
	copy(out.Buffer.Bytes(), in.Buffer.Bytes())
	return nil
}

func prepareConcat(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	n := len(op.Inputs) - 1
	axisOp := operands[op.Inputs[n]]
	axis := int(readInt32(axisOp))

	first := operands[op.Inputs[0]]
	rank := len(first.Shape)
	if axis < 0 || axis >= rank {
		return nil, nnerrors.BadDataf("concatenation: axis %d out of range for rank %d", axis, rank)
	}

	out := first.Shape.Clone()
	out[axis] = 0
	for i := 0; i < n; i++ {
		ro := operands[op.Inputs[i]]
		if ro.Type != first.Type {
			return nil, nnerrors.BadDataf("concatenation: input %d type mismatch", i)
		}
		if first.Type == nntype.TensorQuant8Asymm {
			if ro.Quant == nil || first.Quant == nil || *ro.Quant != *first.Quant {
				return nil, nnerrors.BadDataf("concatenation: input %d quantization params differ", i)
			}
		}
		if len(ro.Shape) != rank {
			return nil, nnerrors.BadDataf("concatenation: input %d rank mismatch", i)
		}
		for d := 0; d < rank; d++ {
			if d == axis {
				out[axis] += ro.Shape[d]
				continue
			}
			if ro.Shape[d] != first.Shape[d] {
				return nil, nnerrors.BadDataf("concatenation: input %d dim %d mismatch", i, d)
			}
		}
	}
	return []nntype.Shape{out}, nil
}

func executeConcat(op model.Operation, operands []RuntimeOperand) error {
	n := len(op.Inputs) - 1
	axisOp := operands[op.Inputs[n]]
	axis := int(readInt32(axisOp))
	out := operands[op.Outputs[0]]

	offset := uint32(0)
	for i := 0; i < n; i++ {
		in := operands[op.Inputs[i]]
		count := nntype.ElementCount(in.Shape)
		for flat := uint64(0); flat < count; flat++ {
			coord := coordOf(in.Shape, flat)
			coord[axis] += offset
			outFlat := flatOf(out.Shape, coord)
			setAsFloat(out, outFlat, asFloat(in, flat))
		}
		offset += in.Shape[axis]
	}
	return nil
}

func prepareDepthToSpace(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	bs := uint32(readInt32(operands[op.Inputs[1]]))
	if bs == 0 || len(in.Shape) != 4 || in.Shape[3]%(bs*bs) != 0 {
		return nil, nnerrors.BadDataf("depth_to_space: invalid block_size %d for shape %v", bs, in.Shape)
	}
	out := nntype.Shape{in.Shape[0], in.Shape[1] * bs, in.Shape[2] * bs, in.Shape[3] / (bs * bs)}
	return []nntype.Shape{out}, nil
}

func executeDepthToSpace(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	bs := uint32(readInt32(operands[op.Inputs[1]]))
	out := operands[op.Outputs[0]]
	oc := out.Shape[3]

	n := nntype.ElementCount(out.Shape)
	for flat := uint64(0); flat < n; flat++ {
		c := coordOf(out.Shape, flat)
		b, oh, ow, och := c[0], c[1], c[2], c[3]
		ih, bsH := oh/bs, oh%bs
		iw, bsW := ow/bs, ow%bs
		ic := bsH*bs*oc + bsW*oc + och
		inFlat := flatOf(in.Shape, []uint32{b, ih, iw, ic})
		setAsFloat(out, flat, asFloat(in, inFlat))
	}
	return nil
}

func prepareSpaceToDepth(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	bs := uint32(readInt32(operands[op.Inputs[1]]))
	if bs == 0 || len(in.Shape) != 4 || in.Shape[1]%bs != 0 || in.Shape[2]%bs != 0 {
		return nil, nnerrors.BadDataf("space_to_depth: invalid block_size %d for shape %v", bs, in.Shape)
	}
	out := nntype.Shape{in.Shape[0], in.Shape[1] / bs, in.Shape[2] / bs, in.Shape[3] * bs * bs}
	return []nntype.Shape{out}, nil
}

func executeSpaceToDepth(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	bs := uint32(readInt32(operands[op.Inputs[1]]))
	out := operands[op.Outputs[0]]
	ic := in.Shape[3]

	n := nntype.ElementCount(out.Shape)
	for flat := uint64(0); flat < n; flat++ {
		c := coordOf(out.Shape, flat)
		b, oh, ow, oc := c[0], c[1], c[2], c[3]
		bsH := oc / (bs * ic)
		bsW := (oc / ic) % bs
		ch := oc % ic
		ih := oh*bs + bsH
		iw := ow*bs + bsW
		inFlat := flatOf(in.Shape, []uint32{b, ih, iw, ch})
		setAsFloat(out, flat, asFloat(in, inFlat))
	}
	return nil
}

func prepareResizeBilinear(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	in := operands[op.Inputs[0]]
	if len(in.Shape) != 4 {
		return nil, nnerrors.BadDataf("resize_bilinear: expected rank-4 NHWC input, got rank %d", len(in.Shape))
	}
	newWidth := uint32(readInt32(operands[op.Inputs[1]]))
	newHeight := uint32(readInt32(operands[op.Inputs[2]]))
	out := nntype.Shape{in.Shape[0], newHeight, newWidth, in.Shape[3]}
	return []nntype.Shape{out}, nil
}

func executeResizeBilinear(op model.Operation, operands []RuntimeOperand) error {
	in := operands[op.Inputs[0]]
	out := operands[op.Outputs[0]]

	inH, inW := in.Shape[1], in.Shape[2]
	outH, outW := out.Shape[1], out.Shape[2]
	if outH == 0 || outW == 0 {
		return nil
	}
	heightScale := float32(inH) / float32(outH)
	widthScale := float32(inW) / float32(outW)

	n := nntype.ElementCount(out.Shape)
	for flat := uint64(0); flat < n; flat++ {
		coord := coordOf(out.Shape, flat)
		b, oy, ox, ch := coord[0], coord[1], coord[2], coord[3]

		inY := float32(oy) * heightScale
		inX := float32(ox) * widthScale
		y0 := clampCoord(int(inY), int(inH))
		x0 := clampCoord(int(inX), int(inW))
		y1 := clampCoord(y0+1, int(inH))
		x1 := clampCoord(x0+1, int(inW))
		yFrac := inY - float32(y0)
		xFrac := inX - float32(x0)

		v00 := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(y0), uint32(x0), ch}))
		v01 := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(y0), uint32(x1), ch}))
		v10 := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(y1), uint32(x0), ch}))
		v11 := asFloat(in, flatOf(in.Shape, []uint32{b, uint32(y1), uint32(x1), ch}))

		top := v00 + (v01-v00)*xFrac
		bottom := v10 + (v11-v10)*xFrac
		setAsFloat(out, flat, top+(bottom-top)*yFrac)
	}
	return nil
}

func clampCoord(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
