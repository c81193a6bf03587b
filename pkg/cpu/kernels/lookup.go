package kernels

import (
	"sort"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func init() {
	// Both lookup ops lead with their int32 lookups/indices tensor, so
	// that is the type the dispatch table keys on; the value tensor's
	// element encoding is handled inside the kernel via asFloat.
	register(model.EMBEDDING_LOOKUP, nntype.TensorI32, Pair{Prepare: prepareEmbeddingLookup, Execute: executeEmbeddingLookup})
	register(model.HASHTABLE_LOOKUP, nntype.TensorI32, Pair{Prepare: prepareHashtableLookup, Execute: executeHashtableLookup})
}

func prepareEmbeddingLookup(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	indices := operands[op.Inputs[0]]
	value := operands[op.Inputs[1]]
	if len(value.Shape) == 0 {
		return nil, nnerrors.BadDataf("embedding_lookup: value must have rank >= 1")
	}
	out := append(nntype.Shape{}, indices.Shape...)
	out = append(out, value.Shape[1:]...)
	return []nntype.Shape{out}, nil
}

func executeEmbeddingLookup(op model.Operation, operands []RuntimeOperand) error {
	indices := operands[op.Inputs[0]]
	value := operands[op.Inputs[1]]
	out := operands[op.Outputs[0]]

	rowSize := nntype.ElementCount(value.Shape) / uint64(value.Shape[0])
	n := nntype.ElementCount(indices.Shape)
	for i := uint64(0); i < n; i++ {
		row := uint64(i32At(indices, i))
		if row >= uint64(value.Shape[0]) {
			return nnerrors.BadDataf("embedding_lookup: index %d out of range [0,%d)", row, value.Shape[0])
		}
		for e := uint64(0); e < rowSize; e++ {
			setAsFloat(out, i*rowSize+e, asFloat(value, row*rowSize+e))
		}
	}
	return nil
}

func prepareHashtableLookup(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error) {
	lookups := operands[op.Inputs[0]]
	values := operands[op.Inputs[2]]
	if len(values.Shape) == 0 {
		return nil, nnerrors.BadDataf("hashtable_lookup: values must have rank >= 1")
	}
	out := append(nntype.Shape{}, lookups.Shape...)
	out = append(out, values.Shape[1:]...)
	hits := lookups.Shape.Clone()
	return []nntype.Shape{out, hits}, nil
}

// executeHashtableLookup performs a binary search of each lookup key
// against the (ascending, per §8 scenario 4) keys tensor, copying the
// matching values row or zero-filling and reporting a miss.
func executeHashtableLookup(op model.Operation, operands []RuntimeOperand) error {
	lookups := operands[op.Inputs[0]]
	keys := operands[op.Inputs[1]]
	values := operands[op.Inputs[2]]
	out := operands[op.Outputs[0]]
	hits := operands[op.Outputs[1]]

	numKeys := int(nntype.ElementCount(keys.Shape))
	rowSize := nntype.ElementCount(values.Shape) / uint64(values.Shape[0])
	n := nntype.ElementCount(lookups.Shape)

	for i := uint64(0); i < n; i++ {
		key := i32At(lookups, i)
		idx := sort.Search(numKeys, func(j int) bool { return i32At(keys, uint64(j)) >= key })
		found := idx < numKeys && i32At(keys, uint64(idx)) == key

		if found {
			for e := uint64(0); e < rowSize; e++ {
				setAsFloat(out, i*rowSize+e, asFloat(values, uint64(idx)*rowSize+e))
			}
			setHitFlag(hits, i, true)
		} else {
			for e := uint64(0); e < rowSize; e++ {
				setAsFloat(out, i*rowSize+e, 0)
			}
			setHitFlag(hits, i, false)
		}
	}
	return nil
}

// setHitFlag writes a raw 0/1 flag, independent of any quantization
// scale, since a hit/miss bit carries no physical unit to dequantize.
func setHitFlag(ro RuntimeOperand, i uint64, hit bool) {
	v := uint8(0)
	if hit {
		v = 1
	}
	b := ro.Buffer.Bytes()
	switch ro.Type {
	case nntype.TensorI32, nntype.TensorF32:
		putInt32(b[i*4:i*4+4], int32(v))
	default:
		b[i] = v
	}
}
