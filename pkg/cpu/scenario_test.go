package cpu

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// End-to-end kernel scenarios driven through the executor, each a
// small finalized model run against caller-bound buffers.

func i32Bytes(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		u := uint32(v)
		out[4*i] = byte(u)
		out[4*i+1] = byte(u >> 8)
		out[4*i+2] = byte(u >> 16)
		out[4*i+3] = byte(u >> 24)
	}
	return out
}

func TestQuant8ConcatenationAxis1(t *testing.T) {
	m := model.New()
	in1, err := m.QuantTensorOperand(0.5, 0, 2, 3)
	require.NoError(t, err)
	in2, err := m.QuantTensorOperand(0.5, 0, 2, 3)
	require.NoError(t, err)
	axis, err := m.ScalarOperand(nntype.I32)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(axis, i32Bytes(1)))
	out, err := m.QuantTensorOperand(0.5, 0, 2, 6)
	require.NoError(t, err)

	_, err = m.AddOperation(model.CONCATENATION, []int{in1, in2, axis}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{in1, in2}, []int{out}))
	require.NoError(t, m.Finish())

	state, err := NewState(m, noPool)
	require.NoError(t, err)
	require.NoError(t, state.BindInput(in1, []byte{0, 1, 2, 3, 4, 5}, nil))
	require.NoError(t, state.BindInput(in2, []byte{10, 11, 12, 13, 14, 15}, nil))
	outBuf := make([]byte, 12)
	require.NoError(t, state.BindOutput(out, outBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	// Byte-wise juxtaposition of the two inputs per row.
	assert.Equal(t, []byte{0, 1, 2, 10, 11, 12, 3, 4, 5, 13, 14, 15}, outBuf)
}

func TestEmbeddingLookupGathersRows(t *testing.T) {
	m := model.New()
	indices, err := m.TensorOperand(nntype.TensorI32, 3)
	require.NoError(t, err)
	value, err := m.TensorOperand(nntype.TensorF32, 3, 2, 4)
	require.NoError(t, err)

	// value[i][j][k] = i + j/10 + k/100
	vals := make([]float32, 0, 24)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 4; k++ {
				vals = append(vals, float32(i)+float32(j)/10+float32(k)/100)
			}
		}
	}
	require.NoError(t, m.SetOperandValue(value, f32Bytes(vals...)))

	out, err := m.TensorOperand(nntype.TensorF32, 3, 2, 4)
	require.NoError(t, err)
	_, err = m.AddOperation(model.EMBEDDING_LOOKUP, []int{indices, value}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{indices}, []int{out}))
	require.NoError(t, m.Finish())

	state, err := NewState(m, noPool)
	require.NoError(t, err)
	require.NoError(t, state.BindInput(indices, i32Bytes(1, 0, 2), nil))
	outBuf := make([]byte, 3*2*4*4)
	require.NoError(t, state.BindOutput(out, outBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	got := bytesToF32s(outBuf)
	want := append(append(append([]float32(nil), vals[8:16]...), vals[0:8]...), vals[16:24]...)
	assert.InDeltaSlice(t, want, got, 1e-6)
}

func TestHashtableLookupMissReturnsZeroRow(t *testing.T) {
	m := model.New()
	lookups, err := m.TensorOperand(nntype.TensorI32, 3)
	require.NoError(t, err)
	keys, err := m.TensorOperand(nntype.TensorI32, 2)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(keys, i32Bytes(1, 2)))
	values, err := m.TensorOperand(nntype.TensorF32, 2, 2)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(values, f32Bytes(1, 2, 3, 4)))

	out, err := m.TensorOperand(nntype.TensorF32, 3, 2)
	require.NoError(t, err)
	hits, err := m.QuantTensorOperand(1, 0, 3)
	require.NoError(t, err)

	_, err = m.AddOperation(model.HASHTABLE_LOOKUP, []int{lookups, keys, values}, []int{out, hits})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{lookups}, []int{out, hits}))
	require.NoError(t, m.Finish())

	state, err := NewState(m, noPool)
	require.NoError(t, err)
	require.NoError(t, state.BindInput(lookups, i32Bytes(0, 2, 3), nil))
	outBuf := make([]byte, 3*2*4)
	hitsBuf := make([]byte, 3)
	require.NoError(t, state.BindOutput(out, outBuf, nil))
	require.NoError(t, state.BindOutput(hits, hitsBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	got := bytesToF32s(outBuf)
	assert.InDeltaSlice(t, []float32{0, 0, 3, 4, 0, 0}, got, 1e-6)
	assert.Equal(t, []byte{0, 1, 0}, hitsBuf)
}

func TestLogisticQuant8MatchesReferenceWithinOneStep(t *testing.T) {
	m := model.New()
	in, err := m.QuantTensorOperand(127, 0, 1, 2, 2, 1)
	require.NoError(t, err)
	out, err := m.QuantTensorOperand(1.0/256, 0, 1, 2, 2, 1)
	require.NoError(t, err)
	_, err = m.AddOperation(model.LOGISTIC, []int{in}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{in}, []int{out}))
	require.NoError(t, m.Finish())

	state, err := NewState(m, noPool)
	require.NoError(t, err)
	input := []byte{0, 1, 2, 3}
	require.NoError(t, state.BindInput(in, input, nil))
	outBuf := make([]byte, 4)
	require.NoError(t, state.BindOutput(out, outBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	for i, stored := range input {
		real := float64(stored) * 127
		sig := 1 / (1 + math.Exp(-real))
		ref := sig * 256
		if ref > 255 {
			ref = 255
		}
		assert.InDelta(t, ref, float64(outBuf[i]), 1.0, "element %d", i)
	}
}

func TestBroadcastAddCommutesOnShape(t *testing.T) {
	build := func(aDims, bDims []uint32) *model.Model {
		m := model.New()
		a, err := m.TensorOperand(nntype.TensorF32, aDims...)
		require.NoError(t, err)
		b, err := m.TensorOperand(nntype.TensorF32, bDims...)
		require.NoError(t, err)
		act, err := m.ScalarOperand(nntype.I32)
		require.NoError(t, err)
		require.NoError(t, m.SetOperandValue(act, i32Bytes(0)))
		out, err := m.TensorOperand(nntype.TensorF32, 2, 3)
		require.NoError(t, err)
		_, err = m.AddOperation(model.ADD, []int{a, b, act}, []int{out})
		require.NoError(t, err)
		require.NoError(t, m.IdentifyInputsAndOutputs([]int{a, b}, []int{out}))
		require.NoError(t, m.Finish())
		return m
	}

	run := func(m *model.Model, first, second []byte) []float32 {
		state, err := NewState(m, noPool)
		require.NoError(t, err)
		require.NoError(t, state.BindInput(0, first, nil))
		require.NoError(t, state.BindInput(1, second, nil))
		outBuf := make([]byte, 24)
		require.NoError(t, state.BindOutput(3, outBuf, nil))
		require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))
		return bytesToF32s(outBuf)
	}

	col := f32Bytes(10, 20)   // shape [2,1]
	row := f32Bytes(1, 2, 3)  // shape [3]

	ab := run(build([]uint32{2, 1}, []uint32{3}), col, row)
	ba := run(build([]uint32{3}, []uint32{2, 1}), row, col)

	want := []float32{11, 12, 13, 21, 22, 23}
	assert.InDeltaSlice(t, want, ab, 1e-6)
	assert.Equal(t, ab, ba)
}

func TestRunDrivesWholeModelInOneCall(t *testing.T) {
	m := buildAddMulModel(t)
	outBuf := make([]byte, 8)
	err := Run(context.Background(), m, noPool,
		map[int]Argument{
			0: {Buffer: f32Bytes(1, 2)},
			1: {Buffer: f32Bytes(3, 4)},
			2: {Buffer: f32Bytes(2, 2)},
		},
		map[int]Argument{6: {Buffer: outBuf}},
	)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{8, 12}, bytesToF32s(outBuf), 1e-6)
}

func TestExecutionIsDeterministic(t *testing.T) {
	m := buildAddMulModel(t)
	run := func() []byte {
		state, err := NewState(m, noPool)
		require.NoError(t, err)
		require.NoError(t, state.BindInput(0, f32Bytes(1.5, 2.25), nil))
		require.NoError(t, state.BindInput(1, f32Bytes(3.125, 4.0625), nil))
		require.NoError(t, state.BindInput(2, f32Bytes(0.5, 2), nil))
		outBuf := make([]byte, 8)
		require.NoError(t, state.BindOutput(6, outBuf, nil))
		require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))
		return outBuf
	}
	assert.Equal(t, run(), run())
}
