package cpu

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func buildAddMulModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()

	a, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	b, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	c, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	actAdd, err := m.ScalarOperand(nntype.I32)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(actAdd, []byte{0, 0, 0, 0}))
	sum, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	actMul, err := m.ScalarOperand(nntype.I32)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(actMul, []byte{0, 0, 0, 0}))
	out, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)

	_, err = m.AddOperation(model.ADD, []int{a, b, actAdd}, []int{sum})
	require.NoError(t, err)
	_, err = m.AddOperation(model.MUL, []int{sum, c, actMul}, []int{out})
	require.NoError(t, err)

	require.NoError(t, m.IdentifyInputsAndOutputs([]int{a, b, c}, []int{out}))
	require.NoError(t, m.Finish())
	return m
}

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		u := math.Float32bits(v)
		out[4*i] = byte(u)
		out[4*i+1] = byte(u >> 8)
		out[4*i+2] = byte(u >> 16)
		out[4*i+3] = byte(u >> 24)
	}
	return out
}

func bytesToF32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		off := 4 * i
		u := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
		out[i] = math.Float32frombits(u)
	}
	return out
}

func noPool(poolIndex int, offset, length uint64) ([]byte, error) {
	return nil, nnerrors.BadDataf("cpu_test: no pools registered")
}

func TestRunOpsComputesAddMul(t *testing.T) {
	m := buildAddMulModel(t)
	state, err := NewState(m, noPool)
	require.NoError(t, err)

	require.NoError(t, state.BindInput(0, f32Bytes(1, 2), nil))
	require.NoError(t, state.BindInput(1, f32Bytes(3, 4), nil))
	require.NoError(t, state.BindInput(2, f32Bytes(2, 2), nil))
	outBuf := make([]byte, 8)
	require.NoError(t, state.BindOutput(6, outBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	got := bytesToF32s(outBuf)
	assert.InDeltaSlice(t, []float32{8, 12}, got, 1e-6)
}

func TestRunOpsReleasesTemporaryAfterLastUse(t *testing.T) {
	m := buildAddMulModel(t)
	state, err := NewState(m, noPool)
	require.NoError(t, err)
	require.NoError(t, state.BindInput(0, f32Bytes(1, 2), nil))
	require.NoError(t, state.BindInput(1, f32Bytes(3, 4), nil))
	require.NoError(t, state.BindInput(2, f32Bytes(2, 2), nil))
	outBuf := make([]byte, 8)
	require.NoError(t, state.BindOutput(6, outBuf, nil))

	require.NoError(t, state.RunOps(context.Background(), m.RunOrder()))

	sumIdx := 4
	assert.Equal(t, 0, state.rt[sumIdx].UsesLeft)
	assert.False(t, state.rt[sumIdx].HasBuffer())
}

func TestBindInputRejectsWrongLifetime(t *testing.T) {
	m := buildAddMulModel(t)
	state, err := NewState(m, noPool)
	require.NoError(t, err)

	err = state.BindInput(4, make([]byte, 8), nil) // operand 4 is a temporary, not a ModelInput
	require.Error(t, err)
	assert.Equal(t, nnerrors.BadData, nnerrors.KindOf(err))
}

func TestResolveDimsFillsWildcardFromArgument(t *testing.T) {
	shape, err := resolveDims(nntype.Shape{0, 3}, nntype.Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, nntype.Shape{2, 3}, shape)
}

func TestResolveDimsRejectsMismatch(t *testing.T) {
	_, err := resolveDims(nntype.Shape{2, 3}, nntype.Shape{5, 3})
	require.Error(t, err)
}
