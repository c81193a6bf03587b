package refimpl

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/event"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func buildAddModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()
	a, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	b, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	act, err := m.ScalarOperand(nntype.I32)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(act, []byte{0, 0, 0, 0}))
	out, err := m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)

	_, err = m.AddOperation(model.ADD, []int{a, b, act}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{a, b}, []int{out}))
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

func TestNewAdvertisesOnlyRegisteredKernels(t *testing.T) {
	d := New("ref", []model.OpKind{model.ADD}, nil, false)
	assert.True(t, d.Capabilities().CanRun(model.ADD, int(nntype.TensorF32)))
	assert.False(t, d.Capabilities().CanRun(model.MUL, int(nntype.TensorF32)))
}

func TestSupportedOperationsMatchesModel(t *testing.T) {
	m := buildAddModel(t)
	d := New("ref", []model.OpKind{model.ADD}, nil, false)
	bits := d.SupportedOperations(m)
	require.Len(t, bits, 1)
	assert.True(t, bits[0])
}

func TestExecuteRunsAssignedOperationsAgainstBoundPools(t *testing.T) {
	m := buildAddModel(t)
	d := New("ref", []model.OpKind{model.ADD}, nil, false)

	prepared, err := d.PrepareModel(context.Background(), m)
	require.NoError(t, err)

	inputPool := append(f32Bytes(1, 2), f32Bytes(3, 4)...)
	outputPool := make([]byte, 8)

	req := driver.ExecutionRequest{
		Operations: []int{0},
		Inputs: []driver.ArgumentView{
			{OperandIndex: 0, PoolIndex: 0, Offset: 0, Length: 8},
			{OperandIndex: 1, PoolIndex: 0, Offset: 8, Length: 8},
		},
		Outputs: []driver.ArgumentView{
			{OperandIndex: 3, PoolIndex: 1, Offset: 0, Length: 8},
		},
		Pools: []driver.PoolView{
			{Index: 0, Bytes: inputPool},
			{Index: 1, Bytes: outputPool},
		},
	}

	ev := event.New()
	prepared.Execute(context.Background(), req, ev)
	_, err = ev.Wait()
	require.NoError(t, err)

	got := decodeF32(outputPool)
	assert.InDeltaSlice(t, []float32{4, 6}, got, 1e-6)
}

func TestPrepareModelFailsWhenOffline(t *testing.T) {
	d := New("ref", []model.OpKind{model.ADD}, nil, false)
	d.SetStatus(driver.Offline)
	_, err := d.PrepareModel(context.Background(), buildAddModel(t))
	require.Error(t, err)
}

func decodeF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		off := 4 * i
		u := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
		out[i] = math.Float32frombits(u)
	}
	return out
}
