package runtime

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/driver/refimpl"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

func buildAddModel(t *testing.T, m *model.Model) (a, b, out int) {
	t.Helper()
	var err error
	a, err = m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	b, err = m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	act, err := m.ScalarOperand(nntype.I32)
	require.NoError(t, err)
	require.NoError(t, m.SetOperandValue(act, []byte{0, 0, 0, 0}))
	out, err = m.TensorOperand(nntype.TensorF32, 2)
	require.NoError(t, err)
	_, err = m.AddOperation(model.ADD, []int{a, b, act}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.IdentifyInputsAndOutputs([]int{a, b}, []int{out}))
	require.NoError(t, m.Finish())
	return
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

func TestNewModelAndRequestRoundTrip(t *testing.T) {
	rt := New()
	m := rt.NewModel()
	buildAddModel(t, m)

	req, err := rt.NewRequest(m, driver.FastSingleAnswer)
	require.NoError(t, err)

	require.NoError(t, req.SetInputFromPointer(0, f32Bytes(1, 2), nil))
	require.NoError(t, req.SetInputFromPointer(1, f32Bytes(3, 4), nil))
	out := make([]byte, 8)
	require.NoError(t, req.SetOutputFromPointer(0, out, nil))

	ev, err := req.StartCompute(context.Background())
	require.NoError(t, err)
	_, err = ev.Wait()
	require.NoError(t, err)
}

func TestRegisterDriverIsFoundByName(t *testing.T) {
	rt := New()
	d := refimpl.New("adderA", []model.OpKind{model.ADD}, nil, false)
	rt.RegisterDriver(d)

	got, ok := rt.Driver("adderA")
	require.True(t, ok)
	assert.Equal(t, "adderA", got.Name())

	_, ok = rt.Driver("missing")
	assert.False(t, ok)
}

func TestAllReturnsDriversInStableNameOrder(t *testing.T) {
	rt := New()
	rt.RegisterDriver(refimpl.New("zebra", nil, nil, false))
	rt.RegisterDriver(refimpl.New("alpha", nil, nil, false))

	all := rt.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name())
	assert.Equal(t, "zebra", all[1].Name())
}
