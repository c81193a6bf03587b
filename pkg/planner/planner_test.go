package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// buildAddMulModel returns (a+b)*c, the canonical two-op graph used
// across the planner, request, and cpu test suites.
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

// stubDriver is the minimal driver.Driver fake the planner needs: fixed
// support set and a flat performance score.
type stubDriver struct {
	name  string
	kinds map[model.OpKind]bool
	caps  *driver.Capabilities
}

func newStubDriver(name string, kinds []model.OpKind, score float32) *stubDriver {
	caps := driver.NewCapabilities()
	for _, k := range kinds {
		caps.Supports(k, int(nntype.TensorF32))
	}
	caps.Report(driver.ClassF32Tensor, driver.PerformancePair{ExecTime: score, PowerUsage: score})
	kindSet := make(map[model.OpKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}
	return &stubDriver{name: name, kinds: kindSet, caps: caps}
}

func (d *stubDriver) Name() string                      { return d.name }
func (d *stubDriver) Capabilities() *driver.Capabilities { return d.caps }
func (d *stubDriver) Status() driver.Status              { return driver.Available }
func (d *stubDriver) SupportedOperations(m *model.Model) []bool {
	out := make([]bool, len(m.Operations()))
	for i, op := range m.Operations() {
		out[i] = d.kinds[op.Kind]
	}
	return out
}
func (d *stubDriver) PrepareModel(ctx context.Context, m *model.Model) (driver.PreparedModel, error) {
	return nil, nil
}

func TestPlanWithNoDriversIsOneCPUStep(t *testing.T) {
	m := buildAddMulModel(t)
	plan, err := Plan(context.Background(), m, nil, driver.FastSingleAnswer)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, CPU, plan[0].Device)
	assert.Equal(t, m.RunOrder(), plan[0].Operations)
}

func TestPlanPartitionsAcrossTwoDrivers(t *testing.T) {
	m := buildAddMulModel(t)
	adder := newStubDriver("adderA", []model.OpKind{model.ADD}, 0.5)
	muler := newStubDriver("mulB", []model.OpKind{model.MUL}, 0.2)

	plan, err := Plan(context.Background(), m, Drivers{adder, muler}, driver.FastSingleAnswer)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	// mulB comes first in the drain order (drivers drain in reverse
	// discovery order; there is no CPU assignment here), but its MUL is
	// not ready until ADD has run, so adderA's step is formed first.
	// Steps are looked up by device below.
	byDevice := map[string]Step{}
	for _, s := range plan {
		byDevice[s.Device] = s
	}
	require.Contains(t, byDevice, "adderA")
	require.Contains(t, byDevice, "mulB")
	assert.Equal(t, []int{0}, byDevice["adderA"].Operations)
	assert.Equal(t, []int{1}, byDevice["mulB"].Operations)

	// adderA's sum operand must be surfaced as an Output so mulB's step
	// can receive it as an Input.
	assert.Contains(t, byDevice["adderA"].Outputs, 4)
	assert.Contains(t, byDevice["mulB"].Inputs, 4)
	// mulB also directly consumes model input c (operand 2).
	assert.Contains(t, byDevice["mulB"].Inputs, 2)
}

func TestPlanPrefersCPUWhenNoDriverSupportsOp(t *testing.T) {
	m := buildAddMulModel(t)
	adder := newStubDriver("adderA", []model.OpKind{model.ADD}, 0.5)

	plan, err := Plan(context.Background(), m, Drivers{adder}, driver.FastSingleAnswer)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	byDevice := map[string]Step{}
	for _, s := range plan {
		byDevice[s.Device] = s
	}
	assert.Equal(t, []int{0}, byDevice["adderA"].Operations)
	assert.Equal(t, []int{1}, byDevice[CPU].Operations)
}

func TestPlanAllSameDeviceIsOneStep(t *testing.T) {
	m := buildAddMulModel(t)
	both := newStubDriver("both", []model.OpKind{model.ADD, model.MUL}, 0.1)

	plan, err := Plan(context.Background(), m, Drivers{both}, driver.FastSingleAnswer)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "both", plan[0].Device)
	assert.Equal(t, m.RunOrder(), plan[0].Operations)
}
