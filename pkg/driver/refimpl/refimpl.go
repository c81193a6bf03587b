// Package refimpl provides a trivial in-process reference driver,
// grounded in the original source's SampleDriver.cpp: a driver that
// does no real IPC and simply runs the same kernel table the CPU
// executor does, restricted to a chosen subset of op kinds. It exists
// so tests and cmd/nnrt can exercise multi-driver partitioning
// (spec.md §8 scenario 6) without a real transport.
package refimpl

import (
	"context"
	"sync"

	"github.com/nnexec/nnexec/pkg/cpu"
	"github.com/nnexec/nnexec/pkg/cpu/kernels"
	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/event"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// allElementTypes enumerates every element type the kernel table might
// register a kernel against, so New can probe kernels.Supports without
// the caller having to list types alongside op kinds.
var allElementTypes = []nntype.ElementType{
	nntype.F32, nntype.I32, nntype.U32,
	nntype.TensorF32, nntype.TensorI32, nntype.TensorQuant8Asymm,
	nntype.OEMScalar, nntype.OEMTensor,
}

// Driver is a reference driver supporting exactly the op kinds it was
// constructed with, for every element type the shared kernel table
// itself supports.
type Driver struct {
	name string
	caps *driver.Capabilities
	kinds map[model.OpKind]bool

	mu     sync.Mutex
	status driver.Status
}

// New returns a reference driver named name, advertising support for
// every (kind in kinds, type) pair the kernel table has a registered
// kernel for, with the given performance report.
func New(name string, kinds []model.OpKind, perf map[driver.ElementClass]driver.PerformancePair, cachesCompiledModels bool) *Driver {
	caps := driver.NewCapabilities()
	caps.CachesCompiledModels = cachesCompiledModels
	for class, pair := range perf {
		caps.Report(class, pair)
	}

	kindSet := make(map[model.OpKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
		for _, t := range allElementTypes {
			if kernels.Supports(k, t) {
				caps.Supports(k, int(t))
			}
		}
	}

	return &Driver{name: name, caps: caps, kinds: kindSet, status: driver.Available}
}

func (d *Driver) Name() string                      { return d.name }
func (d *Driver) Capabilities() *driver.Capabilities { return d.caps }

func (d *Driver) Status() driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// SetStatus lets a test simulate Busy/Offline transitions.
func (d *Driver) SetStatus(s driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

// SupportedOperations returns a bit vector sized to m.Operations(),
// true for each operation whose kind this driver was constructed with
// and whose (kind, element type) the shared kernel table can run.
func (d *Driver) SupportedOperations(m *model.Model) []bool {
	out := make([]bool, len(m.Operations()))
	operands := m.Operands()
	for i, op := range m.Operations() {
		if !d.kinds[op.Kind] {
			continue
		}
		if len(op.Inputs) == 0 {
			out[i] = true
			continue
		}
		out[i] = kernels.Supports(op.Kind, operands[op.Inputs[0]].Type)
	}
	return out
}

// PrepareModel returns an opaque PreparedModel; refimpl has nothing to
// compile, so the prepared form simply closes over the model.
func (d *Driver) PrepareModel(ctx context.Context, m *model.Model) (driver.PreparedModel, error) {
	if d.Status() == driver.Offline {
		return nil, nnerrors.New(nnerrors.OpFailed, "refimpl: driver %q is offline", d.name)
	}
	return &prepared{driver: d, m: m}, nil
}

type prepared struct {
	driver *Driver
	m      *model.Model
}

// Execute runs the sub-request's inputs/outputs through the shared CPU
// kernel table directly against the pool bytes the request packed,
// exactly as the real CPU executor would, and signals ev on
// completion — refimpl's entire reason to exist is being a second,
// independently-addressable execution path over the same kernels, not
// a different numeric implementation.
func (p *prepared) Execute(ctx context.Context, req driver.ExecutionRequest, ev *event.Event) {
	ev.Signal(p.execute(ctx, req))
}

// execute runs exactly req.Operations -- the planner's sub-model view
// of p.m, expressed as operation indices -- against a fresh run-time
// operand table, binding each ArgumentView to the operand it names and
// copying results for req.Outputs back into the caller-supplied pool
// bytes so the request layer (which owns those pools) observes them.
func (p *prepared) execute(ctx context.Context, req driver.ExecutionRequest) error {
	poolBytes := make(map[int][]byte, len(req.Pools))
	for _, pv := range req.Pools {
		poolBytes[pv.Index] = pv.Bytes
	}
	slice := func(poolIndex int, offset, length uint64) ([]byte, error) {
		b, ok := poolBytes[poolIndex]
		if !ok {
			return nil, nnerrors.BadDataf("refimpl: unknown pool %d", poolIndex)
		}
		if offset+length > uint64(len(b)) {
			return nil, nnerrors.BadDataf("refimpl: slice out of range")
		}
		return b[offset : offset+length], nil
	}

	// ConstantReference operands live in the model's own pool registry,
	// not in the request's pool vector; resolve them there, the way an
	// out-of-process driver would have mapped the model's pools at
	// PrepareModel time.
	state, err := cpu.NewState(p.m, p.m.Pools.Slice)
	if err != nil {
		return err
	}

	for _, view := range req.Inputs {
		b, err := slice(view.PoolIndex, view.Offset, view.Length)
		if err != nil {
			return err
		}
		if err := state.BindOperand(view.OperandIndex, b, view.Dimensions); err != nil {
			return err
		}
	}

	if err := state.RunOps(ctx, req.Operations); err != nil {
		return err
	}

	for _, view := range req.Outputs {
		dst, err := slice(view.PoolIndex, view.Offset, view.Length)
		if err != nil {
			return err
		}
		src := state.Output(view.OperandIndex)
		if uint64(len(src)) != view.Length {
			return nnerrors.BadDataf("refimpl: output operand %d produced %d bytes, view expects %d", view.OperandIndex, len(src), view.Length)
		}
		copy(dst, src)
	}
	return nil
}
