// Package request implements Request / Execution State (§4.F): binding
// a finalized model's inputs/outputs to caller buffers or pool regions,
// packing pointer-bound arguments into pools, and dispatching the
// planner's steps in sequence to drivers or the CPU executor.
package request

import (
	"context"

	"github.com/nnexec/nnexec/pkg/cpu"
	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/event"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
	"github.com/nnexec/nnexec/pkg/planner"
	"github.com/nnexec/nnexec/pkg/pool"
)

// ArgumentState tags an ArgumentInfo's variant.
type ArgumentState int

const (
	// Unspecified is the initial state; illegal at StartCompute.
	Unspecified ArgumentState = iota
	// Pointer is caller memory, to be copied into a pool before dispatch.
	Pointer
	// Pool is already a slice of a pool attached to the request.
	Pool
)

// ArgumentInfo is one model input/output's binding, in one of the three
// states of §4.F.
type ArgumentInfo struct {
	State ArgumentState

	// Valid when State == Pointer.
	Buffer []byte

	// Valid when State == Pool.
	PoolIndex int
	Offset    uint64
	Length    uint64

	// Dimensions overrides wildcard dims of the bound operand; nil
	// leaves the model's resolved shape as-is.
	Dimensions nntype.Shape
}

// DriverResolver resolves a driver by name for dispatch, the minimal
// lookup the request needs from whatever registry the host application
// keeps (§4.D), so a request can be driven by any source of named
// drivers: runtime.Context, or a fixed driver set in tests.
type DriverResolver interface {
	Driver(name string) (driver.Driver, bool)
}

// Request binds one finalized model's inputs/outputs and drives its
// execution plan to completion.
type Request struct {
	m       *model.Model
	drivers DriverResolver
	pref    driver.Preference

	inputs  []ArgumentInfo
	outputs []ArgumentInfo

	pools *pool.Registry

	started bool
}

// New returns a request over a finalized model, with every model
// input/output initially Unspecified.
func New(m *model.Model, drivers DriverResolver, pref driver.Preference) (*Request, error) {
	if !m.Finalized() {
		return nil, nnerrors.New(nnerrors.BadState, "request: model is not finalized")
	}
	return &Request{
		m:       m,
		drivers: drivers,
		pref:    pref,
		inputs:  make([]ArgumentInfo, len(m.ModelInputs())),
		outputs: make([]ArgumentInfo, len(m.ModelOutputs())),
		pools:   pool.New(),
	}, nil
}

// SetInputFromPointer binds model input i (an index into
// m.ModelInputs(), not an operand index) to caller memory.
func (r *Request) SetInputFromPointer(i int, buf []byte, dims nntype.Shape) error {
	if i < 0 || i >= len(r.inputs) {
		return nnerrors.BadDataf("request: input index %d out of range", i)
	}
	r.inputs[i] = ArgumentInfo{State: Pointer, Buffer: buf, Dimensions: dims}
	return nil
}

// SetInputFromPool binds model input i to a slice of a pool already
// registered against r's pool registry.
func (r *Request) SetInputFromPool(i int, poolIndex int, offset, length uint64, dims nntype.Shape) error {
	if i < 0 || i >= len(r.inputs) {
		return nnerrors.BadDataf("request: input index %d out of range", i)
	}
	r.inputs[i] = ArgumentInfo{State: Pool, PoolIndex: poolIndex, Offset: offset, Length: length, Dimensions: dims}
	return nil
}

// SetOutputFromPointer binds model output i (an index into
// m.ModelOutputs()) to caller memory.
func (r *Request) SetOutputFromPointer(i int, buf []byte, dims nntype.Shape) error {
	if i < 0 || i >= len(r.outputs) {
		return nnerrors.BadDataf("request: output index %d out of range", i)
	}
	r.outputs[i] = ArgumentInfo{State: Pointer, Buffer: buf, Dimensions: dims}
	return nil
}

// RegisterPool registers a pool handle against this request's own
// registry, for a caller that wants to bind Pool-state arguments before
// the request has its own pools from packing.
func (r *Request) RegisterPool(h pool.Handle) (int, error) {
	return r.pools.Register(h)
}

// StartCompute validates all bindings, packs Pointer arguments into
// fresh input/output pools (§4.F step 2), builds the plan, dispatches
// each step in order, and copies pointer-bound outputs back out. It
// returns an Event that the caller awaits for completion, matching
// every other execute call's asynchronous-completion contract (§4.H).
func (r *Request) StartCompute(ctx context.Context) (*event.Event, error) {
	if r.started {
		return nil, nnerrors.New(nnerrors.BadState, "request: already started")
	}
	for i, a := range r.outputs {
		if a.State == Unspecified {
			return nil, nnerrors.BadDataf("request: output %d is unspecified at StartCompute", i)
		}
	}
	r.started = true
	ev := event.New()

	go r.run(ctx, ev)
	return ev, nil
}

func (r *Request) run(ctx context.Context, ev *event.Event) {
	ev.Signal(r.runSync(ctx))
}

// runSync is StartCompute's synchronous body, split out so tests can
// drive it without an extra goroutine hop when they don't care about
// asynchrony.
func (r *Request) runSync(ctx context.Context) error {
	if err := r.packPointerArguments(); err != nil {
		return err
	}

	plan, err := planner.Plan(ctx, r.m, r.driverCandidates(), r.pref)
	if err != nil {
		return err
	}

	// ConstantReference operands resolve against the model's own pool
	// registry; the request's registry only holds argument pools.
	state, err := cpu.NewState(r.m, r.m.Pools.Slice)
	if err != nil {
		return err
	}
	if err := r.bindModelIO(state); err != nil {
		return err
	}

	for _, step := range plan {
		if err := r.dispatchStep(ctx, state, step); err != nil {
			return err
		}
	}

	return r.copyOutputsToPointers(state)
}

// driverCandidates resolves the named drivers the planner should
// consider; a nil resolver (CPU-only host) yields none, which Plan
// treats as the degenerate all-CPU case.
func (r *Request) driverCandidates() planner.Drivers {
	if r.drivers == nil {
		return nil
	}
	type lister interface{ All() []driver.Driver }
	if l, ok := r.drivers.(lister); ok {
		return l.All()
	}
	return nil
}

// packPointerArguments implements §4.F step 2: Pointer-bound arguments
// are packed, separately per direction, into two fresh pools, using the
// §4.B alignment rule and rejecting totals over 2^32-1. Each packed
// argument's (pool, offset, length) view is recorded on its
// ArgumentInfo by packDirection.
func (r *Request) packPointerArguments() error {
	if _, err := r.packDirection(r.inputs); err != nil {
		return err
	}
	if _, err := r.packDirection(r.outputs); err != nil {
		return err
	}
	return nil
}

const maxPoolBytes = uint64(1)<<32 - 1

func (r *Request) packDirection(args []ArgumentInfo) (int, error) {
	var total uint64
	offsets := make([]uint64, len(args))
	for i, a := range args {
		if a.State != Pointer {
			continue
		}
		offset := nntype.AlignedOffset(total, uint64(len(a.Buffer)))
		offsets[i] = offset
		total = offset + uint64(len(a.Buffer))
		if total > maxPoolBytes {
			return 0, nnerrors.BadDataf("request: packed pool size %d exceeds 2^32-1", total)
		}
	}

	idx, err := r.pools.Register(pool.NewFromSize(total))
	if err != nil {
		return 0, err
	}
	region, err := r.pools.Region(idx)
	if err != nil {
		return 0, err
	}
	for i, a := range args {
		if a.State != Pointer {
			continue
		}
		copy(region.Bytes[offsets[i]:], a.Buffer)
		args[i].PoolIndex = idx
		args[i].Offset = offsets[i]
		args[i].Length = uint64(len(a.Buffer))
	}
	return idx, nil
}

// bindModelIO wires each ArgumentInfo to the CPU executor's shared
// run-time operand table, whether it arrived as a caller pointer (now
// packed) or as an existing pool slice.
func (r *Request) bindModelIO(state *cpu.State) error {
	for i, idx := range r.m.ModelInputs() {
		a := r.inputs[i]
		buf, err := r.resolveArgumentBytes(a)
		if err != nil {
			return err
		}
		if err := state.BindInput(idx, buf, a.Dimensions); err != nil {
			return err
		}
	}
	for i, idx := range r.m.ModelOutputs() {
		a := r.outputs[i]
		buf, err := r.resolveArgumentBytes(a)
		if err != nil {
			return err
		}
		if err := state.BindOutput(idx, buf, a.Dimensions); err != nil {
			return err
		}
	}
	return nil
}

func (r *Request) resolveArgumentBytes(a ArgumentInfo) ([]byte, error) {
	switch a.State {
	case Pool:
		return r.pools.Slice(a.PoolIndex, a.Offset, a.Length)
	case Pointer:
		return r.pools.Slice(a.PoolIndex, a.Offset, a.Length)
	default:
		return nil, nnerrors.BadDataf("request: argument is Unspecified")
	}
}

// dispatchStep runs one planner.Step: inline on the shared State for a
// CPU step, or marshaled through a driver for anything else, awaiting
// its completion event before the next step proceeds (§4.F step 4, §5
// "steps within a request run strictly sequentially").
func (r *Request) dispatchStep(ctx context.Context, state *cpu.State, step planner.Step) error {
	if step.Device == planner.CPU {
		return state.RunOps(ctx, step.Operations)
	}

	d, ok := r.drivers.Driver(step.Device)
	if !ok {
		return nnerrors.New(nnerrors.OpFailed, "request: unknown driver %q chosen by planner", step.Device)
	}
	prepared, err := d.PrepareModel(ctx, r.m)
	if err != nil {
		return err
	}

	execReq, poolViews, err := r.buildExecutionRequest(state, step)
	if err != nil {
		return err
	}
	execReq.Pools = poolViews

	ev := event.New()
	prepared.Execute(ctx, execReq, ev)
	_, err = ev.Wait()
	if err != nil {
		return err
	}

	return r.copyDriverOutputs(state, step, execReq)
}

// buildExecutionRequest packs step.Inputs into one pool for the driver
// to read and reserves space for step.Outputs in another, mirroring
// packPointerArguments' two-pool, size-then-copy structure for the
// driver boundary instead of the caller boundary; unlike
// packPointerArguments it applies no 2^32-1 size limit.
func (r *Request) buildExecutionRequest(state *cpu.State, step planner.Step) (driver.ExecutionRequest, []driver.PoolView, error) {
	inIdx, err := r.packOperandsToPool(state, step.Inputs)
	if err != nil {
		return driver.ExecutionRequest{}, nil, err
	}
	outIdx, outLens, err := r.reservePoolFor(state, step.Outputs)
	if err != nil {
		return driver.ExecutionRequest{}, nil, err
	}

	req := driver.ExecutionRequest{Operations: append([]int(nil), step.Operations...)}
	offset := uint64(0)
	for _, opIdx := range step.Inputs {
		_, shape := state.Operand(opIdx)
		length := state.Len(opIdx)
		offset = nntype.AlignedOffset(offset, length)
		req.Inputs = append(req.Inputs, driver.ArgumentView{OperandIndex: opIdx, PoolIndex: inIdx, Offset: offset, Length: length, Dimensions: shape})
		offset += length
	}
	offset = 0
	for i, opIdx := range step.Outputs {
		_, shape := state.Operand(opIdx)
		length := outLens[i]
		offset = nntype.AlignedOffset(offset, length)
		req.Outputs = append(req.Outputs, driver.ArgumentView{OperandIndex: opIdx, PoolIndex: outIdx, Offset: offset, Length: length, Dimensions: shape})
		offset += length
	}

	views := []driver.PoolView{}
	if b, err := r.pools.Slice(inIdx, 0, r.poolLen(inIdx)); err == nil {
		views = append(views, driver.PoolView{Index: inIdx, Bytes: b})
	}
	if b, err := r.pools.Slice(outIdx, 0, r.poolLen(outIdx)); err == nil {
		views = append(views, driver.PoolView{Index: outIdx, Bytes: b})
	}
	return req, views, nil
}

func (r *Request) poolLen(idx int) uint64 {
	region, err := r.pools.Region(idx)
	if err != nil {
		return 0
	}
	return uint64(len(region.Bytes))
}

func (r *Request) packOperandsToPool(state *cpu.State, operandIdxs []int) (int, error) {
	var total uint64
	for _, idx := range operandIdxs {
		length := state.Len(idx)
		total = nntype.AlignedOffset(total, length) + length
	}
	poolIdx, err := r.pools.Register(pool.NewFromSize(total))
	if err != nil {
		return 0, err
	}
	region, err := r.pools.Region(poolIdx)
	if err != nil {
		return 0, err
	}
	offset := uint64(0)
	for _, idx := range operandIdxs {
		b := state.Output(idx)
		length := uint64(len(b))
		offset = nntype.AlignedOffset(offset, length)
		copy(region.Bytes[offset:], b)
		offset += length
	}
	return poolIdx, nil
}

func (r *Request) reservePoolFor(state *cpu.State, operandIdxs []int) (int, []uint64, error) {
	lens := make([]uint64, len(operandIdxs))
	var total uint64
	for i, idx := range operandIdxs {
		length := state.Len(idx)
		lens[i] = length
		total = nntype.AlignedOffset(total, length) + length
	}
	poolIdx, err := r.pools.Register(pool.NewFromSize(total))
	return poolIdx, lens, err
}

// copyDriverOutputs copies the driver's written output pool bytes back
// into the shared run-time operand table so later steps (or the final
// copy-out) see them through the same index space. An operand that
// already has a bound buffer (a ModelOutput the caller supplied, by
// pointer or pool slice) is written in place; an unbound cross-step
// temporary adopts a fresh buffer owned by the State.
func (r *Request) copyDriverOutputs(state *cpu.State, step planner.Step, execReq driver.ExecutionRequest) error {
	for i, opIdx := range step.Outputs {
		view := execReq.Outputs[i]
		b, err := r.pools.Slice(view.PoolIndex, view.Offset, view.Length)
		if err != nil {
			return err
		}
		if dst := state.Output(opIdx); len(dst) == len(b) {
			copy(dst, b)
			continue
		}
		if err := state.AdoptBuffer(opIdx, append([]byte(nil), b...)); err != nil {
			return err
		}
	}
	return nil
}

// copyOutputsToPointers implements §4.F step 5: after the last step
// completes, pointer-bound outputs are copied out of the output pool
// (here, the shared State) back to the caller's buffers.
func (r *Request) copyOutputsToPointers(state *cpu.State) error {
	for i, idx := range r.m.ModelOutputs() {
		a := r.outputs[i]
		if a.State != Pointer {
			continue
		}
		src := state.Output(idx)
		if len(src) != len(a.Buffer) {
			return nnerrors.BadDataf("request: output %d length %d does not match caller buffer %d", i, len(src), len(a.Buffer))
		}
		copy(a.Buffer, src)
	}
	return nil
}
