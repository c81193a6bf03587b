// Package cpu implements the CPU Executor (§4.G): a sequential
// interpreter over a finalized Model's stored run-order that dispatches
// each operation to the (prepare, execute) kernel pair registered in
// pkg/cpu/kernels, managing temporary buffers by remaining-use count.
package cpu

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nnexec/nnexec/pkg/cpu/kernels"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

var (
	tracer = otel.Tracer("github.com/nnexec/nnexec/pkg/cpu")
	meter  = otel.Meter("github.com/nnexec/nnexec/pkg/cpu")

	opDuration, _ = meter.Float64Histogram(
		"nnexec.cpu.op_duration_ms",
		metric.WithDescription("wall time spent in one operation's kernel, in milliseconds"),
	)
)

// Phase is the executor's lifecycle state, §4.G "executor view":
// Idle -> Running -> (Completed | Failed). No re-entry while Running.
type Phase int

const (
	Idle Phase = iota
	Running
	Completed
	Failed
)

// State is the run-time operand table (§3) shared by every step of one
// request that touches the CPU, whether the whole model runs here or
// only a partitioner-assigned subset of its operations does. Operand
// indices are the model's dense indices, so a temporary produced by a
// CPU step and consumed by a later CPU step needs no marshaling: it is
// the same slot in this table.
type State struct {
	m     *model.Model
	rt    []kernels.RuntimeOperand
	phase Phase
}

// NewState allocates the run-time operand table for a finalized model
// and fills in every operand whose buffer is known before any
// operation runs: constants (inline or pool-backed) and NoValue.
// Model inputs/outputs are left unbound until BindInput/BindOutput is
// called, and temporaries are left unallocated until their producing
// operation's Prepare step runs (§3's "allocated lazily").
func NewState(m *model.Model, constPool func(poolIndex int, offset, length uint64) ([]byte, error)) (*State, error) {
	if !m.Finalized() {
		return nil, nnerrors.New(nnerrors.BadState, "cpu: model is not finalized")
	}
	operands := m.Operands()
	rt := make([]kernels.RuntimeOperand, len(operands))
	for idx, op := range operands {
		ro := kernels.RuntimeOperand{
			Type:     op.Type,
			Shape:    op.Shape.Clone(),
			Quant:    op.Quant,
			Lifetime: op.Lifetime,
		}
		switch op.Lifetime {
		case model.ConstantCopy:
			ro.Buffer = kernels.BufferRef{Borrowed: m.Constants()[op.Location.Offset : op.Location.Offset+op.Location.Length]}
		case model.ConstantReference:
			b, err := constPool(op.Location.Pool, op.Location.Offset, op.Location.Length)
			if err != nil {
				return nil, err
			}
			ro.Buffer = kernels.BufferRef{Borrowed: b}
		case model.TemporaryVariable:
			ro.UsesLeft = op.ConsumerCount
		case model.NoValue:
			// Buffer stays empty; kernels that accept NoValue inputs
			// must check HasBuffer before dereferencing.
		}
		rt[idx] = ro
	}
	return &State{m: m, rt: rt}, nil
}

// BindOperand attaches buf to operand idx regardless of its lifetime
// class -- ModelInput, ModelOutput, or a TemporaryVariable surfaced
// across a planner step boundary -- the general form a driver binding
// a sub-model's cross-step arguments needs, since it does not
// distinguish "this happens to be a model input" from "this happens to
// be a temporary some earlier step already computed".
func (s *State) BindOperand(idx int, buf []byte, dims nntype.Shape) error {
	if idx < 0 || idx >= len(s.rt) {
		return nnerrors.BadDataf("cpu: operand index %d out of range", idx)
	}
	ro := &s.rt[idx]
	shape := ro.Shape
	if dims != nil {
		resolved, err := resolveDims(ro.Shape, dims)
		if err != nil {
			return err
		}
		shape = resolved
		ro.Shape = resolved
	}
	want := nntype.ByteSize(ro.Type, shape)
	if uint64(len(buf)) != want {
		return nnerrors.BadDataf("cpu: operand %d expects %d bytes, got %d", idx, want, len(buf))
	}
	ro.Buffer = kernels.BufferRef{Borrowed: buf}
	return nil
}

// BindInput attaches a caller-provided buffer to a ModelInput operand,
// optionally overriding wildcard dimensions (§4.F: "only dimensions
// that were wildcards", type and rank must already match).
func (s *State) BindInput(idx int, buf []byte, dims nntype.Shape) error {
	return s.bindArgument(idx, buf, dims, model.ModelInput)
}

// BindOutput attaches the caller's output buffer to a ModelOutput
// operand. Its length is validated against the resolved byte size once
// dims (if any) are applied.
func (s *State) BindOutput(idx int, buf []byte, dims nntype.Shape) error {
	return s.bindArgument(idx, buf, dims, model.ModelOutput)
}

func (s *State) bindArgument(idx int, buf []byte, dims nntype.Shape, want model.Lifetime) error {
	if idx < 0 || idx >= len(s.rt) {
		return nnerrors.BadDataf("cpu: operand index %d out of range", idx)
	}
	ro := &s.rt[idx]
	if ro.Lifetime != want {
		return nnerrors.BadDataf("cpu: operand %d is %s, not %s", idx, ro.Lifetime, want)
	}
	shape := ro.Shape
	if dims != nil {
		resolved, err := resolveDims(ro.Shape, dims)
		if err != nil {
			return err
		}
		shape = resolved
		ro.Shape = resolved
	}
	want64 := nntype.ByteSize(ro.Type, shape)
	if uint64(len(buf)) != want64 {
		return nnerrors.BadDataf("cpu: operand %d expects %d bytes, got %d", idx, want64, len(buf))
	}
	ro.Buffer = kernels.BufferRef{Borrowed: buf}
	return nil
}

// resolveDims applies a caller's dimension override: model dims of 0
// are wildcards the caller's dim fills in; any non-wildcard model dim
// must match the caller's dim exactly (Design Notes / Open Question b:
// the source compares the wrong operand to itself here; this compares
// the argument's dimension against the model's, as the spec mandates).
func resolveDims(modelShape, argShape nntype.Shape) (nntype.Shape, error) {
	if len(modelShape) != len(argShape) {
		return nil, nnerrors.BadDataf("cpu: argument rank %d does not match model rank %d", len(argShape), len(modelShape))
	}
	out := make(nntype.Shape, len(modelShape))
	for i, md := range modelShape {
		ad := argShape[i]
		switch {
		case md == 0:
			out[i] = ad
		case ad == 0:
			out[i] = md
		case md != ad:
			return nil, nnerrors.BadDataf("cpu: argument dimension %d (%d) differs from model dimension (%d)", i, ad, md)
		default:
			out[i] = md
		}
	}
	return out, nil
}

// Output returns the current bytes backing operand idx, for reading a
// cross-step temporary or a finished model output.
func (s *State) Output(idx int) []byte {
	return s.rt[idx].Buffer.Bytes()
}

// Operand exposes a copy of the run-time operand's resolved type/shape,
// for a caller (e.g. the request packer) that needs it without
// reaching into kernels internals.
func (s *State) Operand(idx int) (nntype.ElementType, nntype.Shape) {
	ro := s.rt[idx]
	return ro.Type, ro.Shape
}

// Len returns the current resolved byte size of operand idx, valid
// once its producing operation's Prepare step has run.
func (s *State) Len(idx int) uint64 {
	ro := s.rt[idx]
	return nntype.ByteSize(ro.Type, ro.Shape)
}

// AdoptBuffer installs buf as operand idx's buffer, owned by the
// State. It is how a driver's step hands a just-computed temporary's
// bytes back into the shared operand table so a later step sees it
// through the same index space (§4.E's cross-step pool slices).
func (s *State) AdoptBuffer(idx int, buf []byte) error {
	if idx < 0 || idx >= len(s.rt) {
		return nnerrors.BadDataf("cpu: operand index %d out of range", idx)
	}
	s.rt[idx].Buffer = kernels.BufferRef{Owned: buf}
	return nil
}

// RunOps executes ops (a subset of the model's stored run-order, in
// that relative order) against this State, per §4.G steps 1-5. It is
// the unit the planner dispatches per CPU step; running the model's
// entire RunOrder in one call is the degenerate single-step case.
func (s *State) RunOps(ctx context.Context, ops []int) error {
	if s.phase == Running {
		return nnerrors.New(nnerrors.BadState, "cpu: executor already running")
	}
	s.phase = Running

	for _, opIdx := range ops {
		if err := s.runOne(ctx, opIdx); err != nil {
			s.phase = Failed
			return err
		}
	}
	s.phase = Completed
	return nil
}

func (s *State) runOne(ctx context.Context, opIdx int) error {
	op := s.m.Operations()[opIdx]

	arity := model.ArityOf(op.Kind)
	if !arity.Check(len(op.Inputs), len(op.Outputs)) {
		return nnerrors.BadDataf("cpu: operation %d (%s) arity mismatch", opIdx, op.Kind)
	}

	typ := kernels.DispatchKeyType(op, s.rt)
	pair, err := kernels.Lookup(op.Kind, typ)
	if err != nil {
		return err
	}

	_, span := tracer.Start(ctx, fmt.Sprintf("cpu.op/%s", op.Kind))
	defer span.End()

	shapes, err := pair.Prepare(op, s.rt)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(shapes) != len(op.Outputs) {
		return nnerrors.BadDataf("cpu: operation %d (%s) prepare returned %d shapes for %d outputs", opIdx, op.Kind, len(shapes), len(op.Outputs))
	}

	for i, outIdx := range op.Outputs {
		ro := &s.rt[outIdx]
		ro.Shape = shapes[i]
		if !ro.HasBuffer() {
			size := nntype.ByteSize(ro.Type, ro.Shape)
			ro.Buffer = kernels.BufferRef{Owned: make([]byte, size)}
		} else if ro.Lifetime == model.ModelOutput {
			want := nntype.ByteSize(ro.Type, ro.Shape)
			if uint64(len(ro.Buffer.Bytes())) < want {
				return nnerrors.BadDataf("cpu: model output %d buffer too small: need %d, have %d", outIdx, want, len(ro.Buffer.Bytes()))
			}
		}
	}

	start := time.Now()
	if err := pair.Execute(op, s.rt); err != nil {
		span.RecordError(err)
		return nnerrors.New(nnerrors.OpFailed, "cpu: operation %d (%s): %v", opIdx, op.Kind, err)
	}
	opDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attribute.String("op", op.Kind.String())))

	for _, inIdx := range op.Inputs {
		ro := &s.rt[inIdx]
		if ro.UsesLeft > 0 {
			ro.UsesLeft--
			if ro.UsesLeft == 0 {
				ro.Buffer = kernels.BufferRef{}
			}
		}
	}
	return nil
}

// Run is the simple, single-step entry point: run every operation of
// the model's RunOrder against a fresh State built over pools, as the
// degenerate "one CPU step containing everything" plan of §4.E would.
func Run(ctx context.Context, m *model.Model, constPool func(poolIndex int, offset, length uint64) ([]byte, error), inputs, outputs map[int]Argument) error {
	s, err := NewState(m, constPool)
	if err != nil {
		return err
	}
	for idx, a := range inputs {
		if err := s.BindInput(idx, a.Buffer, a.Dimensions); err != nil {
			return err
		}
	}
	for idx, a := range outputs {
		if err := s.BindOutput(idx, a.Buffer, a.Dimensions); err != nil {
			return err
		}
	}
	return s.RunOps(ctx, m.RunOrder())
}

// Argument is a plain buffer + optional dimension override, the CPU
// executor's view of one bound model input or output.
type Argument struct {
	Buffer     []byte
	Dimensions nntype.Shape
}
