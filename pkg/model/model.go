// Package model implements the Model Builder (§4.C): append-only
// construction of a tensor operation graph, its finalization into an
// immutable, topologically-sorted Model, and the operand type system
// that backs every operand in the graph.
package model

import (
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
	"github.com/nnexec/nnexec/pkg/pool"
)

// MaxOperands bounds the number of operands a single model may declare.
// The source this runtime is modeled on has no single named constant
// for this; it is reserved practically by the 32-bit operand-index wire
// format, so this runtime picks a number well below that ceiling.
const MaxOperands = 1 << 20

// Model is both the builder (before Finish) and the finalized, run-ready
// graph (after Finish). All mutating methods fail with BadState once
// Finalized is true.
type Model struct {
	operands   []Operand
	operations []Operation

	constants []byte

	Pools *pool.Registry

	modelInputs  []int
	modelOutputs []int

	finalized bool
	runOrder  []int
}

// New returns an empty, unfinalized model with its own pool registry.
func New() *Model {
	return &Model{Pools: pool.New()}
}

// Finalized reports whether Finish has completed successfully.
func (m *Model) Finalized() bool { return m.finalized }

func (m *Model) requireBuilding() error {
	if m.finalized {
		return nnerrors.New(nnerrors.BadState, "model: already finalized")
	}
	return nil
}

func (m *Model) requireFinalized() error {
	if !m.finalized {
		return nnerrors.New(nnerrors.BadState, "model: not finalized")
	}
	return nil
}

// AddOperand appends a new operand of the given type/shape and returns
// its dense index.
func (m *Model) AddOperand(t nntype.ElementType, shape nntype.Shape, quant *nntype.QuantParams) (int, error) {
	if err := m.requireBuilding(); err != nil {
		return 0, err
	}
	if len(m.operands) >= MaxOperands {
		return 0, nnerrors.BadDataf("model: operand count exceeds MaxOperands (%d)", MaxOperands)
	}
	if t.IsTensor() && shape == nil {
		return 0, nnerrors.BadDataf("model: tensor operand requires a shape")
	}
	if !t.IsTensor() && len(shape) != 0 {
		return 0, nnerrors.BadDataf("model: scalar operand must not carry a shape")
	}
	if t == nntype.TensorQuant8Asymm {
		if quant == nil {
			return 0, nnerrors.BadDataf("model: TensorQuant8Asymm operand requires quantization params")
		}
		if err := quant.Validate(); err != nil {
			return 0, err
		}
	} else if quant != nil {
		return 0, nnerrors.BadDataf("model: quantization params only valid for TensorQuant8Asymm")
	}

	m.operands = append(m.operands, Operand{
		Type:     t,
		Shape:    shape.Clone(),
		Quant:    quant,
		Lifetime: TemporaryVariable,
		Location: DataLocation{Kind: LocRunTime},
	})
	return len(m.operands) - 1, nil
}

// ScalarOperand is shorthand for AddOperand with a scalar type and no
// shape, the way NeuralNetworksWrapper's typed helpers wrap the
// canonical ANeuralNetworksModel_addOperand call in the original source.
func (m *Model) ScalarOperand(t nntype.ElementType) (int, error) {
	return m.AddOperand(t, nil, nil)
}

// TensorOperand is shorthand for AddOperand with an unquantized tensor type.
func (m *Model) TensorOperand(t nntype.ElementType, dims ...uint32) (int, error) {
	return m.AddOperand(t, nntype.Shape(dims), nil)
}

// QuantTensorOperand is shorthand for AddOperand with a quantized tensor type.
func (m *Model) QuantTensorOperand(scale float32, zeroPoint int32, dims ...uint32) (int, error) {
	return m.AddOperand(nntype.TensorQuant8Asymm, nntype.Shape(dims), &nntype.QuantParams{Scale: scale, ZeroPoint: zeroPoint})
}

func (m *Model) checkOperandIndex(idx int) (*Operand, error) {
	if idx < 0 || idx >= len(m.operands) {
		return nil, nnerrors.BadDataf("model: operand index %d out of range [0,%d)", idx, len(m.operands))
	}
	return &m.operands[idx], nil
}

// SetOperandValue marks operand idx ConstantCopy and copies bytes into
// the model's constant blob at an aligned offset (§4.B alignment rule).
func (m *Model) SetOperandValue(idx int, data []byte) error {
	if err := m.requireBuilding(); err != nil {
		return err
	}
	op, err := m.checkOperandIndex(idx)
	if err != nil {
		return err
	}
	want := op.ByteSize()
	if uint64(len(data)) != want {
		return nnerrors.BadDataf("model: operand %d expects %d bytes, got %d", idx, want, len(data))
	}
	offset := nntype.AlignedOffset(uint64(len(m.constants)), want)
	if offset > uint64(len(m.constants)) {
		m.constants = append(m.constants, make([]byte, offset-uint64(len(m.constants)))...)
	}
	m.constants = append(m.constants, data...)

	op.Lifetime = ConstantCopy
	op.Location = DataLocation{Kind: LocInline, Offset: offset, Length: want}
	return nil
}

// SetOperandValueFromPool marks operand idx ConstantReference, backed
// by a slice of a pool already registered with m.Pools.
func (m *Model) SetOperandValueFromPool(idx int, poolIndex int, offset, length uint64) error {
	if err := m.requireBuilding(); err != nil {
		return err
	}
	op, err := m.checkOperandIndex(idx)
	if err != nil {
		return err
	}
	want := op.ByteSize()
	if length != want {
		return nnerrors.BadDataf("model: operand %d expects %d bytes, got %d", idx, want, length)
	}
	if _, err := m.Pools.Slice(poolIndex, offset, length); err != nil {
		return err
	}
	op.Lifetime = ConstantReference
	op.Location = DataLocation{Kind: LocPool, Pool: poolIndex, Offset: offset, Length: length}
	return nil
}

// SetOperandAsNoValue marks idx explicitly absent, for an optional
// operation input the caller chooses not to supply.
func (m *Model) SetOperandAsNoValue(idx int) error {
	if err := m.requireBuilding(); err != nil {
		return err
	}
	op, err := m.checkOperandIndex(idx)
	if err != nil {
		return err
	}
	op.Lifetime = NoValue
	op.Location = DataLocation{Kind: LocNone}
	return nil
}

// AddOperation appends an operation referencing existing operand
// indices, validating arity and indices, and increments each input's
// consumer count.
func (m *Model) AddOperation(kind OpKind, inputs, outputs []int) (int, error) {
	if err := m.requireBuilding(); err != nil {
		return 0, err
	}
	arity := ArityOf(kind)
	if !arity.Check(len(inputs), len(outputs)) {
		return 0, nnerrors.BadDataf("model: %s arity mismatch: got %d inputs, %d outputs", kind, len(inputs), len(outputs))
	}
	for _, idx := range inputs {
		if _, err := m.checkOperandIndex(idx); err != nil {
			return 0, err
		}
	}
	for _, idx := range outputs {
		op, err := m.checkOperandIndex(idx)
		if err != nil {
			return 0, err
		}
		if op.Lifetime != TemporaryVariable && op.Lifetime != ModelOutput {
			return 0, nnerrors.BadDataf("model: operation output %d must be TemporaryVariable or ModelOutput, got %s", idx, op.Lifetime)
		}
	}

	ins := append([]int(nil), inputs...)
	outs := append([]int(nil), outputs...)
	m.operations = append(m.operations, Operation{Kind: kind, Inputs: ins, Outputs: outs})

	for _, idx := range inputs {
		m.operands[idx].ConsumerCount++
	}
	return len(m.operations) - 1, nil
}

// IdentifyInputsAndOutputs sets the model's I/O index lists, marking
// the referenced operands ModelInput/ModelOutput.
func (m *Model) IdentifyInputsAndOutputs(inputs, outputs []int) error {
	if err := m.requireBuilding(); err != nil {
		return err
	}
	for _, idx := range inputs {
		op, err := m.checkOperandIndex(idx)
		if err != nil {
			return err
		}
		op.Lifetime = ModelInput
		op.Location = DataLocation{Kind: LocRunTime}
	}
	for _, idx := range outputs {
		op, err := m.checkOperandIndex(idx)
		if err != nil {
			return err
		}
		op.Lifetime = ModelOutput
		op.Location = DataLocation{Kind: LocRunTime}
	}
	m.modelInputs = append([]int(nil), inputs...)
	m.modelOutputs = append([]int(nil), outputs...)
	return nil
}

// Operands returns the operand table. ConsumerCount fields are only
// meaningful once Finish has run.
func (m *Model) Operands() []Operand { return m.operands }

// Operations returns the operations in declaration order (not run
// order — use RunOrder for execution).
func (m *Model) Operations() []Operation { return m.operations }

// Constants returns the model's inline constant blob.
func (m *Model) Constants() []byte { return m.constants }

// ModelInputs returns the model-input operand indices in declared order.
func (m *Model) ModelInputs() []int { return m.modelInputs }

// ModelOutputs returns the model-output operand indices in declared order.
func (m *Model) ModelOutputs() []int { return m.modelOutputs }

// RunOrder returns the topologically sorted operation indices computed
// by Finish.
func (m *Model) RunOrder() []int { return m.runOrder }
