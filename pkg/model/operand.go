package model

import "github.com/nnexec/nnexec/pkg/nntype"

// Lifetime classifies where an operand's bytes live and who produces
// them, per §3.
type Lifetime int

const (
	// TemporaryVariable is produced by one op and consumed by others;
	// its buffer is materialized at run time.
	TemporaryVariable Lifetime = iota
	// ModelInput is bound per-request by the caller.
	ModelInput
	// ModelOutput is bound per-request by the caller.
	ModelOutput
	// ConstantCopy lives inline in the model's constant blob.
	ConstantCopy
	// ConstantReference lives in a pool region (pool_index, offset, length).
	ConstantReference
	// NoValue is explicitly absent — used for optional operation inputs.
	NoValue
)

func (l Lifetime) String() string {
	switch l {
	case TemporaryVariable:
		return "TemporaryVariable"
	case ModelInput:
		return "ModelInput"
	case ModelOutput:
		return "ModelOutput"
	case ConstantCopy:
		return "ConstantCopy"
	case ConstantReference:
		return "ConstantReference"
	case NoValue:
		return "NoValue"
	default:
		return "UnknownLifetime"
	}
}

// LocationKind tags a DataLocation's variant.
type LocationKind int

const (
	// LocNone is the zero value: no location assigned yet (builder-phase
	// operand, or NoValue).
	LocNone LocationKind = iota
	// LocPool is a (pool_index, offset, length) slice.
	LocPool
	// LocInline is an (offset, length) slice of the model's constant blob.
	LocInline
	// LocRunTime means the buffer does not exist until the CPU executor
	// (or a driver) materializes one during execution.
	LocRunTime
)

// DataLocation is the tagged variant called for in the spec's Design
// Notes, replacing sentinel offset values (e.g. 0xFFFFFFFE) with an
// explicit Kind. Only the fields relevant to Kind are meaningful.
type DataLocation struct {
	Kind   LocationKind
	Pool   int    // valid when Kind == LocPool
	Offset uint64 // valid when Kind == LocPool or LocInline
	Length uint64 // valid when Kind == LocPool or LocInline
}

// Operand is one tensor or scalar node in the graph.
type Operand struct {
	Type  nntype.ElementType
	Shape nntype.Shape
	// Quant is non-nil only for Type == TensorQuant8Asymm.
	Quant *nntype.QuantParams

	Lifetime Lifetime
	Location DataLocation

	// ConsumerCount is the number of operation inputs that read this
	// operand, maintained by AddOperation and fixed once the model is
	// finalized. The executor seeds a temporary's remaining-use count
	// from it.
	ConsumerCount int
}

// ByteSize returns nntype.ByteSize for this operand's current type and
// shape. Only meaningful once the shape's wildcards (if any) are
// resolved.
func (o Operand) ByteSize() uint64 {
	return nntype.ByteSize(o.Type, o.Shape)
}
