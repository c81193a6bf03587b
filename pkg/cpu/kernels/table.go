package kernels

import (
	"fmt"

	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// PrepareFn infers each output operand's resolved shape from the
// operation's (already-resolved) input shapes and any attribute
// operands, returning one shape per entry in op.Outputs, in order.
type PrepareFn func(op model.Operation, operands []RuntimeOperand) ([]nntype.Shape, error)

// ExecuteFn runs the kernel: operands[op.Outputs[i]].Buffer is already
// allocated and sized per the PrepareFn result by the time Execute is
// called.
type ExecuteFn func(op model.Operation, operands []RuntimeOperand) error

// Pair is the (prepare, execute) pair the executor dispatches to.
type Pair struct {
	Prepare PrepareFn
	Execute ExecuteFn
}

type tableKey struct {
	Kind model.OpKind
	Type nntype.ElementType
}

var dispatch = map[tableKey]Pair{}

func register(kind model.OpKind, typ nntype.ElementType, p Pair) {
	dispatch[tableKey{kind, typ}] = p
}

// registerAll registers the same pair for every type in types, for ops
// whose kernel logic is type-agnostic beyond the element width nntype
// already abstracts (e.g. element-wise arithmetic).
func registerAll(kind model.OpKind, p Pair, types ...nntype.ElementType) {
	for _, t := range types {
		register(kind, t, p)
	}
}

// DispatchKeyType is the element type used to key the dispatch table
// for an operation: the type of its first input, which is also the
// type a driver's Capabilities are reported against (§4.D/§4.E).
func DispatchKeyType(op model.Operation, operands []RuntimeOperand) nntype.ElementType {
	if len(op.Inputs) == 0 {
		return nntype.F32
	}
	return operands[op.Inputs[0]].Type
}

// Lookup returns the (prepare, execute) pair for (kind, typ), or an
// error if no kernel is registered -- always true for OEM, and true for
// any (kind, type) combination this build does not implement.
func Lookup(kind model.OpKind, typ nntype.ElementType) (Pair, error) {
	p, ok := dispatch[tableKey{kind, typ}]
	if !ok {
		return Pair{}, nnerrors.New(nnerrors.BadData, "kernels: no kernel registered for %s", fmt.Sprintf("%s/%s", kind, typ))
	}
	return p, nil
}

// Supports reports whether a kernel is registered for (kind, typ),
// without the error-wrapping Lookup does -- this is what backs a
// driver's SupportedOperations bit vector when the driver in question
// delegates to this same table (e.g. the in-process reference driver).
func Supports(kind model.OpKind, typ nntype.ElementType) bool {
	_, ok := dispatch[tableKey{kind, typ}]
	return ok
}
