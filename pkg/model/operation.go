package model

// Operation is a typed graph node that reads Inputs and writes Outputs,
// both ordered lists of operand indices into the owning Model.
type Operation struct {
	Kind    OpKind
	Inputs  []int
	Outputs []int
}
