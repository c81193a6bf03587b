package model

import "github.com/nnexec/nnexec/pkg/nnerrors"

// Finish performs validation and topological sort (§4.3), then locks
// the model. It is idempotent: calling Finish on an already-finalized
// model is a no-op and RunOrder stays stable, per the spec's testable
// property 1.
func (m *Model) Finish() error {
	if m.finalized {
		return nil
	}

	if err := m.checkConstantShapesResolved(); err != nil {
		return err
	}

	producerOf := make(map[int]int, len(m.operands))
	for opIdx, op := range m.operations {
		for _, outIdx := range op.Outputs {
			if m.operands[outIdx].Lifetime != TemporaryVariable && m.operands[outIdx].Lifetime != ModelOutput {
				continue
			}
			if existing, ok := producerOf[outIdx]; ok {
				return nnerrors.BadDataf("model: operand %d produced by both operation %d and %d", outIdx, existing, opIdx)
			}
			producerOf[outIdx] = opIdx
		}
	}

	for idx, op := range m.operands {
		if op.Lifetime == TemporaryVariable {
			if _, ok := producerOf[idx]; !ok {
				return nnerrors.BadDataf("model: temporary operand %d has no producing operation", idx)
			}
		}
	}

	consumerOps := make(map[int][]int)
	unknownInputs := make([]int, len(m.operations))
	for opIdx, op := range m.operations {
		n := 0
		for _, inIdx := range op.Inputs {
			if m.operands[inIdx].Lifetime == TemporaryVariable {
				n++
				consumerOps[inIdx] = append(consumerOps[inIdx], opIdx)
			}
		}
		unknownInputs[opIdx] = n
	}

	worklist := make([]int, 0, len(m.operations))
	for opIdx, n := range unknownInputs {
		if n == 0 {
			worklist = append(worklist, opIdx)
		}
	}

	runOrder := make([]int, 0, len(m.operations))
	for len(worklist) > 0 {
		// Deterministic tie-break: always take the lowest-indexed ready
		// operation, so a given declaration order always produces the
		// same run order.
		minPos := 0
		for i := 1; i < len(worklist); i++ {
			if worklist[i] < worklist[minPos] {
				minPos = i
			}
		}
		opIdx := worklist[minPos]
		worklist[minPos] = worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		runOrder = append(runOrder, opIdx)

		for _, outIdx := range m.operations[opIdx].Outputs {
			for _, consumerIdx := range consumerOps[outIdx] {
				unknownInputs[consumerIdx]--
				if unknownInputs[consumerIdx] == 0 {
					worklist = append(worklist, consumerIdx)
				}
			}
		}
	}

	if len(runOrder) != len(m.operations) {
		return nnerrors.BadDataf("model: graph contains a cycle or an orphan consumer (%d of %d operations reachable)",
			len(runOrder), len(m.operations))
	}

	m.runOrder = runOrder
	m.finalized = true
	return nil
}

func (m *Model) checkConstantShapesResolved() error {
	for idx, op := range m.operands {
		if op.Lifetime != ConstantCopy && op.Lifetime != ConstantReference {
			continue
		}
		if op.Shape.HasWildcard() {
			return nnerrors.BadDataf("model: constant operand %d has an unresolved wildcard dimension", idx)
		}
	}
	return nil
}
