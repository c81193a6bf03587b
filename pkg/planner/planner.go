// Package planner implements the Partitioner / Planner (§4.E):
// assigning each operation of a finalized model to the best driver (or
// CPU) under a preference objective, then grouping the assignment into
// an ordered list of execution steps.
package planner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nnerrors"
)

var tracer = otel.Tracer("github.com/nnexec/nnexec/pkg/planner")

// CPU is the sentinel device name for the built-in CPU executor,
// standing in for "no driver handle" the way the spec's §4.E treats a
// missing non-CPU assignment.
const CPU = "CPU"

// Step is a contiguous group of operations assigned to one device.
// Inputs/Outputs are the step's "sub-model view": the operands it must
// accept from, or surface to, other steps (see wireCrossStepOperands).
type Step struct {
	Device     string // CPU sentinel, or a driver's Name()
	Operations []int  // operation indices, in topological order

	// Inputs is the set of operand indices this step reads that were
	// produced by an earlier step; a non-CPU step also lists every model
	// input its operations read.
	Inputs []int
	// Outputs is the set of operand indices this step produces that a
	// later step consumes; a non-CPU step lists every operand its
	// operations produce.
	Outputs []int
}

// ExecutionPlan is the ordered list of steps the request dispatches in
// sequence (§4.F step 4, §5 "steps within a request run strictly
// sequentially").
type ExecutionPlan []Step

// Drivers is the ordered list of candidate non-CPU devices the
// planner scores per operation. Order matters only for tie-breaking
// (§4.E step 3: "a tie keeps the earlier driver"); step formation
// orders devices by their first assigned operation in run order, not
// by this list.
type Drivers []driver.Driver

// Plan assigns every operation of m to a device and groups the result
// into steps, per §4.E. It opens one tracing span per formed step,
// recording the device and operation count, so a host application
// with an exporter installed can see the partition chosen for a model
// without the planner needing to know anything about execution.
func Plan(ctx context.Context, m *model.Model, drivers Drivers, pref driver.Preference) (plan ExecutionPlan, err error) {
	if !m.Finalized() {
		return nil, nnerrors.New(nnerrors.BadState, "planner: model is not finalized")
	}

	runOrder := m.RunOrder()

	// Degenerate case (i): zero drivers or zero operations => one CPU
	// step containing everything.
	if len(drivers) == 0 || len(runOrder) == 0 {
		plan = ExecutionPlan{{Device: CPU, Operations: append([]int(nil), runOrder...)}}
		traceSteps(ctx, plan)
		return plan, nil
	}

	assignment, err := assignDevices(m, runOrder, drivers, pref)
	if err != nil {
		return nil, err
	}
	plan = formSteps(m, runOrder, assignment)
	traceSteps(ctx, plan)
	return plan, nil
}

func traceSteps(ctx context.Context, plan ExecutionPlan) {
	for i, step := range plan {
		_, span := tracer.Start(ctx, fmt.Sprintf("planner.step/%d", i))
		span.SetAttributes(
			attribute.String("device", step.Device),
			attribute.Int("operations", len(step.Operations)),
		)
		span.End()
	}
}

// assignDevices implements §4.E step 1-3: for each operation, pick the
// driver with the minimum score for the preference-projected
// performance class, or CPU if none supports it.
func assignDevices(m *model.Model, runOrder []int, drivers Drivers, pref driver.Preference) (map[int]string, error) {
	operands := m.Operands()
	assignment := make(map[int]string, len(runOrder))

	for _, opIdx := range runOrder {
		op := m.Operations()[opIdx]
		elemType := 0
		if len(op.Inputs) > 0 {
			elemType = int(operands[op.Inputs[0]].Type)
		}
		class := elementClassOf(operands, op)

		best := ""
		var bestScore float32
		for _, d := range drivers {
			if !d.Capabilities().CanRun(op.Kind, elemType) {
				continue
			}
			score := d.Capabilities().Score(class, pref)
			if best == "" || score < bestScore {
				best = d.Name()
				bestScore = score
			}
			// Ties keep the earlier driver (§4.E step 3): since drivers
			// is scanned in order and the condition above is strict-less,
			// an equal score never overwrites best.
		}
		if best == "" {
			best = CPU
		}
		assignment[opIdx] = best
	}
	return assignment, nil
}

func elementClassOf(operands []model.Operand, op model.Operation) driver.ElementClass {
	if len(op.Inputs) == 0 {
		return driver.ClassScalar
	}
	t := operands[op.Inputs[0]].Type
	switch {
	case t == 0 || t == 1 || t == 2: // F32, I32, U32 scalars
		return driver.ClassScalar
	case t == 5: // TensorQuant8Asymm
		return driver.ClassQuant8Tensor
	default:
		return driver.ClassF32Tensor
	}
}

// formSteps implements §4.E's step-formation rule. Steps are formed by
// simulating topological execution: at each point, the devices are
// considered in reverse order of the device list (CPU forced last in
// that list, so it is drained first) and the first device with a ready
// operation claims a step. The step then absorbs every operation of
// that device that is or becomes ready, so CPU preferentially takes
// the longest upstream prefix feeding specialized drivers, each step's
// operations are emitted in topological order, and a step never
// precedes the step producing one of its inputs.
func formSteps(m *model.Model, runOrder []int, assignment map[int]string) ExecutionPlan {
	deviceOrder := make([]string, 0, 4)
	seen := map[string]bool{}
	for _, opIdx := range runOrder {
		dev := assignment[opIdx]
		if !seen[dev] {
			seen[dev] = true
			deviceOrder = append(deviceOrder, dev)
		}
	}
	// CPU is treated as the last device in the list regardless of
	// discovery order (§4.E step formation).
	if seen[CPU] {
		filtered := deviceOrder[:0:0]
		for _, d := range deviceOrder {
			if d != CPU {
				filtered = append(filtered, d)
			}
		}
		deviceOrder = append(filtered, CPU)
	}

	// Degenerate case (ii): every operation landed on the same device.
	if len(deviceOrder) == 1 {
		return ExecutionPlan{{Device: deviceOrder[0], Operations: append([]int(nil), runOrder...)}}
	}

	drainOrder := reversed(deviceOrder)
	operands := m.Operands()
	opByIdx := m.Operations()

	// Readiness bookkeeping mirrors Finish's topological sort: an
	// operation is ready once every TemporaryVariable input's producer
	// has been placed.
	consumersOf := make(map[int][]int)
	unknown := make(map[int]int, len(runOrder))
	for _, opIdx := range runOrder {
		n := 0
		for _, inIdx := range opByIdx[opIdx].Inputs {
			if operands[inIdx].Lifetime == model.TemporaryVariable {
				n++
				consumersOf[inIdx] = append(consumersOf[inIdx], opIdx)
			}
		}
		unknown[opIdx] = n
	}

	placed := make(map[int]bool, len(runOrder))
	stepOf := make(map[int]int, len(runOrder))
	var steps []Step
	remaining := len(runOrder)

	for remaining > 0 {
		dev := ""
		for _, d := range drainOrder {
			if hasReadyOp(runOrder, assignment, placed, unknown, d) {
				dev = d
				break
			}
		}
		if dev == "" {
			break // unreachable for a finalized (acyclic) model
		}

		stepIdx := len(steps)
		var stepOps []int
		for {
			progressed := false
			for _, opIdx := range runOrder {
				if placed[opIdx] || assignment[opIdx] != dev || unknown[opIdx] != 0 {
					continue
				}
				placed[opIdx] = true
				stepOf[opIdx] = stepIdx
				stepOps = append(stepOps, opIdx)
				remaining--
				for _, outIdx := range opByIdx[opIdx].Outputs {
					for _, c := range consumersOf[outIdx] {
						unknown[c]--
					}
				}
				progressed = true
			}
			if !progressed {
				break
			}
		}
		steps = append(steps, Step{Device: dev, Operations: stepOps})
	}

	wireCrossStepOperands(m, runOrder, stepOf, steps)
	return steps
}

func hasReadyOp(runOrder []int, assignment map[int]string, placed map[int]bool, unknown map[int]int, dev string) bool {
	for _, opIdx := range runOrder {
		if !placed[opIdx] && assignment[opIdx] == dev && unknown[opIdx] == 0 {
			return true
		}
	}
	return false
}

// wireCrossStepOperands computes each step's interface to the rest of
// the request. A CPU step shares the executor's run-time operand table
// directly with every other CPU-dispatched work in the request, so its
// Inputs/Outputs here are purely informational (the cross-step
// temporaries it receives and hands off). A non-CPU (driver) step has no such shared
// memory: its Inputs must list every operand its operations read that
// it did not itself just compute -- model inputs, and temporaries
// produced by an earlier step -- and its Outputs must list every
// operand its operations produce, so the request layer can marshal
// the former in and adopt the latter back (§4.E's cross-step pool
// slices; §4.F step 4's driver dispatch).
func wireCrossStepOperands(m *model.Model, runOrder []int, stepOf map[int]int, steps []Step) {
	operands := m.Operands()
	opByIdx := m.Operations()

	producerStep := make(map[int]int)
	for _, opIdx := range runOrder {
		for _, outIdx := range opByIdx[opIdx].Outputs {
			producerStep[outIdx] = stepOf[opIdx]
		}
	}

	outputSet := make([]map[int]bool, len(steps))
	inputSet := make([]map[int]bool, len(steps))
	for i := range steps {
		outputSet[i] = map[int]bool{}
		inputSet[i] = map[int]bool{}
	}

	for i, step := range steps {
		for _, opIdx := range step.Operations {
			op := opByIdx[opIdx]
			for _, outIdx := range op.Outputs {
				if step.Device == CPU {
					continue // shared memory; no packing needed
				}
				outputSet[i][outIdx] = true
			}
			for _, inIdx := range op.Inputs {
				switch operands[inIdx].Lifetime {
				case model.ModelInput:
					if step.Device != CPU {
						inputSet[i][inIdx] = true
					}
				case model.TemporaryVariable:
					prodStep, ok := producerStep[inIdx]
					if ok && prodStep != i {
						inputSet[i][inIdx] = true
						outputSet[prodStep][inIdx] = true
					}
				}
			}
		}
	}

	for i := range steps {
		steps[i].Outputs = sortedKeys(outputSet[i])
		steps[i].Inputs = sortedKeys(inputSet[i])
	}
}

func sortedKeys(m map[int]bool) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
