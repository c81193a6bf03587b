package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/nntype"
)

// Fixture is the YAML shape `nnrt run`/`nnrt inspect` load: a model
// plus the request bindings to run it with, and an optional set of
// reference drivers to partition across (SPEC_FULL §1: "cmd/nnrt loads
// a YAML model/request/driver fixture file").
type Fixture struct {
	Operands []OperandSpec `yaml:"operands"`
	Ops      []OpSpec      `yaml:"operations"`
	Inputs   []int         `yaml:"inputs"`
	Outputs  []int         `yaml:"outputs"`

	Request RequestSpec `yaml:"request"`

	// Preference selects the planner objective when Drivers is
	// non-empty; ignored for the CPU-only degenerate plan.
	Preference string        `yaml:"preference"`
	Drivers    []DriverSpec  `yaml:"drivers"`
}

// OperandSpec describes one operand. Value, when set, marks the
// operand ConstantCopy; Dims left as 0 entries are wildcards, exactly
// as the spec allows at build time.
type OperandSpec struct {
	Type  string    `yaml:"type"`
	Dims  []uint32  `yaml:"dims"`
	Scale float32   `yaml:"scale"`
	Zero  int32     `yaml:"zero_point"`
	Value []float32 `yaml:"value"`
	IntValue []int32 `yaml:"int_value"`
}

// OpSpec describes one operation by name, looked up in opKindByName.
type OpSpec struct {
	Kind    string `yaml:"kind"`
	Inputs  []int  `yaml:"inputs"`
	Outputs []int  `yaml:"outputs"`
}

// RequestSpec binds fixture inputs by value, in the same order as the
// fixture's top-level Inputs list.
type RequestSpec struct {
	Inputs [][]float32 `yaml:"inputs"`
}

// DriverSpec describes a refimpl reference driver: the op kinds it
// claims to support and its reported performance.
type DriverSpec struct {
	Name       string   `yaml:"name"`
	Supports   []string `yaml:"supports"`
	ExecTime   float32  `yaml:"exec_time"`
	PowerUsage float32  `yaml:"power_usage"`
	CachesCompiledModels bool `yaml:"caches_compiled_models"`
}

var typeByName = map[string]nntype.ElementType{
	"F32":                 nntype.F32,
	"I32":                 nntype.I32,
	"U32":                 nntype.U32,
	"TENSOR_F32":          nntype.TensorF32,
	"TENSOR_I32":          nntype.TensorI32,
	"TENSOR_QUANT8_ASYMM": nntype.TensorQuant8Asymm,
}

var opKindByName = map[string]model.OpKind{
	"ADD": model.ADD, "MUL": model.MUL,
	"CONV_2D": model.CONV_2D, "DEPTHWISE_CONV_2D": model.DEPTHWISE_CONV_2D,
	"AVERAGE_POOL_2D": model.AVERAGE_POOL_2D, "MAX_POOL_2D": model.MAX_POOL_2D, "L2_POOL_2D": model.L2_POOL_2D,
	"RELU": model.RELU, "RELU1": model.RELU1, "RELU6": model.RELU6,
	"LOGISTIC": model.LOGISTIC, "TANH": model.TANH, "SOFTMAX": model.SOFTMAX,
	"L2_NORMALIZATION": model.L2_NORMALIZATION, "LOCAL_RESPONSE_NORMALIZATION": model.LOCAL_RESPONSE_NORMALIZATION,
	"RESHAPE": model.RESHAPE, "RESIZE_BILINEAR": model.RESIZE_BILINEAR,
	"DEPTH_TO_SPACE": model.DEPTH_TO_SPACE, "SPACE_TO_DEPTH": model.SPACE_TO_DEPTH,
	"CONCATENATION": model.CONCATENATION, "FULLY_CONNECTED": model.FULLY_CONNECTED,
	"EMBEDDING_LOOKUP": model.EMBEDDING_LOOKUP, "HASHTABLE_LOOKUP": model.HASHTABLE_LOOKUP,
	"DEQUANTIZE": model.DEQUANTIZE, "FLOOR": model.FLOOR,
}

var preferenceByName = map[string]driver.Preference{
	"LowPower":         driver.LowPower,
	"FastSingleAnswer": driver.FastSingleAnswer,
	"SustainedSpeed":   driver.SustainedSpeed,
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

// buildModel constructs and finalizes a model.Model from the fixture,
// the CLI's analogue of a real application's ModelBuilder calls.
func buildModel(f *Fixture) (*model.Model, error) {
	m := model.New()

	for i, spec := range f.Operands {
		typ, ok := typeByName[spec.Type]
		if !ok {
			return nil, fmt.Errorf("operand %d: unknown type %q", i, spec.Type)
		}
		var quant *nntype.QuantParams
		if typ == nntype.TensorQuant8Asymm {
			quant = &nntype.QuantParams{Scale: spec.Scale, ZeroPoint: spec.Zero}
		}
		idx, err := m.AddOperand(typ, nntype.Shape(spec.Dims), quant)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		if idx != i {
			return nil, fmt.Errorf("operand %d: builder assigned index %d, fixture is not append-only", i, idx)
		}
		if len(spec.Value) > 0 {
			if err := m.SetOperandValue(idx, encodeFloats(spec.Value)); err != nil {
				return nil, fmt.Errorf("operand %d: %w", i, err)
			}
		} else if len(spec.IntValue) > 0 {
			if err := m.SetOperandValue(idx, encodeInts(spec.IntValue)); err != nil {
				return nil, fmt.Errorf("operand %d: %w", i, err)
			}
		}
	}

	for i, spec := range f.Ops {
		kind, ok := opKindByName[spec.Kind]
		if !ok {
			return nil, fmt.Errorf("operation %d: unknown kind %q", i, spec.Kind)
		}
		if _, err := m.AddOperation(kind, spec.Inputs, spec.Outputs); err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, spec.Kind, err)
		}
	}

	if err := m.IdentifyInputsAndOutputs(f.Inputs, f.Outputs); err != nil {
		return nil, fmt.Errorf("identify inputs/outputs: %w", err)
	}
	if err := m.Finish(); err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	return m, nil
}
