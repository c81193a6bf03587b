// Package driver defines the one collaborator contract the core
// depends on (§6): the interface a pluggable compute driver implements,
// its advertised capabilities, and the request view a driver receives.
// The registry of drivers the planner consults is kept by pkg/runtime's
// Context, not by this package.
package driver

import (
	"context"

	"github.com/nnexec/nnexec/pkg/event"
	"github.com/nnexec/nnexec/pkg/model"
)

// Status is a driver's current availability.
type Status int

const (
	Unknown Status = iota
	Available
	Busy
	Offline
)

func (s Status) String() string {
	switch s {
	case Available:
		return "Available"
	case Busy:
		return "Busy"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// PerformancePair is an (execTime, powerUsage) estimate for one element
// class on one driver.
type PerformancePair struct {
	ExecTime   float32 // arbitrary relative units, lower is better
	PowerUsage float32 // arbitrary relative units, lower is better
}

// ElementClass groups operand element types for the purpose of
// per-driver performance reporting (§4.D): drivers report one
// performance pair per class, not per exact element type.
type ElementClass int

const (
	ClassF32Tensor ElementClass = iota
	ClassQuant8Tensor
	ClassScalar
)

// Capabilities is what a driver advertises about itself.
type Capabilities struct {
	// Supported is the set of (op kind, element type) tuples the driver
	// can run at all. Keyed by a packed string id produced by opKey,
	// since model.OpKind/nntype.ElementType are small integer types
	// from two different packages.
	Supported map[string]bool

	// Performance is indexed by ElementClass.
	Performance map[ElementClass]PerformancePair

	// CachesCompiledModels hints that PrepareModel's result can be
	// reused across calls for an equal model, the way a driver backed
	// by an on-device compiler cache would.
	CachesCompiledModels bool
}

// NewCapabilities returns an empty Capabilities ready for Supports/Report.
func NewCapabilities() *Capabilities {
	return &Capabilities{
		Supported:   make(map[string]bool),
		Performance: make(map[ElementClass]PerformancePair),
	}
}

func opKey(kind model.OpKind, typ int) string {
	return kind.String() + "/" + itoa(typ)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Supports marks (kind, elementType) as runnable on this driver.
func (c *Capabilities) Supports(kind model.OpKind, elementType int) {
	c.Supported[opKey(kind, elementType)] = true
}

// CanRun reports whether (kind, elementType) was marked via Supports.
func (c *Capabilities) CanRun(kind model.OpKind, elementType int) bool {
	return c.Supported[opKey(kind, elementType)]
}

// Report records a performance pair for one element class.
func (c *Capabilities) Report(class ElementClass, pair PerformancePair) {
	c.Performance[class] = pair
}

// Score projects this driver's performance for class onto the given
// preference, per §4.E step 1.
func (c *Capabilities) Score(class ElementClass, preference Preference) float32 {
	pair := c.Performance[class]
	if preference == LowPower {
		return pair.PowerUsage
	}
	return pair.ExecTime
}

// Preference is the planner objective, §6.
type Preference int

const (
	LowPower Preference = iota
	FastSingleAnswer
	SustainedSpeed
)

// PreparedModel is the opaque result of compiling a (sub-)model on a
// driver. The core never inspects it; it only calls Execute.
type PreparedModel interface {
	// Execute asynchronously runs req and signals ev on completion.
	Execute(ctx context.Context, req ExecutionRequest, ev *event.Event)
}

// ExecutionRequest is the minimal view a driver needs of a dispatched
// sub-request: argument views plus the pool vector they resolve
// against. It intentionally does not expose raw process pointers (§4.F
// step 2); request.Request (a superset, including the owning model) is
// adapted down to this shape at the driver boundary.
type ExecutionRequest struct {
	// Operations is the subset of model.Operations() (by index, in
	// topological order) this invocation must run -- the planner's
	// sub-model view, expressed as operation indices into the one model
	// PrepareModel was given rather than as a freestanding graph.
	Operations []int
	Inputs     []ArgumentView
	Outputs    []ArgumentView
	Pools      []PoolView
}

// ArgumentView is a resolved (pool_index, offset, length, dimensions)
// binding, the wire shape every bound model input/output takes once
// §4.F has finished packing. OperandIndex names which operand of the
// prepared model this view feeds or surfaces, so a driver can bind it
// into its own run-time operand table without a side channel.
type ArgumentView struct {
	OperandIndex int
	PoolIndex    int
	Offset       uint64
	Length       uint64
	Dimensions   []uint32
}

// PoolView is a flattened pool the driver can map; Bytes is present for
// in-process drivers (e.g. the reference driver in pkg/driver/refimpl)
// and nil for drivers that map pools by some other OS mechanism the
// core does not model.
type PoolView struct {
	Index int
	Bytes []byte
}

// Driver is the full contract a pluggable compute backend implements.
type Driver interface {
	Name() string
	Capabilities() *Capabilities
	// SupportedOperations returns a bit vector sized to len(m.Operations()),
	// true for each operation this driver can run.
	SupportedOperations(m *model.Model) []bool
	// PrepareModel compiles m (or the caller's chosen sub-model view of
	// it) into an opaque PreparedModel.
	PrepareModel(ctx context.Context, m *model.Model) (PreparedModel, error)
	Status() Status
}
