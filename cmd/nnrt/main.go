// Package main provides the nnrt CLI entry point: a small harness for
// driving a fixture model/request/driver-set through the runtime
// without writing a Go program against pkg/runtime directly.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/driver/refimpl"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/planner"
	"github.com/nnexec/nnexec/pkg/runtime"
	"github.com/nnexec/nnexec/pkg/wire"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nnrt",
		Short: "nnrt - a neural network execution runtime core",
		Long: `nnrt drives a finalized operation graph through a partitioner,
a request/execution-state binder, and a CPU kernel table, optionally
alongside in-process reference drivers, from a YAML fixture file.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nnrt v%s (%s)\n", version, commit)
		},
	})

	runCmd := &cobra.Command{
		Use:   "run [fixture.yaml]",
		Short: "Build the model in a fixture and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect [fixture.yaml]",
		Short: "Build and plan a fixture's model without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loaded bundles a fixture with its built model and planner preference;
// buildRuntime returns it alongside the runtime context that owns the
// fixture's reference drivers, so run/inspect share one setup path.
type loaded struct {
	fixture *Fixture
	model   *model.Model
	pref    driver.Preference
}

// buildRuntime loads a fixture, constructs and finalizes its model, and
// registers one refimpl.Driver per DriverSpec the fixture declares.
func buildRuntime(path string) (*runtime.Context, *loaded, error) {
	f, err := loadFixture(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := buildModel(f)
	if err != nil {
		return nil, nil, err
	}

	rt := runtime.New()
	for _, ds := range f.Drivers {
		var kinds []model.OpKind
		for _, name := range ds.Supports {
			if k, ok := opKindByName[name]; ok {
				kinds = append(kinds, k)
			}
		}
		perf := map[driver.ElementClass]driver.PerformancePair{
			driver.ClassF32Tensor:    {ExecTime: ds.ExecTime, PowerUsage: ds.PowerUsage},
			driver.ClassQuant8Tensor: {ExecTime: ds.ExecTime, PowerUsage: ds.PowerUsage},
			driver.ClassScalar:       {ExecTime: ds.ExecTime, PowerUsage: ds.PowerUsage},
		}
		rt.RegisterDriver(refimpl.New(ds.Name, kinds, perf, ds.CachesCompiledModels))
	}

	pref := driver.FastSingleAnswer
	if p, ok := preferenceByName[f.Preference]; ok {
		pref = p
	}

	return rt, &loaded{fixture: f, model: m, pref: pref}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, ld, err := buildRuntime(args[0])
	if err != nil {
		return err
	}

	req, err := rt.NewRequest(ld.model, ld.pref)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	for i, vals := range ld.fixture.Request.Inputs {
		if err := req.SetInputFromPointer(i, encodeFloats(vals), nil); err != nil {
			return fmt.Errorf("binding input %d: %w", i, err)
		}
	}

	outputs := make([][]byte, len(ld.model.ModelOutputs()))
	operands := ld.model.Operands()
	for i, opIdx := range ld.model.ModelOutputs() {
		outputs[i] = make([]byte, operands[opIdx].ByteSize())
		if err := req.SetOutputFromPointer(i, outputs[i], nil); err != nil {
			return fmt.Errorf("binding output %d: %w", i, err)
		}
	}

	ctx := context.Background()
	ev, err := req.StartCompute(ctx)
	if err != nil {
		return fmt.Errorf("starting compute: %w", err)
	}
	if _, err := ev.Wait(); err != nil {
		return fmt.Errorf("compute failed: %w", err)
	}

	for i, buf := range outputs {
		fmt.Printf("output %d: %v (%s)\n", i, decodeFloats(buf), humanize.Bytes(uint64(len(buf))))
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	rt, ld, err := buildRuntime(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("operands:   %d\n", len(ld.model.Operands()))
	fmt.Printf("operations: %d\n", len(ld.model.Operations()))
	fmt.Printf("constants:  %s\n", humanize.Bytes(uint64(len(ld.model.Constants()))))
	fmt.Printf("run order:  %v\n", ld.model.RunOrder())

	plan, err := planner.Plan(context.Background(), ld.model, planner.Drivers(rt.All()), ld.pref)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	for i, step := range plan {
		execReq := driver.ExecutionRequest{Operations: step.Operations}
		for _, idx := range step.Inputs {
			execReq.Inputs = append(execReq.Inputs, driver.ArgumentView{OperandIndex: idx})
		}
		for _, idx := range step.Outputs {
			execReq.Outputs = append(execReq.Outputs, driver.ArgumentView{OperandIndex: idx})
		}
		fmt.Printf("step %d: device=%s ops=%v inputs=%v outputs=%v wire=%s\n",
			i, step.Device, step.Operations, step.Inputs, step.Outputs, humanize.Bytes(uint64(wire.Size(execReq))))
	}
	return nil
}
