package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero/api"

	"github.com/lynx-family/lepusng/lepus"
	"github.com/lynx-family/lepusng/lynxvalue"
	"github.com/lynx-family/lepusng/pool"
)

// GuestEntry is the export a --wasm guest is called through. It receives
// the handle of the run's result and returns a status.
const GuestEntry = "lynx_main"

var runCmd = &cobra.Command{
	Use:   "run [flags] <bundle|file.js>",
	Short: "Run a bundle in a pooled QuickContext",
	Long:  `Load a bundle or script into a context taken from a pool, execute it and print the requested results`,
	Args:  cobra.ExactArgs(1),
	RunE:  runBundle,
}

func init() {
	runCmd.Flags().String("call", "", "global function to call after execution")
	runCmd.Flags().String("data", "", "msgpack file whose value is passed to --call; an array is spread as arguments")
	runCmd.Flags().StringSlice("print", nil, "top-level variables to print after execution")
	runCmd.Flags().String("wasm", "", "guest module called through "+GuestEntry+" with the result")
}

func runBundle(cmd *cobra.Command, args []string) error {
	callName, _ := cmd.Flags().GetString("call")
	dataPath, _ := cmd.Flags().GetString("data")
	printNames, _ := cmd.Flags().GetStringSlice("print")
	wasmPath, _ := cmd.Flags().GetString("wasm")

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	bundle, err := readBundle(args[0])
	if err != nil {
		return err
	}

	p, err := pool.Create(bundle, env, nil)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer p.Close()
	p.FillPool(1)
	p.Wait()
	qc := p.TakeContextSafely()
	if qc == nil {
		return fmt.Errorf("%s failed to load", args[0])
	}
	defer qc.Close()

	if err := qc.Ready(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	result, _ := qc.Execute()
	defer result.Free()

	if callName != "" {
		callArgs, err := readArgs(dataPath)
		if err != nil {
			return err
		}
		ret := qc.Call(callName, callArgs...)
		freeAll(callArgs)
		result.Assign(ret)
		ret.Free()
		printValue(out, callName, result)
	}

	for _, name := range printNames {
		v, found := qc.GetTopLevelVariableByName(name)
		if !found {
			printError(cmd.ErrOrStderr(), "not found", name)
			continue
		}
		printValue(out, name, v)
		v.Free()
	}

	if wasmPath != "" {
		return runGuest(cmd.Context(), out, qc, wasmPath, result)
	}
	return nil
}

// readArgs decodes the --data file into call arguments.
func readArgs(path string) ([]lepus.Value, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	v, err := lepus.DecodeValue(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	a := v.Array()
	if a == nil {
		return []lepus.Value{v}, nil
	}
	defer v.Free()
	vals := make([]lepus.Value, 0, a.Size())
	for _, e := range a.All() {
		vals = append(vals, e.Copy())
	}
	return vals, nil
}

func freeAll(vals []lepus.Value) {
	for i := range vals {
		vals[i].Free()
	}
}

// runGuest hands result to a WebAssembly guest through the lynx_value
// imports.
func runGuest(ctx context.Context, out io.Writer, qc *lepus.QuickContext, path string, result lepus.Value) error {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	env := lynxvalue.FromContext(qc)
	if env == nil {
		env = lynxvalue.Attach(qc)
	}
	rt, err := lynxvalue.NewRuntime(ctx, env)
	if err != nil {
		return err
	}
	defer rt.Close()

	mod, err := rt.Instantiate(wasmBytes, "guest")
	if err != nil {
		return err
	}
	entry := mod.ExportedFunction(GuestEntry)
	if entry == nil {
		return fmt.Errorf("%s does not export %s", path, GuestEntry)
	}
	hd := rt.Host.Push(result)
	defer rt.Host.Release(hd)
	res, err := entry.Call(ctx, api.EncodeI32(int32(hd)))
	if err != nil {
		return fmt.Errorf("%s: %w", GuestEntry, err)
	}
	st := lynxvalue.StatusOK
	if len(res) > 0 {
		st = lynxvalue.Status(api.DecodeI32(res[0]))
	}
	if st != lynxvalue.StatusOK {
		printError(out, GuestEntry, st.String())
		return fmt.Errorf("%s returned %s", GuestEntry, st)
	}
	printStatus(out, GuestEntry, st.String())
	return nil
}
