package lynxvalue

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// envWasm is (module (memory (export "memory") 1 256)). Guests import
// their linear memory from "env.memory" so the host can reach it before
// any guest is instantiated.
var envWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version 1
	0x05, 0x05, 0x01, // memory section, one memory
	0x01, 0x01, 0x80, 0x02, // limits: min=1 max=256
	0x07, 0x0a, 0x01, // export section, one export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // "memory"
	0x02, 0x00, // memory 0
}

// Runtime is a wazero runtime with the lynx_value module and a shared
// "env" memory installed, ready to instantiate guests that operate on one
// context's values.
//
// A Runtime should be used from the goroutine that owns its context.
type Runtime struct {
	Host   *Host
	Memory *Memory

	ctx    context.Context
	wazero wazero.Runtime
	host   api.Module
	guests []api.Module
	closed bool
}

// NewRuntime creates a Runtime serving env. ctx is used for all wasm
// operations and must stay valid until Close.
func NewRuntime(ctx context.Context, env *Env) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesTailCall)
	wzr := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, wzr); err != nil {
		wzr.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	envMod, err := wzr.InstantiateWithConfig(ctx, envWasm, wazero.NewModuleConfig().WithName("env"))
	if err != nil {
		wzr.Close(ctx)
		return nil, fmt.Errorf("instantiate env module: %w", err)
	}
	mem := NewMemory(envMod.Memory())

	host := NewHost(env, mem)
	hostMod, err := host.Instantiate(ctx, wzr)
	if err != nil {
		wzr.Close(ctx)
		return nil, fmt.Errorf("instantiate %s module: %w", ModuleName, err)
	}

	return &Runtime{
		Host:   host,
		Memory: mem,
		ctx:    ctx,
		wazero: wzr,
		host:   hostMod,
	}, nil
}

// Instantiate compiles and instantiates a guest under name. Reactor
// guests have their _initialize export run.
func (rt *Runtime) Instantiate(wasmBytes []byte, name string) (api.Module, error) {
	if rt.closed {
		return nil, fmt.Errorf("runtime is closed")
	}
	compiled, err := rt.wazero.CompileModule(rt.ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	mod, err := rt.wazero.InstantiateModule(rt.ctx, compiled, wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("instantiate module %s: %w", name, err)
	}
	rt.guests = append(rt.guests, mod)
	return mod, nil
}

// Call invokes a host import directly, as a guest would. It exists for
// embedders that drive the ABI from Go against the shared memory.
func (rt *Runtime) Call(name string, params ...uint64) (Status, error) {
	fn := rt.host.ExportedFunction(name)
	if fn == nil {
		return StatusInvalidArg, fmt.Errorf("%s has no function %q", ModuleName, name)
	}
	res, err := fn.Call(rt.ctx, params...)
	if err != nil {
		return StatusFailed, fmt.Errorf("call %s: %w", name, err)
	}
	return Status(api.DecodeI32(res[0])), nil
}

// Close releases every guest handle and closes the wazero runtime.
func (rt *Runtime) Close() error {
	if rt.closed {
		return nil
	}
	rt.closed = true
	rt.Host.Close()
	rt.guests = nil
	return rt.wazero.Close(rt.ctx)
}
