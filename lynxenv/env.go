// Package lynxenv holds the runtime switches that gate context behavior.
// Switches are loaded once, from a lynx.toml file or defaults, and injected
// into contexts and pools at construction.
package lynxenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"github.com/lynx-family/lepusng/lepus"
)

// FileName is the name Find looks for.
const FileName = "lynx.toml"

// DefaultPoolSize is the number of contexts a bare pool is filled with.
const DefaultPoolSize = 1

// ErrNotFound is returned by Find when no lynx.toml exists up to the root.
var ErrNotFound = errors.New("lynxenv: " + FileName + " not found")

// Env is the set of switches read from lynx.toml.
type Env struct {
	Context ContextEnv `toml:"context"`
	Pool    PoolEnv    `toml:"pool"`
	Debug   DebugEnv   `toml:"debug"`

	// Path is the file the Env was loaded from, if any.
	Path string `toml:"-"`
}

// ContextEnv configures each QuickContext.
type ContextEnv struct {
	Name              string `toml:"name"`
	GCEnable          bool   `toml:"gc_enable"`
	DisableStrictMode bool   `toml:"disable_strict_mode"`
	TableDeepCheck    bool   `toml:"table_deep_check"`
	StackSize         int64  `toml:"stack_size"`
	TargetSDKVersion  string `toml:"target_sdk_version"`
}

// PoolEnv configures context pools.
type PoolEnv struct {
	Size         int64 `toml:"size"`
	AutoGenerate bool  `toml:"auto_generate"`
}

// DebugEnv carries devtool switches.
type DebugEnv struct {
	// Devtool makes writes to const containers throw in script.
	Devtool          bool   `toml:"devtool"`
	DebugInfoOutside bool   `toml:"debuginfo_outside"`
	TemplateDebugURL string `toml:"template_debug_url"`
}

// Default returns the switches used when no file is loaded.
func Default() *Env {
	return &Env{
		Context: ContextEnv{
			Name:             lepus.DefaultContextName,
			TargetSDKVersion: lepus.Version,
		},
		Pool: PoolEnv{Size: DefaultPoolSize},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Env, error) {
	env := Default()
	meta, err := toml.DecodeFile(path, env)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	env.Path = path
	return env, env.validate()
}

// Parse decodes TOML text over the defaults.
func Parse(data string) (*Env, error) {
	env := Default()
	if _, err := toml.Decode(data, env); err != nil {
		return nil, fmt.Errorf("lynxenv: parse: %w", err)
	}
	return env, env.validate()
}

// Find walks up from dir looking for lynx.toml and loads the first one
// found.
func Find(dir string) (*Env, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

func (e *Env) validate() error {
	if e.Context.StackSize < 0 {
		return fmt.Errorf("lynxenv: context.stack_size must not be negative, got %d", e.Context.StackSize)
	}
	if e.Pool.Size < 0 {
		return fmt.Errorf("lynxenv: pool.size must not be negative, got %d", e.Pool.Size)
	}
	return nil
}

// Options converts the switches into context options. delegate may be nil,
// in which case contexts log through a LogDelegate reporting the
// configured SDK version.
func (e *Env) Options(delegate lepus.Delegate) (lepus.Options, error) {
	stack, err := safecast.Conv[int](e.Context.StackSize)
	if err != nil {
		return lepus.Options{}, fmt.Errorf("lynxenv: context.stack_size: %w", err)
	}
	if delegate == nil {
		delegate = &lepus.LogDelegate{SDKVersion: e.Context.TargetSDKVersion}
	}
	return lepus.Options{
		Name:              e.Context.Name,
		Delegate:          delegate,
		GCEnable:          e.Context.GCEnable,
		DisableStrictMode: e.Context.DisableStrictMode,
		ThrowOnConstWrite: e.Debug.Devtool,
		TableDeepCheck:    e.Context.TableDeepCheck,
		DebugInfoOutside:  e.Debug.DebugInfoOutside,
		TemplateDebugURL:  e.Debug.TemplateDebugURL,
		StackSize:         stack,
	}, nil
}

// PoolSize returns the fill count for pools created without a bundle.
func (e *Env) PoolSize() int {
	n, err := safecast.Conv[int](e.Pool.Size)
	if err != nil {
		return DefaultPoolSize
	}
	return n
}
