package lynxenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lynx-family/lepusng/lepus"
)

const sample = `
[context]
name = "card"
gc_enable = true
stack_size = 512
target_sdk_version = "2.9"

[pool]
size = 3
auto_generate = true

[debug]
devtool = true
debuginfo_outside = true
template_debug_url = "http://localhost/template.js"
`

func TestParse(t *testing.T) {
	env, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	opts, err := env.Options(nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Name != "card" || !opts.GCEnable || opts.StackSize != 512 {
		t.Errorf("got %+v", opts)
	}
	if !opts.ThrowOnConstWrite || !opts.DebugInfoOutside {
		t.Errorf("debug switches not applied: %+v", opts)
	}
	if got := opts.Delegate.TargetSDKVersion(); got != "2.9" {
		t.Errorf("got sdk %q, want %q", got, "2.9")
	}
	if got := env.PoolSize(); got != 3 {
		t.Errorf("got pool size %d, want 3", got)
	}
}

func TestDefaults(t *testing.T) {
	env, err := Parse("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Context.Name != lepus.DefaultContextName {
		t.Errorf("got name %q, want %q", env.Context.Name, lepus.DefaultContextName)
	}
	if env.PoolSize() != DefaultPoolSize {
		t.Errorf("got pool size %d, want %d", env.PoolSize(), DefaultPoolSize)
	}
}

func TestParseRejectsNegative(t *testing.T) {
	if _, err := Parse("[pool]\nsize = -1\n"); err == nil {
		t.Errorf("negative pool size accepted")
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("[context]\nnmae = \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "context.nmae") {
		t.Errorf("got %v, want an unknown key error", err)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	env, err := Find(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if env.Path != filepath.Join(root, FileName) {
		t.Errorf("got path %q", env.Path)
	}
}
