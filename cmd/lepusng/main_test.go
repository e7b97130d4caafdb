package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lynx-family/lepusng/lepus"
)

const appSource = `
globalThis.answer = 6 * 7;
globalThis.sum = function(a, b) { return a + b; };
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCompileAndRun(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "lynx.toml", []byte("[context]\nname = \"cli\"\n"))
	src := writeFile(t, dir, "app.js", []byte(appSource))

	args, err := lepus.MarshalValue(lepus.NewArrayValue(lepus.NewArray(lepus.NewInt32(1), lepus.NewInt32(2))))
	if err != nil {
		t.Fatalf("MarshalValue: %v", err)
	}
	data := writeFile(t, dir, "args.msgpack", args)

	out, err := execute(t, "compile", "--config", config, src)
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, out)
	}
	bundlePath := filepath.Join(dir, "app"+BundleExt)
	b, err := readBundle(bundlePath)
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	if b.FileName != "app.js" || string(b.Source) != appSource {
		t.Errorf("got bundle %q, want app.js with the script source", b.FileName)
	}

	out, err = execute(t, "run", "--config", config, "--call", "sum", "--data", data, "--print", "answer", bundlePath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"sum = 3", "answer = 42"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestCompileRejectsBadSource(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "lynx.toml", nil)
	src := writeFile(t, dir, "bad.js", []byte("function ("))

	if _, err := execute(t, "compile", "--config", config, src); err == nil {
		t.Fatalf("compile of invalid source succeeded")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad"+BundleExt)); !os.IsNotExist(err) {
		t.Errorf("bundle written for invalid source")
	}
}

func TestReadArgs(t *testing.T) {
	dir := t.TempDir()
	single, _ := lepus.MarshalValue(lepus.NewString("x"))
	path := writeFile(t, dir, "one.msgpack", single)

	vals, err := readArgs(path)
	if err != nil {
		t.Fatalf("readArgs: %v", err)
	}
	defer freeAll(vals)
	if len(vals) != 1 || vals[0].StdString() != "x" {
		t.Errorf("got %v, want [x]", vals)
	}

	if vals, err := readArgs(""); err != nil || vals != nil {
		t.Errorf("got (%v, %v), want no arguments", vals, err)
	}
}

func TestReadBundleScript(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "page.js", []byte("1"))
	b, err := readBundle(path)
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	if b.FileName != "page.js" {
		t.Errorf("got %q, want page.js", b.FileName)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, lepus.Version) {
		t.Errorf("output %q does not mention %s", out, lepus.Version)
	}
}
