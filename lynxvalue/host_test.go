package lynxvalue

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/lynx-family/lepusng/lepus"
)

const (
	outPtr  = 64
	namePtr = 256
	bufPtr  = 512
)

func newRuntime(t *testing.T) (*lepus.QuickContext, *Runtime) {
	t.Helper()
	qc, env := newEnv(t, false)
	rt, err := NewRuntime(context.Background(), env)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return qc, rt
}

func call(t *testing.T, rt *Runtime, name string, params ...uint64) Status {
	t.Helper()
	st, err := rt.Call(name, params...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return st
}

func i32(v int32) uint64 { return api.EncodeI32(v) }

func handle(hd Handle) uint64 { return api.EncodeI32(int32(hd)) }

func readU32(t *testing.T, rt *Runtime, ptr MemoryPtr) uint32 {
	t.Helper()
	v, ok := rt.Memory.ReadUint32(ptr)
	if !ok {
		t.Fatalf("read at %v out of range", ptr)
	}
	return v
}

func readF64(t *testing.T, rt *Runtime, ptr MemoryPtr) float64 {
	t.Helper()
	b, ok := rt.Memory.ReadBytes(ptr, 8)
	if !ok {
		t.Fatalf("read at %v out of range", ptr)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func writeName(t *testing.T, rt *Runtime, s string) {
	t.Helper()
	if !rt.Memory.WriteBytes(namePtr, append([]byte(s), 0)) {
		t.Fatalf("write name failed")
	}
}

func TestHostTypeofAndGetters(t *testing.T) {
	_, rt := newRuntime(t)
	h := rt.Host

	hd := h.Push(lepus.NewInt32(42))
	if st := call(t, rt, "typeof", handle(hd), i32(outPtr)); st != StatusOK {
		t.Fatalf("typeof: %v", st)
	}
	if got := Type(readU32(t, rt, outPtr)); got != TypeInt32 {
		t.Errorf("got %v, want %v", got, TypeInt32)
	}
	if st := call(t, rt, "get_int32", handle(hd), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_int32: %v", st)
	}
	if got := int32(readU32(t, rt, outPtr)); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if st := call(t, rt, "get_bool", handle(hd), i32(outPtr)); st != StatusBoolExpected {
		t.Errorf("get_bool on int32: got %v, want %v", st, StatusBoolExpected)
	}

	d := h.Push(lepus.NewDouble(-2.5))
	if st := call(t, rt, "get_double", handle(d), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_double: %v", st)
	}
	if got := readF64(t, rt, outPtr); got != -2.5 {
		t.Errorf("got %v, want -2.5", got)
	}

	b := h.Push(lepus.NewBool(true))
	if st := call(t, rt, "get_bool", handle(b), i32(outPtr)); st != StatusOK || readU32(t, rt, outPtr) != 1 {
		t.Errorf("get_bool: got (%v, %d)", st, readU32(t, rt, outPtr))
	}
}

func TestHostInvalidHandle(t *testing.T) {
	_, rt := newRuntime(t)
	if st := call(t, rt, "typeof", i32(999), i32(outPtr)); st != StatusInvalidArg {
		t.Errorf("got %v, want %v", st, StatusInvalidArg)
	}
	if st := call(t, rt, "release", i32(999)); st != StatusInvalidArg {
		t.Errorf("release: got %v, want %v", st, StatusInvalidArg)
	}
}

func TestHostOutOfBoundsPointer(t *testing.T) {
	_, rt := newRuntime(t)
	hd := rt.Host.Push(lepus.NewInt32(1))
	size := rt.Memory.mem.Size()
	if st := call(t, rt, "typeof", handle(hd), api.EncodeU32(size)); st != StatusInvalidArg {
		t.Errorf("got %v, want %v", st, StatusInvalidArg)
	}
}

func TestHostNamedProperties(t *testing.T) {
	_, rt := newRuntime(t)
	h := rt.Host

	obj := h.Push(lepus.NewTableValue(lepus.NewTable()))
	val := h.Push(lepus.NewString("hello"))
	writeName(t, rt, "greeting")

	if st := call(t, rt, "set_named_property", handle(obj), i32(namePtr), handle(val)); st != StatusOK {
		t.Fatalf("set_named_property: %v", st)
	}
	if st := call(t, rt, "has_named_property", handle(obj), i32(namePtr), i32(outPtr)); st != StatusOK || readU32(t, rt, outPtr) != 1 {
		t.Fatalf("has_named_property: got (%v, %d)", st, readU32(t, rt, outPtr))
	}
	if st := call(t, rt, "get_named_property", handle(obj), i32(namePtr), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_named_property: %v", st)
	}
	got := Handle(readU32(t, rt, outPtr))

	if st := call(t, rt, "get_string_utf8", handle(got), 0, 0, i32(outPtr)); st != StatusOK {
		t.Fatalf("probe: %v", st)
	}
	if n := readU32(t, rt, outPtr); n != 5 {
		t.Errorf("probe: got %d, want 5", n)
	}
	if st := call(t, rt, "get_string_utf8", handle(got), i32(bufPtr), i32(4), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_string_utf8: %v", st)
	}
	if n := readU32(t, rt, outPtr); n != 3 {
		t.Errorf("copied %d bytes, want 3", n)
	}
	if s, _ := rt.Memory.ReadString(bufPtr); s != "hel" {
		t.Errorf("got %q, want %q", s, "hel")
	}

	if st := call(t, rt, "delete_named_property", handle(obj), i32(namePtr)); st != StatusOK {
		t.Fatalf("delete_named_property: %v", st)
	}
	call(t, rt, "has_named_property", handle(obj), i32(namePtr), i32(outPtr))
	if readU32(t, rt, outPtr) != 0 {
		t.Errorf("property present after delete")
	}
}

func TestHostElements(t *testing.T) {
	qc, rt := newRuntime(t)
	run(t, qc, `globalThis.a = [10, 20];`)
	a := global(t, qc, "a")
	h := rt.Host

	arr := h.Push(a)
	v := h.Push(lepus.NewInt32(30))
	if st := call(t, rt, "set_element", handle(arr), api.EncodeU32(2), handle(v)); st != StatusOK {
		t.Fatalf("set_element: %v", st)
	}
	if st := call(t, rt, "get_array_length", handle(arr), i32(outPtr)); st != StatusOK || readU32(t, rt, outPtr) != 3 {
		t.Errorf("get_array_length: got (%v, %d), want (ok, 3)", st, readU32(t, rt, outPtr))
	}
	if st := call(t, rt, "get_element", handle(arr), api.EncodeU32(2), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_element: %v", st)
	}
	e := Handle(readU32(t, rt, outPtr))
	call(t, rt, "get_number", handle(e), i32(outPtr))
	if got := readF64(t, rt, outPtr); got != 30 {
		t.Errorf("got %v, want 30", got)
	}
	if st := call(t, rt, "delete_element", handle(arr), api.EncodeU32(0), i32(outPtr)); st != StatusOK {
		t.Fatalf("delete_element: %v", st)
	}
	call(t, rt, "has_element", handle(arr), api.EncodeU32(0), i32(outPtr))
	if readU32(t, rt, outPtr) != 0 {
		t.Errorf("element present after delete")
	}
}

func TestHostArrayBuffer(t *testing.T) {
	_, rt := newRuntime(t)
	hd := rt.Host.Push(lepus.NewByteArrayValue(lepus.NewByteArray([]byte{1, 2, 3, 4})))

	if st := call(t, rt, "get_arraybuffer_info", handle(hd), i32(bufPtr), api.EncodeU32(2), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_arraybuffer_info: %v", st)
	}
	if n := readU32(t, rt, outPtr); n != 4 {
		t.Errorf("got length %d, want 4", n)
	}
	b, _ := rt.Memory.ReadBytes(bufPtr, 3)
	if b[0] != 1 || b[1] != 2 || b[2] != 0 {
		t.Errorf("got %v, want [1 2 0]", b)
	}
}

func TestHostReferences(t *testing.T) {
	qc, rt := newRuntime(t)
	h := rt.Host
	hd := h.Push(lepus.NewString("kept"))

	if st := call(t, rt, "create_reference", handle(hd), api.EncodeU32(1), i32(outPtr)); st != StatusOK {
		t.Fatalf("create_reference: %v", st)
	}
	ref := readU32(t, rt, outPtr)
	if !h.Release(hd) {
		t.Fatalf("release failed")
	}

	if st := call(t, rt, "get_reference_value", api.EncodeU32(ref), i32(outPtr)); st != StatusOK {
		t.Fatalf("get_reference_value: %v", st)
	}
	v, ok := h.Value(Handle(readU32(t, rt, outPtr)))
	if !ok || v.StdString() != "kept" {
		t.Errorf("got %v, want kept", v)
	}

	rt.Memory.WriteUint32(outPtr, 0)
	if st := call(t, rt, "move_reference", 0, api.EncodeU32(ref), i32(outPtr)); st != StatusOK {
		t.Fatalf("move_reference: %v", st)
	}
	moved := readU32(t, rt, outPtr)
	if moved == 0 || moved == ref {
		t.Errorf("move_reference wrote %d", moved)
	}
	if got, _ := FromContext(qc).GetReferenceValue(Ref(moved)); got.StdString() != "kept" {
		t.Errorf("got %v, want kept", got)
	}

	if st := call(t, rt, "delete_reference", api.EncodeU32(ref)); st != StatusOK {
		t.Errorf("delete_reference: %v", st)
	}
	if st := call(t, rt, "delete_reference", api.EncodeU32(ref)); st != StatusInvalidArg {
		t.Errorf("second delete: got %v, want %v", st, StatusInvalidArg)
	}
}

func TestHostToString(t *testing.T) {
	_, rt := newRuntime(t)
	hd := rt.Host.Push(lepus.NewArrayValue(lepus.NewArray(lepus.NewInt32(1), lepus.NewInt32(2))))
	if st := call(t, rt, "to_string_utf8", handle(hd), i32(bufPtr), i32(16), i32(outPtr)); st != StatusOK {
		t.Fatalf("to_string_utf8: %v", st)
	}
	if s, _ := rt.Memory.ReadString(bufPtr); s != "1,2" {
		t.Errorf("got %q, want %q", s, "1,2")
	}
	if st := call(t, rt, "is_refcounted_object", handle(hd), i32(outPtr)); st != StatusOK || readU32(t, rt, outPtr) != 1 {
		t.Errorf("is_refcounted_object: got (%v, %d)", st, readU32(t, rt, outPtr))
	}
}

func TestHostNotSupported(t *testing.T) {
	_, rt := newRuntime(t)
	if st := call(t, rt, "create_double", api.EncodeF64(1.5), i32(outPtr)); st != StatusNotSupport {
		t.Errorf("create_double: got %v, want %v", st, StatusNotSupport)
	}
	if st := call(t, rt, "create_map", i32(outPtr)); st != StatusNotSupport {
		t.Errorf("create_map: got %v, want %v", st, StatusNotSupport)
	}
}

func TestHostDetached(t *testing.T) {
	qc, rt := newRuntime(t)
	hd := rt.Host.Push(lepus.NewInt32(1))
	qc.Close()
	if st := call(t, rt, "typeof", handle(hd), i32(outPtr)); st != StatusInvalidArg {
		t.Errorf("got %v, want %v", st, StatusInvalidArg)
	}
}

func TestHostRelease(t *testing.T) {
	_, rt := newRuntime(t)
	h := rt.Host
	a := h.Push(lepus.NewString("a"))
	h.Push(lepus.NewString("b"))
	if h.Len() != 2 {
		t.Fatalf("got %d handles, want 2", h.Len())
	}
	if st := call(t, rt, "release", handle(a)); st != StatusOK {
		t.Errorf("release: %v", st)
	}
	if h.Len() != 1 {
		t.Errorf("got %d handles, want 1", h.Len())
	}
	h.Close()
	if h.Len() != 0 {
		t.Errorf("got %d handles after close, want 0", h.Len())
	}
}
