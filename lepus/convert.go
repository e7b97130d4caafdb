package lepus

import (
	"bytes"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"unsafe"

	"github.com/dop251/goja"
)

// maxSafeInteger is 2^53-1, the largest integer scripts represent exactly.
const maxSafeInteger = 1<<53 - 1

// CopyMode selects how ToLepusValue treats functions and the native
// containers it finds behind LepusRef wrappers.
type CopyMode int

const (
	// CopyNone shares native containers and keeps functions as engine values.
	CopyNone CopyMode = iota
	// CopyDeepClone clones native containers; functions become Nil.
	CopyDeepClone
	// CopyShallow shares native containers after MarkConst, cloning those
	// that cannot be locked; functions become Nil.
	CopyShallow
)

// NewValueFromJS wraps an engine value produced by qc. Primitives collapse
// to native scalars and LepusRef wrappers unwrap to their container; other
// engine values are retained for the returned Value.
func NewValueFromJS(qc *QuickContext, v goja.Value) Value {
	return newJSValue(qc.cell, v)
}

func newJSValue(cell *ContextCell, v goja.Value) Value {
	if v == nil || goja.IsUndefined(v) {
		return Undefined()
	}
	if goja.IsNull(v) {
		return Nil()
	}
	switch x := v.(type) {
	case *goja.Object:
		if h := lepusRefOf(x); h != nil {
			h.ref.AddRef()
			return FromRef(h.ref)
		}
		if p, ok := cpointerOf(x); ok {
			return NewCPointer(p)
		}
		return engineValue(cell, x)
	case *goja.Symbol:
		return engineValue(cell, x)
	}
	return scalarFromJS(v)
}

func engineValue(cell *ContextCell, v goja.Value) Value {
	rt := cell.Runtime()
	if rt == nil {
		return Undefined()
	}
	val := Value{tag: TagPrimJsValue, js: v, cell: cell}
	if cell.GCEnabled() {
		val.handle = rt.newHandle(v)
	} else {
		rt.dup(v)
	}
	return val
}

// scalarFromJS maps engine primitives: integers fitting 32 bits become
// Int32, other safe integers become Int64, BigInts become Int64 when they
// fit. Numbers beyond the safe range and -0 stay Double so that they come
// back to the engine as the same number.
func scalarFromJS(v goja.Value) Value {
	switch e := v.Export().(type) {
	case bool:
		return NewBool(e)
	case int64:
		if e >= math.MinInt32 && e <= math.MaxInt32 {
			return NewInt32(int32(e))
		}
		if e < -maxSafeInteger || e > maxSafeInteger {
			return NewDouble(float64(e))
		}
		return NewInt64(e)
	case float64:
		if math.IsNaN(e) {
			return NaN()
		}
		if e == 0 && math.Signbit(e) {
			return NewDouble(e)
		}
		if i, ok := int64Representable(e); ok && i >= -maxSafeInteger && i <= maxSafeInteger {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return NewInt32(int32(i))
			}
			return NewInt64(i)
		}
		return NewDouble(e)
	case string:
		return NewString(e)
	case *big.Int:
		if e.IsInt64() {
			return NewInt64(e.Int64())
		}
		if e.IsUint64() {
			return NewUInt64(e.Uint64())
		}
		f, _ := new(big.Float).SetInt(e).Float64()
		return NewDouble(f)
	}
	return Undefined()
}

// ToLepusValue returns v with every engine value in reach collapsed to its
// closest native form. The result no longer depends on any context, except
// for functions kept under CopyNone. CopyDeepClone never returns the native
// containers of v itself.
func (v Value) ToLepusValue(mode CopyMode) Value {
	switch v.tag {
	case TagPrimJsValue:
		vm := v.cell.VM()
		if vm == nil {
			return Undefined()
		}
		c := collapser{cell: v.cell, mode: mode, seen: make(map[*goja.Object]bool)}
		out := Undefined()
		if ex := vm.Try(func() { out = c.collapse(v.js) }); ex != nil {
			out.Free()
			return Undefined()
		}
		return out
	case TagArray:
		a := v.Array()
		if a == nil || !holdsEngineValues(v) {
			if mode == CopyDeepClone {
				return v.Clone()
			}
			return v.Copy()
		}
		n := &Array{vec: make([]Value, 0, len(a.vec))}
		n.init(n.releaseSelf)
		for _, e := range a.vec {
			n.vec = append(n.vec, e.ToLepusValue(mode))
		}
		return NewArrayValue(n)
	case TagTable:
		t := v.Table()
		if t == nil || !holdsEngineValues(v) {
			if mode == CopyDeepClone {
				return v.Clone()
			}
			return v.Copy()
		}
		n := NewTable()
		for i, k := range t.keys {
			n.SetValue(k, t.vals[i].ToLepusValue(mode))
		}
		return NewTableValue(n)
	}
	return v.Copy()
}

func holdsEngineValues(v Value) bool {
	switch v.tag {
	case TagPrimJsValue:
		return true
	case TagArray:
		if a := v.Array(); a != nil {
			for _, e := range a.vec {
				if holdsEngineValues(e) {
					return true
				}
			}
		}
	case TagTable:
		if t := v.Table(); t != nil {
			for _, e := range t.vals {
				if holdsEngineValues(e) {
					return true
				}
			}
		}
	}
	return false
}

type collapser struct {
	cell *ContextCell
	mode CopyMode
	seen map[*goja.Object]bool
}

func (c *collapser) collapse(js goja.Value) Value {
	switch x := js.(type) {
	case *goja.Object:
		if h := lepusRefOf(x); h != nil {
			return c.fromRef(h.ref)
		}
		if p, ok := cpointerOf(x); ok {
			return NewCPointer(p)
		}
		if _, ok := goja.AssertFunction(x); ok {
			if c.mode == CopyNone {
				return engineValue(c.cell, x)
			}
			return Nil()
		}
		if c.seen[x] {
			return Nil()
		}
		c.seen[x] = true
		defer delete(c.seen, x)
		if x.ClassName() == "Array" {
			n := int(x.Get("length").ToInteger())
			arr := &Array{vec: make([]Value, 0, n)}
			arr.init(arr.releaseSelf)
			for i := 0; i < n; i++ {
				arr.vec = append(arr.vec, c.collapse(x.Get(strconv.Itoa(i))))
			}
			return NewArrayValue(arr)
		}
		if b, ok := arrayBufferBytes(x); ok {
			return NewByteArrayValue(NewByteArray(bytes.Clone(b)))
		}
		tbl := NewTable()
		for _, k := range x.Keys() {
			tbl.SetValue(k, c.collapse(x.Get(k)))
		}
		return NewTableValue(tbl)
	case *goja.Symbol:
		if c.mode == CopyNone {
			return engineValue(c.cell, x)
		}
		return Nil()
	}
	if js == nil || goja.IsUndefined(js) {
		return Undefined()
	}
	if goja.IsNull(js) {
		return Nil()
	}
	return scalarFromJS(js)
}

func (c *collapser) fromRef(ref RefCounted) Value {
	borrowed := Value{tag: tagForRef(ref.RefType()), ref: ref}
	switch c.mode {
	case CopyDeepClone:
		return borrowed.Clone()
	case CopyShallow:
		if ref.MarkConst() {
			return borrowed.Copy()
		}
		return borrowed.Clone()
	}
	return borrowed.Copy()
}

// ToJSValue returns the engine form of v in qc. Arrays, tables and other
// containers are exposed as LepusRef wrappers sharing the native storage;
// with deep set, arrays and tables are materialized as engine objects
// instead, recursively.
func (v Value) ToJSValue(qc *QuickContext, deep bool) goja.Value {
	vm := qc.vm
	switch v.tag {
	case TagNil:
		return goja.Null()
	case TagUndefined:
		return goja.Undefined()
	case TagBool:
		return vm.ToValue(v.bits != 0)
	case TagInt32, TagInt64:
		i := int64(v.bits)
		if i >= -maxSafeInteger && i <= maxSafeInteger {
			return vm.ToValue(i)
		}
		return vm.ToValue(big.NewInt(i))
	case TagUInt32, TagUInt64:
		if v.bits <= maxSafeInteger {
			return vm.ToValue(int64(v.bits))
		}
		return vm.ToValue(new(big.Int).SetUint64(v.bits))
	case TagDouble:
		return vm.ToValue(v.Number())
	case TagNaN:
		return goja.NaN()
	case TagString:
		return vm.ToValue(v.str)
	case TagCPointer:
		return qc.cpointerObject(v.ptr)
	case TagCFunction:
		return qc.cfunctionObject(v.fn)
	case TagArray:
		if v.ref == nil {
			return vm.NewArray()
		}
		if deep {
			return qc.materialize(v.ref, true)
		}
		return qc.wrapRef(v.ref)
	case TagTable:
		if v.ref == nil {
			return vm.NewObject()
		}
		if deep {
			return qc.materialize(v.ref, true)
		}
		return qc.wrapRef(v.ref)
	case TagRefCounted:
		if v.ref == nil {
			return goja.Undefined()
		}
		if deep {
			return vm.NewObject()
		}
		return qc.wrapRef(v.ref)
	case TagByteArray, TagJSObject:
		if v.ref == nil {
			return goja.Undefined()
		}
		return qc.wrapRef(v.ref)
	case TagCDate:
		if d := v.CDate(); d != nil {
			return qc.construct("Date", vm.ToValue(d.Time().UnixMilli()))
		}
	case TagRegExp:
		if r := v.RegExp(); r != nil {
			return qc.construct("RegExp", vm.ToValue(r.Pattern()), vm.ToValue(r.Flags()))
		}
	case TagPrimJsValue:
		if v.cell == qc.cell {
			return v.js
		}
		n := v.ToLepusValue(CopyDeepClone)
		defer n.Free()
		return n.ToJSValue(qc, deep)
	}
	return goja.Undefined()
}

func engineGet(v Value, key string) Value {
	o := v.jsObject()
	vm := v.cell.VM()
	if o == nil || vm == nil {
		return Undefined()
	}
	var out goja.Value
	if ex := vm.Try(func() { out = o.Get(key) }); ex != nil {
		return Undefined()
	}
	return newJSValue(v.cell, out)
}

func engineSet(v Value, key string, val Value) bool {
	o := v.jsObject()
	qc := v.cell.QuickContext()
	if o == nil || qc == nil {
		return false
	}
	js := val.ToJSValue(qc, false)
	var err error
	if ex := qc.vm.Try(func() { err = o.Set(key, js) }); ex != nil {
		return false
	}
	return err == nil
}

func engineString(v Value) string {
	vm := v.cell.VM()
	if vm == nil || v.js == nil {
		return ""
	}
	var s string
	if ex := vm.Try(func() { s = v.js.String() }); ex != nil {
		return ""
	}
	return s
}

// cloneEngineValue deep-copies plain objects and arrays inside the owning
// context. Functions and other exotic objects are shared.
func cloneEngineValue(v Value) Value {
	qc := v.cell.QuickContext()
	if qc == nil {
		return Nil()
	}
	var out goja.Value
	seen := make(map[*goja.Object]*goja.Object)
	if ex := qc.vm.Try(func() { out = qc.deepCopy(v.js, seen) }); ex != nil {
		return Nil()
	}
	return newJSValue(v.cell, out)
}

func (qc *QuickContext) deepCopy(js goja.Value, seen map[*goja.Object]*goja.Object) goja.Value {
	o, ok := js.(*goja.Object)
	if !ok {
		return js
	}
	if h := lepusRefOf(o); h != nil {
		c := Value{tag: tagForRef(h.ref.RefType()), ref: h.ref}.Clone()
		defer c.Free()
		return c.ToJSValue(qc, false)
	}
	if dup, ok := seen[o]; ok {
		return dup
	}
	switch o.ClassName() {
	case "Array":
		n := int(o.Get("length").ToInteger())
		arr := qc.vm.NewArray()
		seen[o] = arr
		for i := 0; i < n; i++ {
			k := strconv.Itoa(i)
			arr.Set(k, qc.deepCopy(o.Get(k), seen))
		}
		return arr
	case "Object":
		obj := qc.vm.CreateObject(o.Prototype())
		seen[o] = obj
		for _, k := range o.Keys() {
			obj.Set(k, qc.deepCopy(o.Get(k), seen))
		}
		return obj
	}
	return o
}

var arrayBufferType = reflect.TypeOf(goja.ArrayBuffer{})

// arrayBufferBytes returns the backing store of an engine ArrayBuffer.
// ArrayBuffers report class "Object", so they are told apart by export type.
func arrayBufferBytes(o *goja.Object) ([]byte, bool) {
	if o.ExportType() != arrayBufferType {
		return nil, false
	}
	ab, ok := o.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	return ab.Bytes(), true
}

// JSArrayBuffer returns the bytes of an engine ArrayBuffer. The slice
// aliases the buffer.
func (v Value) JSArrayBuffer() ([]byte, bool) {
	o := v.jsObject()
	if o == nil {
		return nil, false
	}
	return arrayBufferBytes(o)
}

// cpointerRef carries a raw pointer through the engine as an opaque object.
type cpointerRef struct {
	p unsafe.Pointer
}

func (c *cpointerRef) Get(string) goja.Value       { return nil }
func (c *cpointerRef) Set(string, goja.Value) bool { return false }
func (c *cpointerRef) Has(string) bool             { return false }
func (c *cpointerRef) Delete(string) bool          { return true }
func (c *cpointerRef) Keys() []string              { return nil }

func cpointerOf(o *goja.Object) (unsafe.Pointer, bool) {
	if o.ExportType() != cpointerRefType {
		return nil, false
	}
	return o.Export().(*cpointerRef).p, true
}

func (qc *QuickContext) cpointerObject(p unsafe.Pointer) goja.Value {
	if p == nil {
		return goja.Null()
	}
	obj := qc.vm.NewDynamicObject(&cpointerRef{p: p})
	obj.SetPrototype(nil)
	return obj
}

func (qc *QuickContext) cfunctionObject(fn *CFunction) goja.Value {
	if fn == nil || fn.Fn == nil {
		return goja.Undefined()
	}
	return qc.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := qc.argsFromJS(call.Arguments)
		defer freeValues(args)
		ret := fn.Fn(qc, args)
		defer ret.Free()
		return ret.ToJSValue(qc, false)
	})
}

func (qc *QuickContext) construct(ctor string, args ...goja.Value) goja.Value {
	out := goja.Undefined()
	qc.vm.Try(func() {
		if o, err := qc.vm.New(qc.vm.Get(ctor), args...); err == nil {
			out = o
		}
	})
	return out
}
