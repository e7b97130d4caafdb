package lepus

import (
	"reflect"
	"strconv"
	"sync/atomic"

	"github.com/dop251/goja"
)

var (
	refArrayType    = reflect.TypeOf((*refArray)(nil))
	refTableType    = reflect.TypeOf((*refTable)(nil))
	refOpaqueType   = reflect.TypeOf((*refOpaque)(nil))
	cpointerRefType = reflect.TypeOf((*cpointerRef)(nil))
)

// lepusRef is the state shared by every LepusRef wrapper: the owning
// context and one reference on the native container. The reference is
// dropped exactly once, by the wrapper's cleanup or by context teardown.
type lepusRef struct {
	qc    *QuickContext
	ref   RefCounted
	freed atomic.Bool
}

func (h *lepusRef) release() {
	if !h.freed.CompareAndSwap(false, true) {
		return
	}
	h.qc.rt.untrackWrapper(h)
	if o, ok := h.ref.(*RefObject); ok {
		o.dropCachedObject(h.qc.cell)
	}
	h.ref.Release()
}

func lepusRefOf(o *goja.Object) *lepusRef {
	if o == nil {
		return nil
	}
	switch o.ExportType() {
	case refArrayType:
		return &o.Export().(*refArray).lepusRef
	case refTableType:
		return &o.Export().(*refTable).lepusRef
	case refOpaqueType:
		return &o.Export().(*refOpaque).lepusRef
	}
	return nil
}

// refArray exposes a native Array as an engine array.
type refArray struct {
	lepusRef
	arr *Array
}

func (a *refArray) Len() int { return a.arr.Size() }

func (a *refArray) Get(idx int) goja.Value {
	if idx < 0 || idx >= a.arr.Size() {
		return nil
	}
	return a.arr.Get(idx).ToJSValue(a.qc, false)
}

// Set also serves delete, which the engine turns into a write of undefined.
func (a *refArray) Set(idx int, val goja.Value) bool {
	if a.arr.IsConst() {
		return a.qc.rejectConstWrite(strconv.Itoa(idx))
	}
	if idx < 0 {
		return false
	}
	return a.arr.Set(idx, newJSValue(a.qc.cell, val)) == nil
}

func (a *refArray) SetLen(n int) bool {
	if a.arr.IsConst() {
		return a.qc.rejectConstWrite("length")
	}
	return a.arr.Resize(n) == nil
}

// refTable exposes a native Table as an engine object. Missing keys fall
// through to Object.prototype.
type refTable struct {
	lepusRef
	tbl *Table
}

func (t *refTable) Get(key string) goja.Value {
	if !t.tbl.Contains(key) {
		return nil
	}
	return t.tbl.GetValue(key).ToJSValue(t.qc, false)
}

func (t *refTable) Set(key string, val goja.Value) bool {
	if t.tbl.IsConst() {
		return t.qc.rejectConstWrite(key)
	}
	return t.tbl.SetValue(key, newJSValue(t.qc.cell, val)) == nil
}

func (t *refTable) Has(key string) bool { return t.tbl.Contains(key) }

func (t *refTable) Delete(key string) bool {
	if t.tbl.IsConst() {
		return t.qc.rejectConstWrite(key)
	}
	_, err := t.tbl.EraseKey(key)
	return err == nil
}

func (t *refTable) Keys() []string { return t.tbl.Keys() }

// refOpaque exposes containers scripts cannot look into: byte arrays,
// foreign object proxies and user RefObjects. Writes are ignored.
type refOpaque struct {
	lepusRef
}

func (o *refOpaque) Get(string) goja.Value       { return nil }
func (o *refOpaque) Set(string, goja.Value) bool { return true }
func (o *refOpaque) Has(string) bool             { return false }
func (o *refOpaque) Delete(string) bool          { return true }
func (o *refOpaque) Keys() []string              { return nil }

// wrapRef returns the LepusRef wrapper for ref, reusing the live wrapper if
// the engine still holds one.
func (qc *QuickContext) wrapRef(ref RefCounted) goja.Value {
	if obj := qc.rt.cachedWrapper(ref); obj != nil {
		return obj
	}
	ref.AddRef()
	var (
		obj *goja.Object
		h   *lepusRef
	)
	switch r := ref.(type) {
	case *Array:
		a := &refArray{lepusRef: lepusRef{qc: qc, ref: ref}, arr: r}
		obj = qc.vm.NewDynamicArray(a)
		obj.SetPrototype(qc.refArrayProto)
		h = &a.lepusRef
	case *Table:
		t := &refTable{lepusRef: lepusRef{qc: qc, ref: ref}, tbl: r}
		obj = qc.vm.NewDynamicObject(t)
		h = &t.lepusRef
	default:
		o := &refOpaque{lepusRef: lepusRef{qc: qc, ref: ref}}
		obj = qc.vm.NewDynamicObject(o)
		obj.SetPrototype(qc.opaquePrototype(ref))
		h = &o.lepusRef
	}
	qc.rt.trackWrapper(obj, h)
	return obj
}

// ConvertToObject materializes a native array, table or RefObject as a
// plain engine object, one level deep. Nested containers stay LepusRefs.
// A RefObject caches the result per context.
func (qc *QuickContext) ConvertToObject(v Value) goja.Value {
	if o := v.jsObject(); o != nil {
		if h := lepusRefOf(o); h != nil {
			return qc.materialize(h.ref, false)
		}
		return o
	}
	if v.ref == nil {
		return v.ToJSValue(qc, false)
	}
	return qc.materialize(v.ref, false)
}

func (qc *QuickContext) materialize(ref RefCounted, deep bool) goja.Value {
	switch r := ref.(type) {
	case *Array:
		items := make([]any, len(r.vec))
		for i, e := range r.vec {
			items[i] = e.ToJSValue(qc, deep)
		}
		return qc.vm.NewArray(items...)
	case *Table:
		obj := qc.vm.NewObject()
		for i, k := range r.keys {
			obj.Set(k, r.vals[i].ToJSValue(qc, deep))
		}
		return obj
	case *RefObject:
		if cached := r.cachedObject(qc.cell); cached != nil {
			return cached
		}
		obj := qc.vm.NewObject()
		if proto := qc.classPrototype(r.ClassID()); proto != nil {
			obj.SetPrototype(proto)
		}
		obj.DefineDataPropertySymbol(qc.refSymbol, qc.wrapRef(r), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		r.setCachedObject(qc.cell, obj)
		return obj
	}
	return qc.vm.NewObject()
}

// ClassMethod implements one method of a RefObject class. this is borrowed;
// args are borrowed; the returned Value is adopted.
type ClassMethod func(qc *QuickContext, this *RefObject, args []Value) Value

// ClassDef describes the script-visible methods of a RefObject class.
type ClassDef struct {
	Name    string
	Methods map[string]ClassMethod
}

// RegisterClass installs the method table used for RefObjects of class id
// exposed in this context. Registering an id again replaces it for
// wrappers created afterwards.
func (qc *QuickContext) RegisterClass(id ClassID, def *ClassDef) {
	proto := qc.vm.NewObject()
	for name, m := range def.Methods {
		proto.Set(name, func(call goja.FunctionCall) goja.Value {
			this := qc.refObjectOf(call.This)
			if this == nil {
				panic(qc.vm.NewTypeError("%s.%s called on incompatible receiver", def.Name, name))
			}
			args := qc.argsFromJS(call.Arguments)
			defer freeValues(args)
			ret := m(qc, this, args)
			defer ret.Free()
			return ret.ToJSValue(qc, false)
		})
	}
	qc.classes[id] = &classEntry{def: def, proto: proto}
}

type classEntry struct {
	def   *ClassDef
	proto *goja.Object
}

func (qc *QuickContext) classPrototype(id ClassID) *goja.Object {
	if e, ok := qc.classes[id]; ok {
		return e.proto
	}
	return nil
}

// refObjectOf resolves a method receiver: either a LepusRef wrapper or an
// object materialized by ConvertToObject, which keeps its wrapper under
// refSymbol.
func (qc *QuickContext) refObjectOf(this goja.Value) *RefObject {
	o, ok := this.(*goja.Object)
	if !ok {
		return nil
	}
	h := lepusRefOf(o)
	if h == nil {
		if w, ok := o.GetSymbol(qc.refSymbol).(*goja.Object); ok {
			h = lepusRefOf(w)
		}
	}
	if h == nil {
		return nil
	}
	r, _ := h.ref.(*RefObject)
	return r
}

func (qc *QuickContext) opaquePrototype(ref RefCounted) *goja.Object {
	if r, ok := ref.(*RefObject); ok {
		if proto := qc.classPrototype(r.ClassID()); proto != nil {
			return proto
		}
	}
	return qc.refOpaqueProto
}

func (qc *QuickContext) installLepusRefPrototypes() {
	qc.refOpaqueProto = qc.vm.NewObject()
	qc.refOpaqueProto.Set("toString", func(call goja.FunctionCall) goja.Value {
		if o, ok := call.This.(*goja.Object); ok {
			if h := lepusRefOf(o); h != nil {
				return qc.vm.ToValue(refString(h.ref))
			}
		}
		return qc.vm.ToValue("")
	})
	qc.installArrayShims()
}

// rejectConstWrite reports a script write to a const container. With
// ThrowOnConstWrite set the write raises a TypeError in script; otherwise it
// is dropped silently.
func (qc *QuickContext) rejectConstWrite(prop string) bool {
	msg := qc.ReportSetConstValueError(prop)
	if qc.opts.ThrowOnConstWrite {
		panic(qc.vm.NewTypeError("%s", msg))
	}
	return true
}

func (qc *QuickContext) argsFromJS(in []goja.Value) []Value {
	args := make([]Value, len(in))
	for i, a := range in {
		args[i] = newJSValue(qc.cell, a)
	}
	return args
}

func freeValues(vals []Value) {
	for i := range vals {
		vals[i].Free()
	}
}
