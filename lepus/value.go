package lepus

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/dop251/goja"
)

// Tag names the shape a Value currently holds.
type Tag uint8

const (
	TagNil Tag = iota
	TagUndefined
	TagBool
	TagInt32
	TagInt64
	TagUInt32
	TagUInt64
	TagDouble
	TagNaN
	TagString
	TagCPointer
	TagCFunction
	TagArray
	TagTable
	TagByteArray
	TagJSObject
	TagRefCounted
	TagClosure
	TagCDate
	TagRegExp
	// TagPrimJsValue marks a value owned by a context's engine.
	TagPrimJsValue
)

var tagNames = [...]string{
	TagNil:         "Nil",
	TagUndefined:   "Undefined",
	TagBool:        "Bool",
	TagInt32:       "Int32",
	TagInt64:       "Int64",
	TagUInt32:      "UInt32",
	TagUInt64:      "UInt64",
	TagDouble:      "Double",
	TagNaN:         "NaN",
	TagString:      "String",
	TagCPointer:    "CPointer",
	TagCFunction:   "CFunction",
	TagArray:       "Array",
	TagTable:       "Table",
	TagByteArray:   "ByteArray",
	TagJSObject:    "JSObject",
	TagRefCounted:  "RefCounted",
	TagClosure:     "Closure",
	TagCDate:       "CDate",
	TagRegExp:      "RegExp",
	TagPrimJsValue: "PrimJsValue",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

func tagForRef(r RefType) Tag {
	switch r {
	case RefTypeArray:
		return TagArray
	case RefTypeTable:
		return TagTable
	case RefTypeByteArray:
		return TagByteArray
	case RefTypeJSObject:
		return TagJSObject
	case RefTypeClosure:
		return TagClosure
	case RefTypeCDate:
		return TagCDate
	case RefTypeRegExp:
		return TagRegExp
	default:
		return TagRefCounted
	}
}

// CFunction is a host function callable from scripts. Two CFunction values
// are equal only if they are the same pointer.
type CFunction struct {
	Name string
	Fn   func(ctx Context, args []Value) Value
}

// Value is the unified dynamic value: a scalar, a string, a reference to a
// native container, or an engine value owned by a context.
//
// Values follow explicit ownership. A Value returned by a constructor or a
// function documented as returning an owned Value must be released with
// Free, or handed to something that adopts it. Copy produces a second owner.
// Values returned by container getters are borrowed and must not be freed.
//
// The zero Value is Nil.
type Value struct {
	tag  Tag
	bits uint64
	str  string
	ref  RefCounted
	ptr  unsafe.Pointer
	fn   *CFunction

	// Engine payload.
	js     goja.Value
	cell   *ContextCell
	handle *persistentHandle
}

// Nil returns the null value.
func Nil() Value { return Value{} }

// Undefined returns the undefined value.
func Undefined() Value { return Value{tag: TagUndefined} }

// NaN returns a NaN value.
func NaN() Value { return Value{tag: TagNaN} }

// NewBool returns a boolean value.
func NewBool(b bool) Value {
	v := Value{tag: TagBool}
	if b {
		v.bits = 1
	}
	return v
}

// NewInt32 returns a 32-bit integer value.
func NewInt32(i int32) Value { return Value{tag: TagInt32, bits: uint64(int64(i))} }

// NewInt64 returns a 64-bit integer value.
func NewInt64(i int64) Value { return Value{tag: TagInt64, bits: uint64(i)} }

// NewUInt32 returns an unsigned 32-bit integer value.
func NewUInt32(i uint32) Value { return Value{tag: TagUInt32, bits: uint64(i)} }

// NewUInt64 returns an unsigned 64-bit integer value.
func NewUInt64(i uint64) Value { return Value{tag: TagUInt64, bits: i} }

// NewDouble returns a double value. A NaN argument yields the NaN tag.
func NewDouble(f float64) Value {
	if math.IsNaN(f) {
		return NaN()
	}
	return Value{tag: TagDouble, bits: math.Float64bits(f)}
}

// NewString returns a string value.
func NewString(s string) Value { return Value{tag: TagString, str: s} }

// NewCPointer returns a borrowed raw pointer value.
func NewCPointer(p unsafe.Pointer) Value { return Value{tag: TagCPointer, ptr: p} }

// NewCFunction returns a host function value.
func NewCFunction(fn *CFunction) Value { return Value{tag: TagCFunction, fn: fn} }

// FromRef adopts the reference held by the caller on r. A nil r yields an
// empty value of the matching tag.
func FromRef(r RefCounted) Value {
	if isNilRef(r) {
		return Nil()
	}
	return Value{tag: tagForRef(r.RefType()), ref: r}
}

// NewArrayValue adopts a reference on a.
func NewArrayValue(a *Array) Value {
	if a == nil {
		return Value{tag: TagArray}
	}
	return Value{tag: TagArray, ref: a}
}

// NewTableValue adopts a reference on t.
func NewTableValue(t *Table) Value {
	if t == nil {
		return Value{tag: TagTable}
	}
	return Value{tag: TagTable, ref: t}
}

// NewByteArrayValue adopts a reference on b.
func NewByteArrayValue(b *ByteArray) Value {
	if b == nil {
		return Value{tag: TagByteArray}
	}
	return Value{tag: TagByteArray, ref: b}
}

// NewJSObjectValue adopts a reference on o.
func NewJSObjectValue(o *JSObject) Value {
	if o == nil {
		return Value{tag: TagJSObject}
	}
	return Value{tag: TagJSObject, ref: o}
}

// NewRefObjectValue adopts a reference on o.
func NewRefObjectValue(o *RefObject) Value {
	if o == nil {
		return Value{tag: TagRefCounted}
	}
	return Value{tag: TagRefCounted, ref: o}
}

func isNilRef(r RefCounted) bool {
	switch x := r.(type) {
	case nil:
		return true
	case *Array:
		return x == nil
	case *Table:
		return x == nil
	case *ByteArray:
		return x == nil
	case *JSObject:
		return x == nil
	case *RefObject:
		return x == nil
	case *Closure:
		return x == nil
	case *CDate:
		return x == nil
	case *RegExp:
		return x == nil
	}
	return false
}

// Copy returns a second owner of v's payload.
func (v Value) Copy() Value {
	switch {
	case v.ref != nil:
		v.ref.AddRef()
		return v
	case v.tag == TagPrimJsValue:
		rt := v.cell.Runtime()
		if rt == nil {
			return Undefined()
		}
		c := v
		c.handle = nil
		if v.cell.GCEnabled() {
			c.handle = rt.newHandle(v.js)
		} else {
			rt.dup(v.js)
		}
		return c
	}
	return v
}

// Free releases the payload and leaves v Nil. Freeing a value whose context
// has closed is a no-op for the engine part.
func (v *Value) Free() {
	switch {
	case v.ref != nil:
		v.ref.Release()
	case v.tag == TagPrimJsValue:
		if v.handle != nil {
			v.handle.reset()
		} else if rt := v.cell.Runtime(); rt != nil {
			rt.free(v.js)
		}
	}
	*v = Value{}
}

// Assign makes v a copy of src, releasing what v held. The source payload is
// retained before the old one is released, so assigning a value to itself
// or to one of its own elements is safe.
func (v *Value) Assign(src Value) {
	if v.sameStorage(src) {
		return
	}
	c := src.Copy()
	v.Free()
	*v = c
}

func (v *Value) sameStorage(src Value) bool {
	if v.tag != src.tag {
		return false
	}
	switch {
	case v.ref != nil:
		return v.ref == src.ref
	case v.tag == TagPrimJsValue:
		if v.handle != nil {
			return v.handle == src.handle
		}
		return v.cell == src.cell && v.js == src.js
	}
	return false
}

// Move transfers the payload out of v, leaving v Nil.
func (v *Value) Move() Value {
	m := *v
	*v = Value{}
	return m
}

// Type returns the tag.
func (v Value) Type() Tag { return v.tag }

func (v Value) IsNil() bool       { return v.tag == TagNil }
func (v Value) IsUndefined() bool { return v.tag == TagUndefined }
func (v Value) IsBool() bool      { return v.tag == TagBool }
func (v Value) IsString() bool    { return v.tag == TagString }
func (v Value) IsNaN() bool       { return v.tag == TagNaN }
func (v Value) IsInt64() bool     { return v.tag == TagInt64 }
func (v Value) IsCPointer() bool  { return v.tag == TagCPointer }
func (v Value) IsCFunction() bool { return v.tag == TagCFunction }
func (v Value) IsByteArray() bool { return v.tag == TagByteArray }
func (v Value) IsJSObject() bool  { return v.tag == TagJSObject }
func (v Value) IsClosure() bool   { return v.tag == TagClosure }
func (v Value) IsCDate() bool     { return v.tag == TagCDate }
func (v Value) IsRegExp() bool    { return v.tag == TagRegExp }

// IsRefCounted reports whether v holds a user RefObject.
func (v Value) IsRefCounted() bool { return v.tag == TagRefCounted }

// IsEmpty reports whether v is Nil or Undefined.
func (v Value) IsEmpty() bool { return v.tag == TagNil || v.tag == TagUndefined }

// IsNumber reports whether v holds a numeric scalar, including NaN.
func (v Value) IsNumber() bool {
	switch v.tag {
	case TagInt32, TagInt64, TagUInt32, TagUInt64, TagDouble, TagNaN:
		return true
	}
	return false
}

// IsJSValue reports whether v is owned by a context's engine.
func (v Value) IsJSValue() bool { return v.tag == TagPrimJsValue }

func (v Value) jsObject() *goja.Object {
	if v.tag != TagPrimJsValue {
		return nil
	}
	o, _ := v.js.(*goja.Object)
	return o
}

// IsJSArray reports whether v is an engine array.
func (v Value) IsJSArray() bool {
	o := v.jsObject()
	return o != nil && o.ClassName() == "Array"
}

// IsJSFunction reports whether v is a callable engine value.
func (v Value) IsJSFunction() bool {
	if v.tag != TagPrimJsValue {
		return false
	}
	_, ok := goja.AssertFunction(v.js)
	return ok
}

// IsJSTable reports whether v is a plain engine object: neither an array
// nor a function.
func (v Value) IsJSTable() bool {
	o := v.jsObject()
	return o != nil && !v.IsJSArray() && !v.IsJSFunction()
}

// IsJSUndefined reports whether v is the engine undefined. Engine
// primitives collapse to native tags, so this only holds for
// values that escaped collapsing.
func (v Value) IsJSUndefined() bool {
	return v.tag == TagPrimJsValue && goja.IsUndefined(v.js)
}

// IsArray reports whether v is a native or engine array.
func (v Value) IsArray() bool { return v.tag == TagArray || v.IsJSArray() }

// IsArrayOrJSArray is IsArray.
func (v Value) IsArrayOrJSArray() bool { return v.IsArray() }

// IsTable reports whether v is a native table or a plain engine object.
func (v Value) IsTable() bool { return v.tag == TagTable || v.IsJSTable() }

// IsObject is IsTable.
func (v Value) IsObject() bool { return v.IsTable() }

// IsTrue applies script truthiness.
func (v Value) IsTrue() bool {
	switch v.tag {
	case TagNil, TagUndefined, TagNaN:
		return false
	case TagBool:
		return v.bits != 0
	case TagInt32, TagInt64, TagUInt32, TagUInt64:
		return v.bits != 0
	case TagDouble:
		return v.Number() != 0
	case TagString:
		return v.str != ""
	case TagCPointer:
		return v.ptr != nil
	case TagCFunction:
		return v.fn != nil
	case TagPrimJsValue:
		return v.js != nil && v.js.ToBoolean()
	}
	return v.ref != nil
}

// Bool returns the boolean payload, false for other tags.
func (v Value) Bool() bool { return v.tag == TagBool && v.bits != 0 }

// Number returns numeric tags as float64 and 0 otherwise.
func (v Value) Number() float64 {
	switch v.tag {
	case TagInt32, TagInt64:
		return float64(int64(v.bits))
	case TagUInt32, TagUInt64:
		return float64(v.bits)
	case TagDouble:
		return math.Float64frombits(v.bits)
	case TagNaN:
		return math.NaN()
	}
	return 0
}

// Int64 returns the integer form when v is integral and fits in int64, and
// 0 otherwise.
func (v Value) Int64() int64 {
	switch v.tag {
	case TagInt32, TagInt64:
		return int64(v.bits)
	case TagUInt32:
		return int64(v.bits)
	case TagUInt64:
		if v.bits > math.MaxInt64 {
			return 0
		}
		return int64(v.bits)
	case TagDouble:
		if f, ok := int64Representable(math.Float64frombits(v.bits)); ok {
			return f
		}
	}
	return 0
}

// Int32 truncates Int64 to 32 bits.
func (v Value) Int32() int32 { return int32(v.Int64()) }

// UInt32 returns the unsigned payload or a non-negative Int64 truncated.
func (v Value) UInt32() uint32 {
	if v.tag == TagUInt32 || v.tag == TagUInt64 {
		return uint32(v.bits)
	}
	return uint32(v.Int64())
}

// UInt64 returns the unsigned payload or a non-negative Int64.
func (v Value) UInt64() uint64 {
	if v.tag == TagUInt32 || v.tag == TagUInt64 {
		return v.bits
	}
	if i := v.Int64(); i > 0 {
		return uint64(i)
	}
	return 0
}

func int64Representable(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// StdString returns the string payload, or "" when v is not a string.
func (v Value) StdString() string {
	if v.tag == TagString {
		return v.str
	}
	return ""
}

// Array returns the native array, or nil.
func (v Value) Array() *Array {
	a, _ := v.ref.(*Array)
	return a
}

// Table returns the native table, or nil.
func (v Value) Table() *Table {
	t, _ := v.ref.(*Table)
	return t
}

// ByteArray returns the byte array, or nil.
func (v Value) ByteArray() *ByteArray {
	b, _ := v.ref.(*ByteArray)
	return b
}

// JSObject returns the foreign object proxy, or nil.
func (v Value) JSObject() *JSObject {
	o, _ := v.ref.(*JSObject)
	return o
}

// RefObject returns the user object, or nil.
func (v Value) RefObject() *RefObject {
	o, _ := v.ref.(*RefObject)
	return o
}

// Closure returns the legacy closure, or nil.
func (v Value) Closure() *Closure {
	c, _ := v.ref.(*Closure)
	return c
}

// CDate returns the legacy date, or nil.
func (v Value) CDate() *CDate {
	d, _ := v.ref.(*CDate)
	return d
}

// RegExp returns the legacy regular expression, or nil.
func (v Value) RegExp() *RegExp {
	r, _ := v.ref.(*RegExp)
	return r
}

// RefCounted returns the container payload of any refcounted tag.
func (v Value) RefCounted() RefCounted { return v.ref }

// CPointer returns the raw pointer payload.
func (v Value) CPointer() unsafe.Pointer {
	if v.tag == TagCPointer {
		return v.ptr
	}
	return nil
}

// CFunction returns the host function payload.
func (v Value) CFunction() *CFunction {
	if v.tag == TagCFunction {
		return v.fn
	}
	return nil
}

// JSValue returns the engine payload. It is borrowed: it stays valid while v
// is live and the context is open.
func (v Value) JSValue() goja.Value {
	if v.tag == TagPrimJsValue {
		return v.js
	}
	return nil
}

// Cell returns the context cell of an engine value.
func (v Value) Cell() *ContextCell { return v.cell }

// MarkConst locks the container payload. Scalars are trivially const; engine
// values cannot be locked.
func (v Value) MarkConst() bool {
	switch {
	case v.ref != nil:
		return v.ref.MarkConst()
	case v.tag == TagPrimJsValue:
		return false
	}
	return true
}

// IsConst reports whether the container payload is locked.
func (v Value) IsConst() bool {
	return v.ref != nil && v.ref.IsConst()
}

func (v *Value) SetNil()                      { v.Free() }
func (v *Value) SetUndefined()                { v.Free(); v.tag = TagUndefined }
func (v *Value) SetNaN()                      { v.Free(); v.tag = TagNaN }
func (v *Value) SetBool(b bool)               { v.Free(); *v = NewBool(b) }
func (v *Value) SetInt32(i int32)             { v.Free(); *v = NewInt32(i) }
func (v *Value) SetInt64(i int64)             { v.Free(); *v = NewInt64(i) }
func (v *Value) SetUInt32(i uint32)           { v.Free(); *v = NewUInt32(i) }
func (v *Value) SetUInt64(i uint64)           { v.Free(); *v = NewUInt64(i) }
func (v *Value) SetDouble(f float64)          { v.Free(); *v = NewDouble(f) }
func (v *Value) SetString(s string)           { v.Free(); *v = NewString(s) }
func (v *Value) SetCPointer(p unsafe.Pointer) { v.Free(); *v = NewCPointer(p) }
func (v *Value) SetCFunction(fn *CFunction)   { v.Free(); *v = NewCFunction(fn) }

// SetArray adopts a reference on a.
func (v *Value) SetArray(a *Array) { v.replace(NewArrayValue(a)) }

// SetTable adopts a reference on t.
func (v *Value) SetTable(t *Table) { v.replace(NewTableValue(t)) }

// SetByteArray adopts a reference on b.
func (v *Value) SetByteArray(b *ByteArray) { v.replace(NewByteArrayValue(b)) }

// SetJSObject adopts a reference on o.
func (v *Value) SetJSObject(o *JSObject) { v.replace(NewJSObjectValue(o)) }

// SetRefCounted adopts a reference on r.
func (v *Value) SetRefCounted(r RefCounted) { v.replace(FromRef(r)) }

// replace installs n after releasing the old payload. n is adopted, so a
// container that is also the current payload must carry its own reference.
func (v *Value) replace(n Value) {
	v.Free()
	*v = n
}
