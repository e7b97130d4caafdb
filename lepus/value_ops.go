package lepus

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

const numberTolerance = 1e-6

// Equal reports structural equality. Numbers compare within a small
// tolerance, NaN equals nothing, and engine values are compared by
// collapsing them to native form first.
func (v Value) Equal(o Value) bool {
	if v.tag == TagPrimJsValue || o.tag == TagPrimJsValue {
		return equalAcross(v, o)
	}
	if v.IsNumber() && o.IsNumber() {
		return numbersEqual(v, o)
	}
	if v.tag != o.tag {
		return false
	}
	switch v.tag {
	case TagNil, TagUndefined:
		return true
	case TagBool:
		return v.bits == o.bits
	case TagString:
		return v.str == o.str
	case TagCPointer:
		return v.ptr == o.ptr
	case TagCFunction:
		return v.fn == o.fn
	case TagArray:
		return v.Array().Equal(o.Array())
	case TagTable:
		return v.Table().Equal(o.Table())
	case TagByteArray:
		a, b := v.ByteArray(), o.ByteArray()
		if a == nil || b == nil {
			return a == b
		}
		return bytes.Equal(a.data, b.data)
	case TagJSObject:
		a, b := v.JSObject(), o.JSObject()
		if a == nil || b == nil {
			return a == b
		}
		return a.ID() == b.ID()
	case TagCDate:
		a, b := v.CDate(), o.CDate()
		if a == nil || b == nil {
			return a == b
		}
		return a.Time().Equal(b.Time())
	case TagRegExp:
		a, b := v.RegExp(), o.RegExp()
		if a == nil || b == nil {
			return a == b
		}
		return a.Pattern() == b.Pattern() && a.Flags() == b.Flags()
	}
	return v.ref == o.ref
}

func isIntegerTag(t Tag) bool {
	return t == TagInt32 || t == TagInt64 || t == TagUInt32 || t == TagUInt64
}

func numbersEqual(a, b Value) bool {
	if a.tag == TagNaN || b.tag == TagNaN {
		return false
	}
	if isIntegerTag(a.tag) && isIntegerTag(b.tag) {
		aNeg := (a.tag == TagInt32 || a.tag == TagInt64) && int64(a.bits) < 0
		bNeg := (b.tag == TagInt32 || b.tag == TagInt64) && int64(b.bits) < 0
		return aNeg == bNeg && a.bits == b.bits
	}
	return math.Abs(a.Number()-b.Number()) < numberTolerance
}

func equalAcross(a, b Value) bool {
	if a.tag == TagPrimJsValue && b.tag == TagPrimJsValue && a.js == b.js {
		return true
	}
	na := a.ToLepusValue(CopyNone)
	defer na.Free()
	nb := b.ToLepusValue(CopyNone)
	defer nb.Free()
	if na.tag == TagPrimJsValue || nb.tag == TagPrimJsValue {
		return na.tag == nb.tag && na.js == nb.js
	}
	return na.Equal(nb)
}

// Clone returns an independent deep copy. Closures, host functions, raw
// pointers and user RefObjects cannot be cloned and yield Nil. Engine values
// are deep-copied inside their context.
func (v Value) Clone() Value {
	switch v.tag {
	case TagArray:
		a := v.Array()
		if a == nil {
			return Value{tag: TagArray}
		}
		n := &Array{vec: make([]Value, 0, len(a.vec))}
		n.init(n.releaseSelf)
		for _, e := range a.vec {
			n.vec = append(n.vec, e.Clone())
		}
		return NewArrayValue(n)
	case TagTable:
		t := v.Table()
		if t == nil {
			return Value{tag: TagTable}
		}
		n := NewTable()
		for i, k := range t.keys {
			n.SetValue(k, t.vals[i].Clone())
		}
		return NewTableValue(n)
	case TagByteArray:
		if b := v.ByteArray(); b != nil {
			return NewByteArrayValue(NewByteArray(bytes.Clone(b.data)))
		}
		return Value{tag: TagByteArray}
	case TagJSObject:
		if o := v.JSObject(); o != nil {
			return NewJSObjectValue(NewJSObject(o.ID(), nil))
		}
		return Value{tag: TagJSObject}
	case TagCDate:
		if d := v.CDate(); d != nil {
			return FromRef(NewCDate(d.Time()))
		}
		return Nil()
	case TagRegExp:
		if r := v.RegExp(); r != nil {
			return FromRef(NewRegExp(r.Pattern(), r.Flags()))
		}
		return Nil()
	case TagClosure, TagCFunction, TagCPointer, TagRefCounted:
		return Nil()
	case TagPrimJsValue:
		return cloneEngineValue(v)
	}
	return v
}

// CloneNative is Clone, except engine values are cloned into native
// containers instead of new engine objects.
func (v Value) CloneNative() Value {
	if v.tag == TagPrimJsValue {
		return v.ToLepusValue(CopyDeepClone)
	}
	return v.Clone()
}

// ShallowCopy copies the first level of an array or table. Elements are
// shared after MarkConst when they can be locked and cloned otherwise.
func (v Value) ShallowCopy() Value {
	switch v.tag {
	case TagArray:
		a := v.Array()
		if a == nil {
			return Value{tag: TagArray}
		}
		n := &Array{vec: make([]Value, 0, len(a.vec))}
		n.init(n.releaseSelf)
		for _, e := range a.vec {
			n.vec = append(n.vec, shareOrClone(e))
		}
		return NewArrayValue(n)
	case TagTable:
		t := v.Table()
		if t == nil {
			return Value{tag: TagTable}
		}
		n := NewTable()
		for i, k := range t.keys {
			n.SetValue(k, shareOrClone(t.vals[i]))
		}
		return NewTableValue(n)
	case TagPrimJsValue:
		return v.ToLepusValue(CopyShallow)
	}
	return v.Copy()
}

func shareOrClone(e Value) Value {
	if e.MarkConst() {
		return e.Copy()
	}
	return e.Clone()
}

// ToString converts v to a string the way scripts would.
func (v Value) ToString() string {
	switch v.tag {
	case TagNil:
		return "null"
	case TagUndefined:
		return "undefined"
	case TagBool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case TagInt32, TagInt64:
		return strconv.FormatInt(int64(v.bits), 10)
	case TagUInt32, TagUInt64:
		return strconv.FormatUint(v.bits, 10)
	case TagDouble:
		return formatNumber(math.Float64frombits(v.bits))
	case TagNaN:
		return "NaN"
	case TagString:
		return v.str
	case TagPrimJsValue:
		return engineString(v)
	}
	if v.ref != nil {
		return refString(v.ref)
	}
	return ""
}

// String implements fmt.Stringer with ToString.
func (v Value) String() string { return v.ToString() }

// refString is the string form scripts observe for a LepusRef.
func refString(r RefCounted) string {
	switch x := r.(type) {
	case *Array:
		parts := make([]string, len(x.vec))
		for i, e := range x.vec {
			if !e.IsEmpty() {
				parts[i] = e.ToString()
			}
		}
		return strings.Join(parts, ",")
	case *Table:
		return "[object Object]"
	case *JSObject:
		return "[object JSObject]"
	case *ByteArray:
		return "[object ByteArray]"
	}
	return ""
}

func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if a := math.Abs(f); a >= 1e-6 && a < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		exp := strings.TrimLeft(s[i+2:], "0")
		s = s[:i+2] + exp
	}
	return s
}

// GetProperty returns an owned copy of the entry under key of a table or
// engine object, or Undefined.
func (v Value) GetProperty(key string) Value {
	switch v.tag {
	case TagTable:
		if t := v.Table(); t != nil {
			return t.GetValue(key).Copy()
		}
	case TagArray:
		if key == "length" && v.Array() != nil {
			return NewInt64(int64(v.Array().Size()))
		}
	case TagPrimJsValue:
		return engineGet(v, key)
	}
	return Undefined()
}

// GetPropertyAt returns an owned copy of element idx of an array or engine
// array, or Undefined.
func (v Value) GetPropertyAt(idx int) Value {
	switch v.tag {
	case TagArray:
		if a := v.Array(); a != nil {
			return a.Get(idx).Copy()
		}
	case TagPrimJsValue:
		if idx >= 0 {
			return engineGet(v, strconv.Itoa(idx))
		}
	}
	return Undefined()
}

// SetProperty stores a copy of val under key. It reports false when v is
// not a table or engine object, or is const.
func (v Value) SetProperty(key string, val Value) bool {
	switch v.tag {
	case TagTable:
		if t := v.Table(); t != nil {
			return t.SetValue(key, val.Copy()) == nil
		}
	case TagPrimJsValue:
		return engineSet(v, key, val)
	}
	return false
}

// SetPropertyAt stores a copy of val at idx, growing a native array with
// Undefined as needed.
func (v Value) SetPropertyAt(idx int, val Value) bool {
	switch v.tag {
	case TagArray:
		if a := v.Array(); a != nil {
			return a.Set(idx, val.Copy()) == nil
		}
	case TagPrimJsValue:
		if idx >= 0 {
			return engineSet(v, strconv.Itoa(idx), val)
		}
	}
	return false
}

// GetPropertyFromTableOrArray indexes tables by key and arrays by the
// decimal index in key. The result is owned.
func GetPropertyFromTableOrArray(target Value, key string) Value {
	if target.IsArray() {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return Undefined()
		}
		return target.GetPropertyAt(idx)
	}
	if target.IsTable() {
		return target.GetProperty(key)
	}
	return Undefined()
}

// SetPropertyToTableOrArray is the write counterpart of
// GetPropertyFromTableOrArray. val is copied.
func SetPropertyToTableOrArray(target Value, key string, val Value) bool {
	if target.IsArray() {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return false
		}
		return target.SetPropertyAt(idx, val)
	}
	if target.IsTable() {
		return target.SetProperty(key, val)
	}
	return false
}

// UpdateValueByPath writes update at path inside target. An empty path
// replaces target. Const containers on the way are replaced by writable
// shallow copies so shared originals are never modified.
func UpdateValueByPath(target *Value, update Value, path []string) bool {
	if len(path) == 0 {
		target.Assign(update)
		return true
	}
	if target.IsConst() {
		target.replace(target.ShallowCopy())
	}
	cur := target.Copy()
	defer func() { cur.Free() }()
	for _, seg := range path[:len(path)-1] {
		next := GetPropertyFromTableOrArray(cur, seg)
		if !next.IsArray() && !next.IsTable() {
			next.Free()
			return false
		}
		if next.IsConst() {
			writable := next.ShallowCopy()
			next.Free()
			next = writable
			if !SetPropertyToTableOrArray(cur, seg, next) {
				next.Free()
				return false
			}
		}
		cur.Free()
		cur = next
	}
	return SetPropertyToTableOrArray(cur, path[len(path)-1], update)
}

// MergeValue applies every entry of update to target, reading each key as
// a value path so "a.b" updates a nested field.
func MergeValue(target *Value, update Value) bool {
	u := update.ToLepusValue(CopyNone)
	defer u.Free()
	t := u.Table()
	if t == nil {
		return false
	}
	ok := true
	for i, k := range t.keys {
		if !UpdateValueByPath(target, t.vals[i], ParseValuePath(k)) {
			ok = false
		}
	}
	return ok
}

// ParseValuePath splits "a.b[0].c" into ["a" "b" "0" "c"].
func ParseValuePath(path string) []string {
	var segs []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.', '[', ']':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segs
}
