package lynxvalue

import (
	"io"
	"math"
	"strconv"
	"strings"
	"unsafe"

	"fortio.org/safecast"
	"github.com/dop251/goja"

	"github.com/lynx-family/lepusng/lepus"
)

func engineObject(v lepus.Value) (*goja.Object, *goja.Runtime) {
	if !v.IsJSValue() {
		return nil, nil
	}
	o, ok := v.JSValue().(*goja.Object)
	if !ok {
		return nil, nil
	}
	vm := v.Cell().VM()
	if vm == nil {
		return nil, nil
	}
	return o, vm
}

func int64Double(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (s *state) typeof(v lepus.Value) (Type, Status) {
	switch v.Type() {
	case lepus.TagNil:
		return TypeNull, StatusOK
	case lepus.TagUndefined:
		return TypeUndefined, StatusOK
	case lepus.TagBool:
		return TypeBool, StatusOK
	case lepus.TagInt32:
		return TypeInt32, StatusOK
	case lepus.TagInt64:
		return TypeInt64, StatusOK
	case lepus.TagUInt32:
		return TypeUInt32, StatusOK
	case lepus.TagUInt64:
		return TypeUInt64, StatusOK
	case lepus.TagDouble:
		if _, ok := int64Double(v.Number()); ok {
			return TypeInt64, StatusOK
		}
		return TypeDouble, StatusOK
	case lepus.TagNaN:
		return TypeDouble, StatusOK
	case lepus.TagString:
		return TypeString, StatusOK
	case lepus.TagCPointer:
		return TypeExternal, StatusOK
	case lepus.TagCFunction, lepus.TagClosure:
		return TypeFunction, StatusOK
	case lepus.TagArray:
		return TypeArray, StatusOK
	case lepus.TagTable:
		return TypeMap, StatusOK
	case lepus.TagByteArray:
		return TypeArrayBuffer, StatusOK
	case lepus.TagJSObject, lepus.TagRefCounted, lepus.TagCDate, lepus.TagRegExp:
		return TypeObject, StatusOK
	case lepus.TagPrimJsValue:
		o, _ := engineObject(v)
		switch {
		case o == nil:
		case v.IsJSFunction():
			return TypeFunction, StatusOK
		case v.IsJSArray():
			return TypeArray, StatusOK
		case isJSArrayBuffer(v):
			return TypeArrayBuffer, StatusOK
		default:
			return TypeMap, StatusOK
		}
	}
	log.Warning("unknown value type", "tag", v.Type().String())
	return TypeNull, StatusOK
}

func (s *state) getBool(v lepus.Value) (bool, Status) {
	if !v.IsBool() {
		return false, StatusBoolExpected
	}
	return v.Bool(), StatusOK
}

func (s *state) getDouble(v lepus.Value) (float64, Status) {
	switch v.Type() {
	case lepus.TagDouble, lepus.TagNaN:
		return v.Number(), StatusOK
	}
	return 0, StatusDoubleExpected
}

func (s *state) getInt32(v lepus.Value) (int32, Status) {
	if v.Type() != lepus.TagInt32 {
		return 0, StatusInt32Expected
	}
	return v.Int32(), StatusOK
}

// getInt64 accepts Int64 values and doubles holding an integer. Int32
// values report StatusInt64Expected; Typeof tells callers which getter
// applies.
func (s *state) getInt64(v lepus.Value) (int64, Status) {
	switch v.Type() {
	case lepus.TagInt64:
		return v.Int64(), StatusOK
	case lepus.TagDouble:
		if i, ok := int64Double(v.Number()); ok {
			return i, StatusOK
		}
	}
	return 0, StatusInt64Expected
}

// getNumber applies script number conversion.
func (s *state) getNumber(v lepus.Value) (float64, Status) {
	if v.IsNumber() {
		return v.Number(), StatusOK
	}
	qc := s.qc
	if qc.Closed() {
		return 0, StatusInvalidArg
	}
	js := v.ToJSValue(qc, false)
	var f float64
	if ex := qc.VM().Try(func() { f = js.ToFloat() }); ex != nil {
		return 0, StatusInvalidArg
	}
	return f, StatusOK
}

func (s *state) getExternal(v lepus.Value) (unsafe.Pointer, Status) {
	if !v.IsCPointer() {
		return nil, StatusExternalExpected
	}
	return v.CPointer(), StatusOK
}

// getStringUTF8 copies the string into buf and returns the number of bytes
// copied. With a nil buf it returns the full length.
func (s *state) getStringUTF8(v lepus.Value, buf []byte) (int, Status) {
	if !v.IsString() {
		return 0, StatusStringExpected
	}
	str := v.StdString()
	if buf == nil {
		return len(str), StatusOK
	}
	return copy(buf, str), StatusOK
}

func (s *state) isArray(v lepus.Value) (bool, Status) {
	return v.IsArray(), StatusOK
}

func (s *state) getArrayLength(v lepus.Value) (uint32, Status) {
	if !v.IsArray() {
		return 0, StatusArrayExpected
	}
	if a := v.Array(); a != nil {
		n, err := safecast.Conv[uint32](a.Size())
		if err != nil {
			return 0, StatusFailed
		}
		return n, StatusOK
	}
	l := v.GetProperty("length")
	defer l.Free()
	n, err := safecast.Conv[uint32](l.Int64())
	if err != nil {
		return 0, StatusFailed
	}
	return n, StatusOK
}

// pin keeps the engine payload of v reachable for the duration of fn.
func (s *state) pin(v lepus.Value, fn func() bool) bool {
	if rt := s.qc.Runtime(); rt != nil && !s.qc.Closed() {
		scope := rt.OpenHandleScope()
		defer scope.Close()
		scope.PushValue(v)
	}
	return fn()
}

func (s *state) setElement(obj lepus.Value, idx uint32, v lepus.Value) Status {
	i, err := safecast.Conv[int](idx)
	if err != nil {
		return StatusInvalidArg
	}
	if !s.pin(v, func() bool { return obj.SetPropertyAt(i, v) }) {
		return StatusFailed
	}
	return StatusOK
}

func (s *state) hasElement(obj lepus.Value, idx uint32) (bool, Status) {
	e, st := s.getElement(obj, idx)
	defer e.Free()
	if st != StatusOK {
		return false, st
	}
	return !e.IsUndefined(), StatusOK
}

func (s *state) getElement(obj lepus.Value, idx uint32) (lepus.Value, Status) {
	i, err := safecast.Conv[int](idx)
	if err != nil {
		return lepus.Undefined(), StatusInvalidArg
	}
	return obj.GetPropertyAt(i), StatusOK
}

// deleteElement leaves a hole: the slot reads as undefined afterwards and
// the length is unchanged.
func (s *state) deleteElement(obj lepus.Value, idx uint32) (bool, Status) {
	i, err := safecast.Conv[int](idx)
	if err != nil {
		return false, StatusInvalidArg
	}
	if a := obj.Array(); a != nil {
		if i >= a.Size() {
			return true, StatusOK
		}
		if a.Set(i, lepus.Undefined()) != nil {
			return false, StatusFailed
		}
		return true, StatusOK
	}
	if !engineDelete(obj, strconv.Itoa(i)) {
		return false, StatusFailed
	}
	return true, StatusOK
}

func engineDelete(obj lepus.Value, key string) bool {
	o, vm := engineObject(obj)
	if o == nil {
		return false
	}
	var err error
	if ex := vm.Try(func() { err = o.Delete(key) }); ex != nil {
		return false
	}
	return err == nil
}

func (s *state) isMap(v lepus.Value) (bool, Status) {
	if v.Type() == lepus.TagTable {
		return true, StatusOK
	}
	o, _ := engineObject(v)
	return o != nil, StatusOK
}

func (s *state) setNamedProperty(obj lepus.Value, name string, v lepus.Value) Status {
	if !s.pin(v, func() bool { return lepus.SetPropertyToTableOrArray(obj, name, v) }) {
		return StatusFailed
	}
	return StatusOK
}

func (s *state) hasNamedProperty(obj lepus.Value, name string) (bool, Status) {
	if t := obj.Table(); t != nil {
		return t.Contains(name), StatusOK
	}
	if a := obj.Array(); a != nil {
		if name == "length" {
			return true, StatusOK
		}
		i, err := strconv.Atoi(name)
		return err == nil && i >= 0 && i < a.Size(), StatusOK
	}
	o, vm := engineObject(obj)
	if o == nil {
		return false, StatusOK
	}
	var found bool
	if ex := vm.Try(func() { found = o.Get(name) != nil }); ex != nil {
		return false, StatusFailed
	}
	return found, StatusOK
}

func (s *state) getNamedProperty(obj lepus.Value, name string) (lepus.Value, Status) {
	if obj.IsArray() && name == "length" {
		n, st := s.getArrayLength(obj)
		return lepus.NewUInt32(n), st
	}
	return lepus.GetPropertyFromTableOrArray(obj, name), StatusOK
}

func (s *state) deleteNamedProperty(obj lepus.Value, name string) Status {
	if t := obj.Table(); t != nil {
		if _, err := t.EraseKey(name); err != nil {
			return StatusFailed
		}
		return StatusOK
	}
	if !engineDelete(obj, name) {
		return StatusFailed
	}
	return StatusOK
}

// iterateValue calls fn for every own entry of a table, array or engine
// object. Array keys are Int32 indices. Both arguments are borrowed for
// the duration of the call.
func (s *state) iterateValue(obj lepus.Value, fn func(key, val lepus.Value)) Status {
	switch {
	case obj.Table() != nil:
		for k, v := range obj.Table().All() {
			fn(lepus.NewString(k), v)
		}
		return StatusOK
	case obj.Array() != nil:
		for i, v := range obj.Array().All() {
			idx, err := safecast.Conv[int32](i)
			if err != nil {
				return StatusFailed
			}
			fn(lepus.NewInt32(idx), v)
		}
		return StatusOK
	}
	o, vm := engineObject(obj)
	if o == nil {
		return StatusInvalidArg
	}
	if obj.IsJSArray() {
		n, st := s.getArrayLength(obj)
		if st != StatusOK {
			return st
		}
		for i := range n {
			e, _ := s.getElement(obj, i)
			fn(lepus.NewInt32(int32(i)), e)
			e.Free()
		}
		return StatusOK
	}
	var keys []string
	if ex := vm.Try(func() { keys = o.Keys() }); ex != nil {
		return StatusFailed
	}
	for _, k := range keys {
		e := obj.GetProperty(k)
		fn(lepus.NewString(k), e)
		e.Free()
	}
	return StatusOK
}

func isJSArrayBuffer(v lepus.Value) bool {
	_, ok := v.JSArrayBuffer()
	return ok
}

func (s *state) isArrayBuffer(v lepus.Value) (bool, Status) {
	return v.IsByteArray() || isJSArrayBuffer(v), StatusOK
}

// getArrayBufferInfo returns the backing bytes. The slice aliases the
// buffer and is valid while v is.
func (s *state) getArrayBufferInfo(v lepus.Value) ([]byte, Status) {
	if b := v.ByteArray(); b != nil {
		return b.Bytes(), StatusOK
	}
	if data, ok := v.JSArrayBuffer(); ok {
		return data, StatusOK
	}
	return nil, StatusFailed
}

func (s *state) equals(a, b lepus.Value) (bool, Status) {
	return a.Equal(b), StatusOK
}

func (s *state) deepCopyValue(v lepus.Value) (lepus.Value, Status) {
	return v.Clone(), StatusOK
}

// createReference keeps a second owner of v until the reference is
// deleted: a persistent handle in GC mode, a dup in manual mode.
func (s *state) createReference(v lepus.Value, _ uint32) (Ref, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newRefLocked(v.Copy()), StatusOK
}

func (s *state) newRefLocked(v lepus.Value) Ref {
	s.nextRef++
	held := v
	s.refs[s.nextRef] = &held
	return s.nextRef
}

func (s *state) deleteReference(ref Ref) Status {
	s.mu.Lock()
	held, ok := s.refs[ref]
	delete(s.refs, ref)
	s.mu.Unlock()
	if !ok {
		return StatusInvalidArg
	}
	held.Free()
	return StatusOK
}

// moveReference makes dst hold what srcRef held, or a copy of src when
// srcRef is zero. dst is created when zero. srcRef stays valid and holds
// nothing afterwards.
func (s *state) moveReference(src lepus.Value, srcRef, dst Ref) (Ref, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved lepus.Value
	if !srcRef.IsNull() {
		from, ok := s.refs[srcRef]
		if !ok {
			return 0, StatusInvalidArg
		}
		moved = from.Move()
	} else {
		moved = src.Copy()
	}
	if dst.IsNull() {
		return s.newRefLocked(moved), StatusOK
	}
	to, ok := s.refs[dst]
	if !ok {
		moved.Free()
		return 0, StatusInvalidArg
	}
	to.Free()
	*to = moved
	return dst, StatusOK
}

func (s *state) getReferenceValue(ref Ref) (lepus.Value, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.refs[ref]
	if !ok {
		return lepus.Undefined(), StatusInvalidArg
	}
	return held.Copy(), StatusOK
}

func (s *state) getLength(v lepus.Value) (uint32, Status) {
	n := 0
	switch {
	case v.Array() != nil:
		n = v.Array().Size()
	case v.Table() != nil:
		n = v.Table().Size()
	case v.IsJSValue():
		l := v.GetProperty("length")
		n = int(l.Int64())
		l.Free()
	}
	out, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, StatusFailed
	}
	return out, StatusOK
}

func (s *state) hasStringRef(v lepus.Value) (bool, Status) {
	if !v.IsString() {
		return false, StatusStringExpected
	}
	return true, StatusOK
}

func (s *state) getStringRef(v lepus.Value) (string, Status) {
	if !v.IsString() {
		return "", StatusStringExpected
	}
	return v.StdString(), StatusOK
}

func (s *state) toStringUTF8(v lepus.Value) (string, Status) {
	if v.IsString() {
		return v.StdString(), StatusOK
	}
	return v.ToString(), StatusOK
}

func (s *state) print(v lepus.Value, w io.Writer) Status {
	n := v.ToLepusValue(lepus.CopyNone)
	defer n.Free()
	var b strings.Builder
	n.PrintValue(&b)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return StatusFailed
	}
	return StatusOK
}

func (s *state) isRefCountedObject(v lepus.Value) (bool, Status) {
	return v.RefCounted() != nil, StatusOK
}
