package lepus

import (
	"math"
	"slices"

	"github.com/dop251/goja"
)

// maxSafeArrayLength bounds the length a LepusRef array may grow to.
var maxSafeArrayLength int64 = maxSafeInteger

type arrayShim struct {
	name string
	fn   func(qc *QuickContext, a *refArray, this goja.Value, args []goja.Value) goja.Value
}

var arrayShims = []arrayShim{
	{"push", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.arrayPush(a, args, false)
	}},
	{"unshift", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.arrayPush(a, args, true)
	}},
	{"pop", func(qc *QuickContext, a *refArray, _ goja.Value, _ []goja.Value) goja.Value {
		return qc.arrayPop(a, false)
	}},
	{"shift", func(qc *QuickContext, a *refArray, _ goja.Value, _ []goja.Value) goja.Value {
		return qc.arrayPop(a, true)
	}},
	{"slice", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.arraySlice(a, args)
	}},
	{"splice", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.arraySplice(a, args)
	}},
	{"reverse", func(qc *QuickContext, a *refArray, this goja.Value, _ []goja.Value) goja.Value {
		return qc.arrayReverse(a, this)
	}},
	{"indexOf", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.vm.ToValue(qc.arrayFind(a, args, 1, strictEquals))
	}},
	{"lastIndexOf", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.vm.ToValue(qc.arrayFind(a, args, -1, strictEquals))
	}},
	{"includes", func(qc *QuickContext, a *refArray, _ goja.Value, args []goja.Value) goja.Value {
		return qc.vm.ToValue(qc.arrayFind(a, args, 1, sameValueZero) >= 0)
	}},
}

// installArrayShims builds the prototype of LepusRef arrays. It inherits
// Array.prototype and overrides the mutating and search methods with
// versions working directly on the native array. Receivers that are not
// LepusRef arrays fall back to the standard methods.
func (qc *QuickContext) installArrayShims() {
	vm := qc.vm
	arrayProto := vm.Get("Array").ToObject(vm).Get("prototype").ToObject(vm)
	proto := vm.CreateObject(arrayProto)
	for _, s := range arrayShims {
		orig, _ := goja.AssertFunction(arrayProto.Get(s.name))
		fn := s.fn
		proto.DefineDataProperty(s.name, vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if o, ok := call.This.(*goja.Object); ok && o.ExportType() == refArrayType {
				return fn(qc, o.Export().(*refArray), call.This, call.Arguments)
			}
			ret, err := orig(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			return ret
		}), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	qc.refArrayProto = proto
}

// constArrayOp reports a mutating method called on a const array.
func (qc *QuickContext) constArrayOp(method string) {
	msg := "The array is const of Array.prototype." + method + " in LepusNG\n"
	qc.ReportError(msg, ErrorCodeMTSRuntime, LevelError)
	if qc.opts.ThrowOnConstWrite {
		panic(qc.vm.NewTypeError("%s", msg))
	}
}

func (qc *QuickContext) arrayPush(a *refArray, args []goja.Value, unshift bool) goja.Value {
	arr := a.arr
	if arr.IsConst() {
		if unshift {
			qc.constArrayOp("unshift")
		} else {
			qc.constArrayOp("push")
		}
		return qc.vm.ToValue(int64(arr.Size()))
	}
	newLen := int64(arr.Size()) + int64(len(args))
	if len(args) == 0 {
		return qc.vm.ToValue(newLen)
	}
	if newLen > maxSafeArrayLength {
		panic(qc.vm.NewTypeError("Array.push: array is too long"))
	}
	vals := qc.argsFromJS(args)
	if unshift {
		arr.Insert(0, vals...)
	} else {
		for _, v := range vals {
			arr.PushBack(v)
		}
	}
	return qc.vm.ToValue(newLen)
}

func (qc *QuickContext) arrayPop(a *refArray, shift bool) goja.Value {
	arr := a.arr
	if arr.IsConst() {
		if shift {
			qc.constArrayOp("shift")
		} else {
			qc.constArrayOp("pop")
		}
		return goja.Undefined()
	}
	n := arr.Size()
	if n == 0 {
		return goja.Undefined()
	}
	if shift {
		res := arr.Get(0).ToJSValue(qc, false)
		arr.Erase(0)
		return res
	}
	res := arr.Get(n-1).ToJSValue(qc, false)
	arr.PopBack()
	return res
}

// relativeIndex resolves a start/end argument against length the way the
// standard array methods do.
func relativeIndex(v goja.Value, length, def int64) int64 {
	if v == nil || goja.IsUndefined(v) {
		return def
	}
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0
	}
	if math.IsInf(f, -1) {
		return 0
	}
	if math.IsInf(f, 1) {
		return length
	}
	i := int64(f)
	if i < 0 {
		return max(length+i, 0)
	}
	return min(i, length)
}

func arg(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}

func (qc *QuickContext) arraySlice(a *refArray, args []goja.Value) goja.Value {
	arr := a.arr
	n := int64(arr.Size())
	start := relativeIndex(arg(args, 0), n, 0)
	end := relativeIndex(arg(args, 1), n, n)
	items := make([]any, 0, max(end-start, 0))
	for k := start; k < end; k++ {
		items = append(items, arr.Get(int(k)).ToJSValue(qc, false))
	}
	return qc.vm.NewArray(items...)
}

func (qc *QuickContext) arraySplice(a *refArray, args []goja.Value) goja.Value {
	arr := a.arr
	if arr.IsConst() {
		qc.constArrayOp("splice")
		return qc.vm.NewArray()
	}
	n := int64(arr.Size())
	start := relativeIndex(arg(args, 0), n, 0)
	var count int64
	switch {
	case len(args) == 0:
		count = 0
	case len(args) == 1:
		count = n - start
	default:
		f := args[1].ToFloat()
		if math.IsNaN(f) || f < 0 {
			f = 0
		}
		count = int64(min(f, float64(n-start)))
	}
	var inserts []goja.Value
	if len(args) > 2 {
		inserts = args[2:]
	}
	if n-count+int64(len(inserts)) > maxSafeArrayLength {
		panic(qc.vm.NewTypeError("Array.splice: array is too long"))
	}
	removed := make([]any, 0, count)
	for k := start; k < start+count; k++ {
		removed = append(removed, arr.Get(int(k)).ToJSValue(qc, false))
	}
	arr.EraseRange(int(start), int(count))
	arr.Insert(int(start), qc.argsFromJS(inserts)...)
	return qc.vm.NewArray(removed...)
}

func (qc *QuickContext) arrayReverse(a *refArray, this goja.Value) goja.Value {
	if a.arr.IsConst() {
		qc.constArrayOp("reverse")
		return this
	}
	slices.Reverse(a.arr.vec)
	return this
}

func strictEquals(a, b goja.Value) bool { return a.StrictEquals(b) }

func sameValueZero(a, b goja.Value) bool {
	if goja.IsNaN(a) && goja.IsNaN(b) {
		return true
	}
	return a.StrictEquals(b)
}

// arrayFind returns the index of the first element matching args[0] in
// direction dir, starting at args[1], or -1.
func (qc *QuickContext) arrayFind(a *refArray, args []goja.Value, dir int, eq func(a, b goja.Value) bool) int64 {
	arr := a.arr
	n := int64(arr.Size())
	if n == 0 {
		return -1
	}
	target := arg(args, 0)
	var from int64
	if dir > 0 {
		from = 0
		if len(args) > 1 {
			from = relativeIndex(args[1], n, 0)
		}
		for ; from < n; from++ {
			if eq(arr.Get(int(from)).ToJSValue(qc, false), target) {
				return from
			}
		}
		return -1
	}
	from = n - 1
	if len(args) > 1 {
		f := args[1].ToFloat()
		switch {
		case math.IsNaN(f):
			from = 0
		case f < 0:
			from = n + int64(math.Max(f, float64(-n-1)))
		default:
			from = min(int64(math.Min(f, float64(n))), n-1)
		}
	}
	for ; from >= 0; from-- {
		if eq(arr.Get(int(from)).ToJSValue(qc, false), target) {
			return from
		}
	}
	return -1
}
