// Package lynxvalue presents the value operations of a QuickContext as a
// table of functions, one per operation, so callers that cannot depend on
// the lepus types directly can still inspect and update values. The same
// table is exported to WebAssembly guests by Host.
//
// Values passed in are borrowed. Values returned are owned and must be
// freed by the caller.
package lynxvalue

import (
	"io"
	"sync"
	"unsafe"

	"github.com/tliron/commonlog"

	"github.com/lynx-family/lepusng/lepus"
)

var log = commonlog.GetLogger("lepusng.lynxvalue")

// Env is the operation table attached to one context. Every field is set
// by Attach and cleared by Detach.
type Env struct {
	Typeof func(v lepus.Value) (Type, Status)

	CreateUndefined   func() (lepus.Value, Status)
	CreateNull        func() (lepus.Value, Status)
	CreateBool        func(b bool) (lepus.Value, Status)
	CreateDouble      func(f float64) (lepus.Value, Status)
	CreateInt32       func(i int32) (lepus.Value, Status)
	CreateUInt32      func(i uint32) (lepus.Value, Status)
	CreateInt64       func(i int64) (lepus.Value, Status)
	CreateUInt64      func(i uint64) (lepus.Value, Status)
	CreateString      func(s string) (lepus.Value, Status)
	CreateArray       func() (lepus.Value, Status)
	CreateMap         func() (lepus.Value, Status)
	CreateArrayBuffer func(n int) (lepus.Value, Status)
	CreateFunction    func(name string, fn func(args []lepus.Value) lepus.Value) (lepus.Value, Status)

	GetBool       func(v lepus.Value) (bool, Status)
	GetDouble     func(v lepus.Value) (float64, Status)
	GetInt32      func(v lepus.Value) (int32, Status)
	GetUInt32     func(v lepus.Value) (uint32, Status)
	GetInt64      func(v lepus.Value) (int64, Status)
	GetUInt64     func(v lepus.Value) (uint64, Status)
	GetNumber     func(v lepus.Value) (float64, Status)
	GetExternal   func(v lepus.Value) (unsafe.Pointer, Status)
	GetStringUTF8 func(v lepus.Value, buf []byte) (int, Status)

	IsArray        func(v lepus.Value) (bool, Status)
	GetArrayLength func(v lepus.Value) (uint32, Status)
	SetElement     func(obj lepus.Value, idx uint32, v lepus.Value) Status
	HasElement     func(obj lepus.Value, idx uint32) (bool, Status)
	GetElement     func(obj lepus.Value, idx uint32) (lepus.Value, Status)
	DeleteElement  func(obj lepus.Value, idx uint32) (bool, Status)

	IsMap               func(v lepus.Value) (bool, Status)
	GetPropertyNames    func(obj lepus.Value) (lepus.Value, Status)
	SetNamedProperty    func(obj lepus.Value, name string, v lepus.Value) Status
	HasNamedProperty    func(obj lepus.Value, name string) (bool, Status)
	GetNamedProperty    func(obj lepus.Value, name string) (lepus.Value, Status)
	DeleteNamedProperty func(obj lepus.Value, name string) Status
	IterateValue        func(obj lepus.Value, fn func(key, val lepus.Value)) Status

	IsArrayBuffer      func(v lepus.Value) (bool, Status)
	GetArrayBufferInfo func(v lepus.Value) ([]byte, Status)

	CallFunction    func(recv, fn lepus.Value, args []lepus.Value) (lepus.Value, Status)
	SetInstanceData func(key uint64, data any) Status
	GetInstanceData func(key uint64) (any, Status)

	Equals            func(a, b lepus.Value) (bool, Status)
	CreateReference   func(v lepus.Value, initialRefcount uint32) (Ref, Status)
	DeleteReference   func(ref Ref) Status
	MoveReference     func(src lepus.Value, srcRef, dst Ref) (Ref, Status)
	GetReferenceValue func(ref Ref) (lepus.Value, Status)

	OpenHandleScope  func() (*lepus.HandleScope, Status)
	CloseHandleScope func(scope *lepus.HandleScope) Status
	AddFinalizer     func(v lepus.Value, fn func()) Status

	GetLength          func(v lepus.Value) (uint32, Status)
	DeepCopyValue      func(v lepus.Value) (lepus.Value, Status)
	HasStringRef       func(v lepus.Value) (bool, Status)
	GetStringRef       func(v lepus.Value) (string, Status)
	ToStringUTF8       func(v lepus.Value) (string, Status)
	Print              func(v lepus.Value, w io.Writer) Status
	IsRefCountedObject func(v lepus.Value) (bool, Status)

	state *state
}

// state is the per-context part of an attached Env.
type state struct {
	qc *lepus.QuickContext

	mu      sync.Mutex
	refs    map[Ref]*lepus.Value
	nextRef Ref
}

// Attach installs every operation on a new Env bound to qc and stores the
// Env on the context. The Env is detached when qc closes.
func Attach(qc *lepus.QuickContext) *Env {
	env := &Env{}
	env.install(&state{qc: qc, refs: make(map[Ref]*lepus.Value)})
	qc.SetAPIEnv(env)
	qc.OnClose(func() { Detach(env) })
	log.Debug("attached", "context", qc.ID())
	return env
}

// FromContext returns the Env attached to qc, or nil.
func FromContext(qc *lepus.QuickContext) *Env {
	env, _ := qc.APIEnv().(*Env)
	return env
}

// Detach releases every outstanding reference and clears the table.
// Detaching twice is a no-op.
func Detach(env *Env) {
	s := env.state
	if s == nil {
		return
	}
	s.mu.Lock()
	for id, v := range s.refs {
		v.Free()
		delete(s.refs, id)
	}
	s.mu.Unlock()
	if FromContext(s.qc) == env {
		s.qc.SetAPIEnv(nil)
	}
	*env = Env{}
}

// Attached reports whether env still has its operations installed.
func (env *Env) Attached() bool { return env.state != nil }

func (env *Env) install(s *state) {
	env.state = s

	env.Typeof = s.typeof

	env.CreateUndefined = notSupported0
	env.CreateNull = notSupported0
	env.CreateBool = notSupported1[bool]
	env.CreateDouble = notSupported1[float64]
	env.CreateInt32 = notSupported1[int32]
	env.CreateUInt32 = notSupported1[uint32]
	env.CreateInt64 = notSupported1[int64]
	env.CreateUInt64 = notSupported1[uint64]
	env.CreateString = notSupported1[string]
	env.CreateArray = notSupported0
	env.CreateMap = notSupported0
	env.CreateArrayBuffer = notSupported1[int]
	env.CreateFunction = func(string, func([]lepus.Value) lepus.Value) (lepus.Value, Status) {
		return lepus.Undefined(), StatusNotSupport
	}

	env.GetBool = s.getBool
	env.GetDouble = s.getDouble
	env.GetInt32 = s.getInt32
	env.GetUInt32 = func(lepus.Value) (uint32, Status) { return 0, StatusUInt32Expected }
	env.GetInt64 = s.getInt64
	env.GetUInt64 = func(lepus.Value) (uint64, Status) { return 0, StatusUInt64Expected }
	env.GetNumber = s.getNumber
	env.GetExternal = s.getExternal
	env.GetStringUTF8 = s.getStringUTF8

	env.IsArray = s.isArray
	env.GetArrayLength = s.getArrayLength
	env.SetElement = s.setElement
	env.HasElement = s.hasElement
	env.GetElement = s.getElement
	env.DeleteElement = s.deleteElement

	env.IsMap = s.isMap
	env.GetPropertyNames = func(lepus.Value) (lepus.Value, Status) { return lepus.Undefined(), StatusNotSupport }
	env.SetNamedProperty = s.setNamedProperty
	env.HasNamedProperty = s.hasNamedProperty
	env.GetNamedProperty = s.getNamedProperty
	env.DeleteNamedProperty = s.deleteNamedProperty
	env.IterateValue = s.iterateValue

	env.IsArrayBuffer = s.isArrayBuffer
	env.GetArrayBufferInfo = s.getArrayBufferInfo

	env.CallFunction = func(lepus.Value, lepus.Value, []lepus.Value) (lepus.Value, Status) {
		return lepus.Undefined(), StatusNotSupport
	}
	env.SetInstanceData = func(uint64, any) Status { return StatusNotSupport }
	env.GetInstanceData = func(uint64) (any, Status) { return nil, StatusNotSupport }

	env.Equals = s.equals
	env.CreateReference = s.createReference
	env.DeleteReference = s.deleteReference
	env.MoveReference = s.moveReference
	env.GetReferenceValue = s.getReferenceValue

	env.OpenHandleScope = func() (*lepus.HandleScope, Status) { return nil, StatusNotSupport }
	env.CloseHandleScope = func(*lepus.HandleScope) Status { return StatusNotSupport }
	env.AddFinalizer = func(lepus.Value, func()) Status { return StatusNotSupport }

	env.GetLength = s.getLength
	env.DeepCopyValue = s.deepCopyValue
	env.HasStringRef = s.hasStringRef
	env.GetStringRef = s.getStringRef
	env.ToStringUTF8 = s.toStringUTF8
	env.Print = s.print
	env.IsRefCountedObject = s.isRefCountedObject
}

func notSupported0() (lepus.Value, Status) { return lepus.Undefined(), StatusNotSupport }

func notSupported1[T any](T) (lepus.Value, Status) { return lepus.Undefined(), StatusNotSupport }
