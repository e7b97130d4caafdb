package lepus

import (
	"sync"
	"time"
	"weak"

	"github.com/dop251/goja"
)

// ByteArray is an owned byte buffer passed to scripts by reference.
type ByteArray struct {
	refBase
	data []byte
}

// NewByteArray adopts data and returns a ByteArray holding one reference.
func NewByteArray(data []byte) *ByteArray {
	b := &ByteArray{data: data}
	b.init(func() { b.data = nil })
	return b
}

// RefType implements RefCounted.
func (b *ByteArray) RefType() RefType { return RefTypeByteArray }

// MarkConst implements RefCounted.
func (b *ByteArray) MarkConst() bool {
	b.setConst()
	return true
}

// Bytes returns the underlying buffer.
func (b *ByteArray) Bytes() []byte { return b.data }

// Len returns the buffer length.
func (b *ByteArray) Len() int { return len(b.data) }

// JSObject refers to an object living in a foreign script runtime by id.
// The engine round-trips it without materializing it.
type JSObject struct {
	refBase
	id int64
}

// NewJSObject returns a proxy for the foreign object id. onRelease, if not
// nil, runs when the last reference is dropped.
func NewJSObject(id int64, onRelease func(id int64)) *JSObject {
	o := &JSObject{id: id}
	o.init(func() {
		if onRelease != nil {
			onRelease(id)
		}
	})
	return o
}

// RefType implements RefCounted.
func (o *JSObject) RefType() RefType { return RefTypeJSObject }

// MarkConst implements RefCounted.
func (o *JSObject) MarkConst() bool {
	o.setConst()
	return true
}

// ID returns the foreign object id.
func (o *JSObject) ID() int64 { return o.id }

// ClassID selects the method table the engine uses for a RefObject.
type ClassID int32

// RefObject is the base for user-provided host objects.
//
// A RefObject may cache the script object materialized for it by a context,
// so repeated conversions return the same object.
type RefObject struct {
	refBase
	classID ClassID
	// Payload is owned by the embedder.
	Payload any

	mu    sync.Mutex
	cache map[*ContextCell]weak.Pointer[goja.Object]
}

// NewRefObject returns a host object of the given class. onRelease, if not
// nil, runs when the last reference is dropped.
func NewRefObject(classID ClassID, payload any, onRelease func(*RefObject)) *RefObject {
	o := &RefObject{classID: classID, Payload: payload}
	o.init(func() {
		o.mu.Lock()
		o.cache = nil
		o.mu.Unlock()
		if onRelease != nil {
			onRelease(o)
		}
	})
	return o
}

// RefType implements RefCounted.
func (o *RefObject) RefType() RefType { return RefTypeRefCounted }

// MarkConst implements RefCounted.
func (o *RefObject) MarkConst() bool {
	o.setConst()
	return true
}

// ClassID returns the class the object was created with.
func (o *RefObject) ClassID() ClassID { return o.classID }

func (o *RefObject) cachedObject(cell *ContextCell) *goja.Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wp, ok := o.cache[cell]; ok {
		if obj := wp.Value(); obj != nil {
			return obj
		}
		delete(o.cache, cell)
	}
	return nil
}

func (o *RefObject) setCachedObject(cell *ContextCell, obj *goja.Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		o.cache = make(map[*ContextCell]weak.Pointer[goja.Object])
	}
	o.cache[cell] = weak.Make(obj)
}

func (o *RefObject) dropCachedObject(cell *ContextCell) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, cell)
}

// Closure is a function object of the legacy bytecode VM. The LepusNG
// runtime only carries it through.
type Closure struct {
	refBase
	Name string
	Fn   any
}

// NewClosure returns a legacy closure holding one reference.
func NewClosure(name string, fn any) *Closure {
	c := &Closure{Name: name, Fn: fn}
	c.init(nil)
	return c
}

// RefType implements RefCounted.
func (c *Closure) RefType() RefType { return RefTypeClosure }

// MarkConst implements RefCounted. Closures cannot be locked.
func (c *Closure) MarkConst() bool { return false }

// CDate is a legacy VM date value.
type CDate struct {
	refBase
	t time.Time
}

// NewCDate returns a date holding one reference.
func NewCDate(t time.Time) *CDate {
	d := &CDate{t: t}
	d.init(nil)
	return d
}

// RefType implements RefCounted.
func (d *CDate) RefType() RefType { return RefTypeCDate }

// MarkConst implements RefCounted.
func (d *CDate) MarkConst() bool {
	d.setConst()
	return true
}

// Time returns the date instant.
func (d *CDate) Time() time.Time { return d.t }

// RegExp is a legacy VM regular expression value.
type RegExp struct {
	refBase
	pattern string
	flags   string
}

// NewRegExp returns a regular expression holding one reference.
func NewRegExp(pattern, flags string) *RegExp {
	r := &RegExp{pattern: pattern, flags: flags}
	r.init(nil)
	return r
}

// RefType implements RefCounted.
func (r *RegExp) RefType() RefType { return RefTypeRegExp }

// MarkConst implements RefCounted.
func (r *RegExp) MarkConst() bool {
	r.setConst()
	return true
}

// Pattern returns the source pattern.
func (r *RegExp) Pattern() string { return r.pattern }

// Flags returns the flag string.
func (r *RegExp) Flags() string { return r.flags }
