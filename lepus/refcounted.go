// Package lepus implements the LepusNG value and context core: native
// refcounted containers, the unified Value type, the bridge that exposes
// native containers to the script engine, and the QuickContext wrapper
// around a goja runtime.
package lepus

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrConstWrite is returned by every mutating container operation once the
// container has been marked const.
var ErrConstWrite = errors.New("lepus: write to const container")

// RefType identifies the concrete kind of a RefCounted object.
type RefType int32

const (
	RefTypeArray RefType = iota + 1
	RefTypeTable
	RefTypeByteArray
	RefTypeJSObject
	RefTypeRefCounted
	RefTypeClosure
	RefTypeCDate
	RefTypeRegExp
)

func (t RefType) String() string {
	switch t {
	case RefTypeArray:
		return "Array"
	case RefTypeTable:
		return "Table"
	case RefTypeByteArray:
		return "ByteArray"
	case RefTypeJSObject:
		return "JSObject"
	case RefTypeRefCounted:
		return "RefCounted"
	case RefTypeClosure:
		return "Closure"
	case RefTypeCDate:
		return "CDate"
	case RefTypeRegExp:
		return "RegExp"
	default:
		return fmt.Sprintf("RefType(%d)", int32(t))
	}
}

// RefCounted is shared ownership over a native object referenced by Values.
//
// AddRef and Release are safe from any goroutine. The payload itself is not
// synchronized: a container must be marked const before it is shared.
type RefCounted interface {
	AddRef()
	Release()
	RefCount() int32
	RefType() RefType
	IsConst() bool
	// MarkConst locks the object against mutation. It reports false when the
	// object holds something that cannot be locked.
	MarkConst() bool
}

// refBase carries the count and const bit shared by every container.
// New objects start with one reference owned by the creator.
type refBase struct {
	count    atomic.Int32
	constant atomic.Bool
	released atomic.Bool
	// releaseSelf runs exactly once when the count drops to zero.
	releaseSelf func()
}

func (b *refBase) init(releaseSelf func()) {
	b.count.Store(1)
	b.releaseSelf = releaseSelf
}

// AddRef increments the reference count.
func (b *refBase) AddRef() {
	b.count.Add(1)
}

// Release decrements the reference count and releases the payload when it
// reaches zero.
func (b *refBase) Release() {
	n := b.count.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("lepus: refcount underflow")
	}
	if b.released.CompareAndSwap(false, true) && b.releaseSelf != nil {
		b.releaseSelf()
	}
}

// RefCount returns the current reference count.
func (b *refBase) RefCount() int32 {
	return b.count.Load()
}

// IsConst reports whether the object is locked.
func (b *refBase) IsConst() bool {
	return b.constant.Load()
}

// Released reports whether the last reference has been dropped.
func (b *refBase) Released() bool {
	return b.released.Load()
}

func (b *refBase) setConst() {
	b.constant.Store(true)
}
