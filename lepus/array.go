package lepus

import (
	"iter"
)

// Array is a dense, ordered vector of Values.
//
// Values handed to Set, PushBack and Insert are adopted by the array; on a
// failed write they are freed. Get returns a borrowed Value.
type Array struct {
	refBase
	vec []Value
}

// NewArray returns an empty array holding one reference.
func NewArray(vals ...Value) *Array {
	a := &Array{vec: vals}
	a.init(a.releaseSelf)
	return a
}

func (a *Array) releaseSelf() {
	vec := a.vec
	a.vec = nil
	for i := range vec {
		vec[i].Free()
	}
}

// RefType implements RefCounted.
func (a *Array) RefType() RefType { return RefTypeArray }

// MarkConst locks the array and every container it holds.
func (a *Array) MarkConst() bool {
	if a.IsConst() {
		return true
	}
	for i := range a.vec {
		if !a.vec[i].MarkConst() {
			return false
		}
	}
	a.setConst()
	return true
}

// Size returns the number of elements.
func (a *Array) Size() int {
	return len(a.vec)
}

// Get returns the element at i, or Undefined when i is out of range.
func (a *Array) Get(i int) Value {
	if i < 0 || i >= len(a.vec) {
		return Undefined()
	}
	return a.vec[i]
}

// Set stores v at i, growing the array with Undefined up to i.
func (a *Array) Set(i int, v Value) error {
	if a.IsConst() {
		v.Free()
		return ErrConstWrite
	}
	if i < 0 {
		v.Free()
		return errIndexOutOfRange(i)
	}
	if i >= len(a.vec) {
		a.grow(i + 1)
	}
	old := a.vec[i]
	a.vec[i] = v
	old.Free()
	return nil
}

// PushBack appends v.
func (a *Array) PushBack(v Value) error {
	if a.IsConst() {
		v.Free()
		return ErrConstWrite
	}
	a.vec = append(a.vec, v)
	return nil
}

// PopBack removes the last element. It is a no-op on an empty array.
func (a *Array) PopBack() error {
	if a.IsConst() {
		return ErrConstWrite
	}
	if n := len(a.vec); n > 0 {
		a.vec[n-1].Free()
		a.vec[n-1] = Value{}
		a.vec = a.vec[:n-1]
	}
	return nil
}

// Erase removes the element at i, shifting the tail down.
func (a *Array) Erase(i int) error {
	return a.EraseRange(i, 1)
}

// EraseRange removes n elements starting at i, clamped to the array size.
func (a *Array) EraseRange(i, n int) error {
	if a.IsConst() {
		return ErrConstWrite
	}
	if i < 0 || i >= len(a.vec) || n <= 0 {
		return nil
	}
	end := min(i+n, len(a.vec))
	for k := i; k < end; k++ {
		a.vec[k].Free()
	}
	tail := copy(a.vec[i:], a.vec[end:])
	for k := i + tail; k < len(a.vec); k++ {
		a.vec[k] = Value{}
	}
	a.vec = a.vec[:i+tail]
	return nil
}

// Insert inserts vals at i, shifting the tail up. An index past the end
// appends after Undefined fill.
func (a *Array) Insert(i int, vals ...Value) error {
	if a.IsConst() {
		for k := range vals {
			vals[k].Free()
		}
		return ErrConstWrite
	}
	if i < 0 {
		i = 0
	}
	if i > len(a.vec) {
		a.grow(i)
	}
	if len(vals) == 0 {
		return nil
	}
	a.vec = append(a.vec, make([]Value, len(vals))...)
	copy(a.vec[i+len(vals):], a.vec[i:len(a.vec)-len(vals)])
	copy(a.vec[i:], vals)
	return nil
}

// Resize truncates or extends the array. Extension uses Undefined.
func (a *Array) Resize(n int) error {
	if a.IsConst() {
		return ErrConstWrite
	}
	if n < 0 {
		n = 0
	}
	if n < len(a.vec) {
		for k := n; k < len(a.vec); k++ {
			a.vec[k].Free()
			a.vec[k] = Value{}
		}
		a.vec = a.vec[:n]
		return nil
	}
	a.grow(n)
	return nil
}

func (a *Array) grow(n int) {
	for len(a.vec) < n {
		a.vec = append(a.vec, Undefined())
	}
}

// All iterates the elements in order. The yielded Values are borrowed.
func (a *Array) All() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		for i := 0; i < len(a.vec); i++ {
			if !yield(i, a.vec[i]) {
				return
			}
		}
	}
}

// Equal compares two arrays element-wise.
func (a *Array) Equal(other *Array) bool {
	if a == other {
		return true
	}
	if a == nil || other == nil || len(a.vec) != len(other.vec) {
		return false
	}
	for i := range a.vec {
		if !a.vec[i].Equal(other.vec[i]) {
			return false
		}
	}
	return true
}
