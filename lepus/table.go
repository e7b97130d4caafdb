package lepus

import (
	"iter"
)

// Table is a string-keyed map that preserves insertion order.
//
// Values handed to SetValue are adopted; GetValue returns a borrowed Value.
type Table struct {
	refBase
	keys  []string
	vals  []Value
	index map[string]int
}

// NewTable returns an empty table holding one reference.
func NewTable() *Table {
	t := &Table{index: make(map[string]int)}
	t.init(t.releaseSelf)
	return t
}

func (t *Table) releaseSelf() {
	vals := t.vals
	t.keys, t.vals, t.index = nil, nil, nil
	for i := range vals {
		vals[i].Free()
	}
}

// RefType implements RefCounted.
func (t *Table) RefType() RefType { return RefTypeTable }

// MarkConst locks the table and every container it holds.
func (t *Table) MarkConst() bool {
	if t.IsConst() {
		return true
	}
	for i := range t.vals {
		if !t.vals[i].MarkConst() {
			return false
		}
	}
	t.setConst()
	return true
}

// Size returns the number of entries.
func (t *Table) Size() int {
	return len(t.keys)
}

// Contains reports whether key is present.
func (t *Table) Contains(key string) bool {
	_, ok := t.index[key]
	return ok
}

// GetValue returns the value under key, or Undefined when absent.
func (t *Table) GetValue(key string) Value {
	if i, ok := t.index[key]; ok {
		return t.vals[i]
	}
	return Undefined()
}

// SetValue inserts or overwrites key. Overwriting keeps the original
// insertion position.
func (t *Table) SetValue(key string, v Value) error {
	if t.IsConst() {
		v.Free()
		return ErrConstWrite
	}
	if i, ok := t.index[key]; ok {
		old := t.vals[i]
		t.vals[i] = v
		old.Free()
		return nil
	}
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[key] = len(t.keys)
	t.keys = append(t.keys, key)
	t.vals = append(t.vals, v)
	return nil
}

// EraseKey removes key and returns the index it occupied, or -1 if absent.
func (t *Table) EraseKey(key string) (int, error) {
	if t.IsConst() {
		return -1, ErrConstWrite
	}
	i, ok := t.index[key]
	if !ok {
		return -1, nil
	}
	t.vals[i].Free()
	delete(t.index, key)
	last := len(t.vals) - 1
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	copy(t.vals[i:], t.vals[i+1:])
	t.vals[last] = Value{}
	t.vals = t.vals[:last]
	for k := i; k < len(t.keys); k++ {
		t.index[t.keys[k]] = k
	}
	return i, nil
}

// Keys returns the keys in insertion order.
func (t *Table) Keys() []string {
	return append([]string(nil), t.keys...)
}

// All iterates entries in insertion order. The yielded Values are borrowed.
func (t *Table) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for i := 0; i < len(t.keys); i++ {
			if !yield(t.keys[i], t.vals[i]) {
				return
			}
		}
	}
}

// Equal compares key sets and values.
func (t *Table) Equal(other *Table) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || len(t.keys) != len(other.keys) {
		return false
	}
	for i, key := range t.keys {
		j, ok := other.index[key]
		if !ok || !t.vals[i].Equal(other.vals[j]) {
			return false
		}
	}
	return true
}
