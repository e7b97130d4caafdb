package lepus

import (
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
)

// ContextCell identifies one live context. Engine values and handle scopes
// point at the cell rather than at the context itself, so a Value outliving
// its context observes a cleared cell instead of a dangling pointer.
//
// A cell is never reused: after the context closes, VM, Runtime and
// QuickContext return nil for as long as anything still references it.
type ContextCell struct {
	vm       atomic.Pointer[goja.Runtime]
	rt       atomic.Pointer[Runtime]
	qctx     atomic.Pointer[QuickContext]
	gcEnable bool
	id       uint64
}

var cellSeq atomic.Uint64

func newContextCell(vm *goja.Runtime, rt *Runtime, qc *QuickContext, gcEnable bool) *ContextCell {
	c := &ContextCell{gcEnable: gcEnable, id: cellSeq.Add(1)}
	c.vm.Store(vm)
	c.rt.Store(rt)
	c.qctx.Store(qc)
	return c
}

// VM returns the engine runtime, or nil after teardown.
func (c *ContextCell) VM() *goja.Runtime {
	if c == nil {
		return nil
	}
	return c.vm.Load()
}

// Runtime returns the runtime bookkeeping, or nil after teardown.
func (c *ContextCell) Runtime() *Runtime {
	if c == nil {
		return nil
	}
	return c.rt.Load()
}

// QuickContext returns the owning context, or nil after teardown.
func (c *ContextCell) QuickContext() *QuickContext {
	if c == nil {
		return nil
	}
	return c.qctx.Load()
}

// GCEnabled reports whether engine values under this cell are pinned by
// persistent handles rather than counted.
func (c *ContextCell) GCEnabled() bool {
	return c != nil && c.gcEnable
}

// Alive reports whether the owning context is still open.
func (c *ContextCell) Alive() bool {
	return c.Runtime() != nil
}

func (c *ContextCell) clear() {
	c.vm.Store(nil)
	c.rt.Store(nil)
	c.qctx.Store(nil)
}

func (c *ContextCell) String() string {
	if c == nil {
		return "ContextCell(nil)"
	}
	return fmt.Sprintf("ContextCell(%d)", c.id)
}
