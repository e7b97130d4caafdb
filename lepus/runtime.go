package lepus

import (
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/dop251/goja"
)

// Runtime info strings reported by Runtime.Info.
const (
	RuntimeInfoGC = "Lynx_LepusNG"
	RuntimeInfoRC = "Lynx_LepusNG_RC"
)

// Runtime holds the bookkeeping a QuickContext keeps next to its goja
// runtime: references held by Values on engine objects, persistent handles,
// handle scopes, the LepusRef wrapper cache and the GC-pause flag.
//
// In manual mode every Value that wraps an engine value owns one counted
// reference in the dup table. In GC mode it owns one persistent handle
// instead. Both keep the engine object reachable until the Value is freed.
//
// A Runtime is confined to the goroutine that drives its context, except
// for wrapper finalization which may run on the cleanup goroutine.
type Runtime struct {
	vm       *goja.Runtime
	gcEnable bool
	onGC     func(start, end time.Time)

	mu       sync.Mutex
	dups     map[goja.Value]int32
	handles  map[*persistentHandle]struct{}
	pinned   []goja.Value
	scopes   []*HandleScope
	wrappers map[RefCounted]weak.Pointer[goja.Object]
	live     map[*lepusRef]struct{}
	suppress bool
	closed   bool
}

func newRuntime(vm *goja.Runtime, gcEnable bool) *Runtime {
	return &Runtime{
		vm:       vm,
		gcEnable: gcEnable,
		dups:     make(map[goja.Value]int32),
		handles:  make(map[*persistentHandle]struct{}),
		wrappers: make(map[RefCounted]weak.Pointer[goja.Object]),
		live:     make(map[*lepusRef]struct{}),
	}
}

// Info returns the runtime-info string for the memory mode.
func (rt *Runtime) Info() string {
	if rt.gcEnable {
		return RuntimeInfoGC
	}
	return RuntimeInfoRC
}

// GCEnabled reports whether the runtime uses persistent handles.
func (rt *Runtime) GCEnabled() bool { return rt.gcEnable }

func (rt *Runtime) dup(v goja.Value) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	rt.dups[v]++
}

func (rt *Runtime) free(v goja.Value) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	n, ok := rt.dups[v]
	if !ok {
		panic("lepus: free of an engine value that was never duplicated")
	}
	if n <= 1 {
		delete(rt.dups, v)
		return
	}
	rt.dups[v] = n - 1
}

// persistentHandle pins one engine value for one Value in GC mode.
type persistentHandle struct {
	rt *Runtime
	v  goja.Value
}

func (rt *Runtime) newHandle(v goja.Value) *persistentHandle {
	h := &persistentHandle{rt: rt, v: v}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.closed {
		rt.handles[h] = struct{}{}
	}
	return h
}

func (h *persistentHandle) reset() {
	if h == nil || h.rt == nil {
		return
	}
	rt := h.rt
	rt.mu.Lock()
	delete(rt.handles, h)
	rt.mu.Unlock()
	h.rt, h.v = nil, nil
}

// HandleScope pins raw engine values held by native code across calls
// that may collect. Scopes nest and must be closed in reverse order of
// opening. In manual mode a scope pins nothing.
type HandleScope struct {
	rt   *Runtime
	base int
}

// OpenHandleScope pushes a new scope frame.
func (rt *Runtime) OpenHandleScope() *HandleScope {
	if !rt.gcEnable {
		return &HandleScope{}
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s := &HandleScope{rt: rt, base: len(rt.pinned)}
	rt.scopes = append(rt.scopes, s)
	return s
}

// Push pins v until the scope closes.
func (s *HandleScope) Push(v goja.Value) {
	if s.rt == nil || v == nil {
		return
	}
	s.rt.mu.Lock()
	s.rt.pinned = append(s.rt.pinned, v)
	s.rt.mu.Unlock()
}

// PushValue pins the engine payload of v, if any.
func (s *HandleScope) PushValue(v Value) {
	if v.tag == TagPrimJsValue {
		s.Push(v.js)
	}
}

// Close pops the scope, unpinning everything pushed since it was opened.
// Closing a scope that is not the innermost open one panics.
func (s *HandleScope) Close() {
	rt := s.rt
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s.rt = nil
	if rt.closed {
		return
	}
	n := len(rt.scopes)
	if n == 0 || rt.scopes[n-1] != s {
		panic("lepus: handle scope closed out of order")
	}
	rt.scopes = rt.scopes[:n-1]
	clear(rt.pinned[s.base:])
	rt.pinned = rt.pinned[:s.base]
}

// SuppressGCPause sets the suppress flag and returns a func restoring the
// previous value. Calls nest.
func (rt *Runtime) SuppressGCPause() (restore func()) {
	rt.mu.Lock()
	prev := rt.suppress
	rt.suppress = true
	rt.mu.Unlock()
	return func() {
		rt.mu.Lock()
		rt.suppress = prev
		rt.mu.Unlock()
	}
}

// GCPauseSuppressed reports whether collection is currently held off.
func (rt *Runtime) GCPauseSuppressed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.suppress
}

// RunGC runs a collection and drops cache entries for wrappers the engine
// no longer references. It reports false without collecting while GC pauses
// are suppressed.
func (rt *Runtime) RunGC() bool {
	if rt.GCPauseSuppressed() {
		return false
	}
	start := time.Now()
	runtime.GC()
	end := time.Now()
	rt.sweepWrappers()
	if rt.onGC != nil {
		rt.onGC(start, end)
	}
	return true
}

// RuntimeStats is a snapshot of the references a Runtime is tracking.
type RuntimeStats struct {
	// EngineRefs is the number of counted references (manual mode).
	EngineRefs int
	// PersistentHandles is the number of live handles (GC mode).
	PersistentHandles int
	// HandleScopes is the open scope depth.
	HandleScopes int
	// Pinned is the number of values pinned by open scopes.
	Pinned int
	// LepusRefs is the number of wrappers still holding a container ref.
	LepusRefs int
}

// Stats returns a snapshot of the tracked references.
func (rt *Runtime) Stats() RuntimeStats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var refs int
	for _, n := range rt.dups {
		refs += int(n)
	}
	return RuntimeStats{
		EngineRefs:        refs,
		PersistentHandles: len(rt.handles),
		HandleScopes:      len(rt.scopes),
		Pinned:            len(rt.pinned),
		LepusRefs:         len(rt.live),
	}
}

func (rt *Runtime) cachedWrapper(ref RefCounted) *goja.Object {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if wp, ok := rt.wrappers[ref]; ok {
		return wp.Value()
	}
	return nil
}

// trackWrapper caches obj as the wrapper of h.ref and arranges for the
// container reference held by h to be released once obj is unreachable.
func (rt *Runtime) trackWrapper(obj *goja.Object, h *lepusRef) {
	rt.mu.Lock()
	if !rt.closed {
		rt.wrappers[h.ref] = weak.Make(obj)
		rt.live[h] = struct{}{}
	}
	rt.mu.Unlock()
	runtime.AddCleanup(obj, func(h *lepusRef) { h.release() }, h)
}

func (rt *Runtime) untrackWrapper(h *lepusRef) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.live, h)
	if wp, ok := rt.wrappers[h.ref]; ok && wp.Value() == nil {
		delete(rt.wrappers, h.ref)
	}
}

func (rt *Runtime) sweepWrappers() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for ref, wp := range rt.wrappers {
		if wp.Value() == nil {
			delete(rt.wrappers, ref)
		}
	}
}

// close drops every reference the runtime holds. Container releases run
// after the lock is dropped because they may free nested Values.
func (rt *Runtime) close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	live := make([]*lepusRef, 0, len(rt.live))
	for h := range rt.live {
		live = append(live, h)
	}
	clear(rt.live)
	clear(rt.wrappers)
	clear(rt.dups)
	for h := range rt.handles {
		h.rt, h.v = nil, nil
	}
	clear(rt.handles)
	rt.pinned = nil
	rt.scopes = nil
	rt.mu.Unlock()

	for _, h := range live {
		h.release()
	}
}
