package lepus

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingDelegate struct {
	mu      sync.Mutex
	sdk     string
	errors  []*LynxError
	printed []string
	gcRuns  int
}

func (d *recordingDelegate) TargetSDKVersion() string { return d.sdk }

func (d *recordingDelegate) ReportError(err *LynxError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, err)
}

func (d *recordingDelegate) PrintMsgToJS(level, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.printed = append(d.printed, level+": "+msg)
}

func (d *recordingDelegate) ReportGCTimingEvent(start, end time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gcRuns++
}

func (d *recordingDelegate) lastError(t *testing.T) *LynxError {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errors) == 0 {
		t.Fatalf("no error reported")
	}
	return d.errors[len(d.errors)-1]
}

func newTestContext(t *testing.T, opts Options) (*QuickContext, *recordingDelegate) {
	t.Helper()
	d := &recordingDelegate{sdk: "2.14"}
	opts.Delegate = d
	qc := NewQuickContext(&opts)
	t.Cleanup(func() { qc.Close() })
	return qc, d
}

func eval(t *testing.T, qc *QuickContext, src string) Value {
	t.Helper()
	v, ok := qc.DeSerialize(NewQuickContextBundle("test.js", []byte(src)), true, "")
	if !ok {
		t.Fatalf("eval %q failed", src)
	}
	return v
}

func global(t *testing.T, qc *QuickContext, name string) Value {
	t.Helper()
	v, ok := qc.GetTopLevelVariableByName(name)
	if !ok {
		t.Fatalf("global %s not set", name)
	}
	t.Cleanup(func() { v.Free() })
	return v
}

func TestExecuteSetsGlobal(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	if _, ok := qc.DeSerialize(NewQuickContextBundle("main.js", []byte("globalThis.x = {a: [1, 2, 3]};")), false, ""); !ok {
		t.Fatalf("DeSerialize failed")
	}
	if !qc.HasTopLevelFunction() {
		t.Fatalf("no top-level program after DeSerialize")
	}
	ret, ok := qc.Execute()
	defer ret.Free()
	if !ok {
		t.Fatalf("Execute failed")
	}
	a := global(t, qc, "x").GetProperty("a")
	defer a.Free()
	if !a.IsJSArray() {
		t.Fatalf("got %s for x.a, want an engine array", a.Type())
	}
	e := a.GetPropertyAt(1)
	defer e.Free()
	if !e.Equal(NewInt32(2)) {
		t.Errorf("got x.a[1]=%v, want 2", e)
	}
	if len(d.errors) != 0 {
		t.Errorf("unexpected errors: %v", d.errors)
	}
}

func TestExecuteWithoutBundle(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	if _, ok := qc.Execute(); ok {
		t.Errorf("Execute succeeded with nothing loaded")
	}
	if err := qc.Ready(); !errors.Is(err, ErrNoTopLevelFunction) {
		t.Errorf("got %v, want %v", err, ErrNoTopLevelFunction)
	}
	qc.Close()
	if err := qc.Ready(); !errors.Is(err, ErrContextClosed) {
		t.Errorf("got %v, want %v", err, ErrContextClosed)
	}
}

func TestCompileErrorReported(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	if _, ok := qc.DeSerialize(NewQuickContextBundle("bad.js", []byte("var = ;")), false, ""); ok {
		t.Fatalf("DeSerialize accepted a syntax error")
	}
	err := d.lastError(t)
	if !strings.HasPrefix(err.Message, deserializeErrorPrefix) {
		t.Errorf("got %q, want prefix %q", err.Message, deserializeErrorPrefix)
	}
}

func TestStrictModeDefault(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	eval(t, qc, "undeclared = 1;")
	if len(d.errors) != 1 {
		t.Fatalf("got %d errors, want 1 for a strict mode violation", len(d.errors))
	}

	sloppy, d2 := newTestContext(t, Options{DisableStrictMode: true})
	eval(t, sloppy, "undeclared = 1;")
	if len(d2.errors) != 0 {
		t.Errorf("sloppy mode reported %v", d2.errors)
	}
}

func TestNativeArrayFromScript(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	arr := NewArray(NewInt32(10), NewInt32(20), NewInt32(30))
	v := NewArrayValue(arr)
	defer v.Free()
	qc.SetGlobalData("arr", v)

	eval(t, qc, `
		var n = arr.push(40);
		var removed = arr.splice(1, 1);
		var first = removed[0];
		var removedLen = removed.length;
		var has = arr.includes(30);
	`)
	if got := global(t, qc, "n").Int64(); got != 4 {
		t.Errorf("got push result %d, want 4", got)
	}
	if got := global(t, qc, "first").Int64(); got != 20 {
		t.Errorf("got removed %d, want 20", got)
	}
	if got := global(t, qc, "removedLen").Int64(); got != 1 {
		t.Errorf("got %d removed, want 1", got)
	}
	if !global(t, qc, "has").IsTrue() {
		t.Errorf("includes(30) is false")
	}
	want := []int64{10, 30, 40}
	if arr.Size() != len(want) {
		t.Fatalf("got native size %d, want %d", arr.Size(), len(want))
	}
	for i, w := range want {
		if got := arr.Get(i).Int64(); got != w {
			t.Errorf("element %d: got %d, want %d", i, got, w)
		}
	}
	if len(d.errors) != 0 {
		t.Errorf("unexpected errors: %v", d.errors)
	}
}

func TestNativeTableFromScript(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	tbl := NewTable()
	tbl.SetValue("a", NewInt32(1))
	v := NewTableValue(tbl)
	defer v.Free()
	qc.SetGlobalData("obj", v)

	eval(t, qc, `obj.b = obj.a + 1; var keys = Object.keys(obj).join(",");`)
	if got := tbl.GetValue("b").Int64(); got != 2 {
		t.Errorf("got b=%d, want 2", got)
	}
	if got := global(t, qc, "keys").StdString(); got != "a,b" {
		t.Errorf("got keys %q, want %q", got, "a,b")
	}
}

func TestConstArrayPush(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	arr := NewArray(NewInt32(1), NewInt32(2), NewInt32(3))
	arr.MarkConst()
	v := NewArrayValue(arr)
	defer v.Free()
	qc.SetGlobalData("arr", v)

	eval(t, qc, "var n = arr.push(4);")
	if got := global(t, qc, "n").Int64(); got != 3 {
		t.Errorf("got push result %d, want 3", got)
	}
	if arr.Size() != 3 {
		t.Errorf("const array grew to %d", arr.Size())
	}
	if err := d.lastError(t); !strings.Contains(err.Message, "const") {
		t.Errorf("got %q, want a const error", err.Message)
	}
}

func TestConstArrayMethodNames(t *testing.T) {
	tests := []struct {
		call   string
		method string
	}{
		{"arr.push(4)", "push"},
		{"arr.unshift(0)", "unshift"},
		{"arr.pop()", "pop"},
		{"arr.shift()", "shift"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			qc, d := newTestContext(t, Options{})
			arr := NewArray(NewInt32(1), NewInt32(2))
			arr.MarkConst()
			v := NewArrayValue(arr)
			defer v.Free()
			qc.SetGlobalData("arr", v)

			eval(t, qc, tt.call+";")
			want := "Array.prototype." + tt.method + " in LepusNG"
			if got := d.lastError(t).Message; !strings.Contains(got, want) {
				t.Errorf("got %q, want it to name %s", got, tt.method)
			}
			if arr.Size() != 2 {
				t.Errorf("const array resized to %d", arr.Size())
			}
		})
	}
}

func TestConstWriteThrows(t *testing.T) {
	qc, d := newTestContext(t, Options{ThrowOnConstWrite: true})
	arr := NewArray(NewInt32(1))
	arr.MarkConst()
	v := NewArrayValue(arr)
	defer v.Free()
	qc.SetGlobalData("arr", v)

	eval(t, qc, `
		var pushErr = "", setErr = "";
		try { arr.push(2); } catch (e) { pushErr = e.name; }
		try { arr[0] = 5; } catch (e) { setErr = e.name; }
	`)
	if got := global(t, qc, "pushErr").StdString(); got != "TypeError" {
		t.Errorf("got push error %q, want TypeError", got)
	}
	if got := global(t, qc, "setErr").StdString(); got != "TypeError" {
		t.Errorf("got set error %q, want TypeError", got)
	}
	if got := arr.Get(0).Int64(); got != 1 {
		t.Errorf("const element changed to %d", got)
	}
	if len(d.errors) != 2 {
		t.Errorf("got %d errors, want 2", len(d.errors))
	}
}

func TestPushBeyondSafeLength(t *testing.T) {
	saved := maxSafeArrayLength
	maxSafeArrayLength = 5
	defer func() { maxSafeArrayLength = saved }()

	qc, _ := newTestContext(t, Options{})
	arr := NewArray(NewInt32(1), NewInt32(2), NewInt32(3), NewInt32(4), NewInt32(5))
	v := NewArrayValue(arr)
	defer v.Free()
	qc.SetGlobalData("arr", v)

	eval(t, qc, `var r; try { arr.push(6); } catch (e) { r = e.name + ":" + arr.length; }`)
	if got := global(t, qc, "r").StdString(); got != "TypeError:5" {
		t.Errorf("got %q, want %q", got, "TypeError:5")
	}
}

func TestUnhandledRejection(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	ret := eval(t, qc, "var p = Promise.reject(new Error('boom'));")
	defer ret.Free()
	if !ret.IsUndefined() {
		t.Errorf("got %s, want undefined", ret.Type())
	}
	if len(d.errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(d.errors))
	}
	err := d.errors[0]
	if err.Level != LevelError || err.Code != ErrorCodeMTSRuntime {
		t.Errorf("got (%s, %s), want (error, %s)", err.Level, err.Code, ErrorCodeMTSRuntime)
	}
	if !strings.HasPrefix(err.Message, executeRejectionPrefix) || !strings.Contains(err.Message, "boom") {
		t.Errorf("unexpected message %q", err.Message)
	}
}

func TestHandledRejectionNotReported(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	eval(t, qc, "var caught; Promise.reject(new Error('x')).catch(function (e) { caught = e.message; });")
	if len(d.errors) != 0 {
		t.Errorf("got %d errors, want 0", len(d.errors))
	}
	if got := global(t, qc, "caught").StdString(); got != "x" {
		t.Errorf("got %q, want %q", got, "x")
	}
}

func TestExecuteExceptionReported(t *testing.T) {
	qc, d := newTestContext(t, Options{TemplateDebugURL: "http://debug/template.js"})
	ret := eval(t, qc, "throw new Error('broken');")
	if !ret.IsUndefined() {
		t.Errorf("got %s, want undefined", ret.Type())
	}
	err := d.lastError(t)
	for _, want := range []string{executeExceptionPrefix, "lepusng exception: broken", "template_debug_url:http://debug/template.js"} {
		if !strings.Contains(err.Message, want) {
			t.Errorf("message %q does not contain %q", err.Message, want)
		}
	}
	if got := err.CustomInfo[InfoContextName]; got != DefaultContextName {
		t.Errorf("got context name %q, want %q", got, DefaultContextName)
	}
	if got := err.CustomInfo[InfoContextID]; got != qc.ID() {
		t.Errorf("got context id %q, want %q", got, qc.ID())
	}
}

func TestCall(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	eval(t, qc, `
		function add(a, b) { return a + b; }
		function thrower() { throw new Error('bad'); }
	`)

	sum := qc.Call("add", NewInt32(2), NewInt32(3))
	if got := sum.Int64(); got != 5 {
		t.Errorf("got %d, want 5", got)
	}

	if r := qc.Call("nope"); !r.IsUndefined() {
		t.Errorf("got %s, want undefined", r.Type())
	}
	if err := d.lastError(t); !strings.Contains(err.Message, "nope is not a function") {
		t.Errorf("got %q", err.Message)
	}

	if r := qc.Call("thrower"); !r.IsUndefined() {
		t.Errorf("got %s, want undefined", r.Type())
	}
	if err := d.lastError(t); !strings.Contains(err.Message, "lepusng exception: bad") {
		t.Errorf("got %q", err.Message)
	}
}

func TestCallPassesNativeContainers(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	eval(t, qc, "function grow(a) { a.push(1); return a.length; }")
	arg := NewArrayValue(NewArray())
	defer arg.Free()
	if got := qc.Call("grow", arg).Int64(); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if got := arg.Array().Size(); got != 1 {
		t.Errorf("got native size %d, want 1", got)
	}
}

func TestCallClosure(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	fn := eval(t, qc, "(function (x) { return x * 2; })")
	defer fn.Free()
	if got := qc.CallClosure(fn, NewInt32(21)).Int64(); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	native := NewCFunction(&CFunction{Name: "one", Fn: func(Context, []Value) Value { return NewInt32(1) }})
	if got := qc.CallClosure(native).Int64(); got != 1 {
		t.Errorf("got %d, want 1", got)
	}

	qc.CallClosure(NewString("nope"))
	if err := d.lastError(t); err.Message != "closure is not a function" {
		t.Errorf("got %q", err.Message)
	}
}

func TestLynxMethods(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	qc.RegisterLynxMethod(&CFunction{Name: "double", Fn: func(_ Context, args []Value) Value {
		return NewInt64(args[0].Int64() * 2)
	}})
	eval(t, qc, "var r = Lynx.double(4);")
	if got := global(t, qc, "r").Int64(); got != 8 {
		t.Errorf("got %d, want 8", got)
	}

	qc.RegisterLynxMethod(&CFunction{Name: "late", Fn: func(Context, []Value) Value { return NewString("ok") }})
	eval(t, qc, "var s = Lynx.late();")
	if got := global(t, qc, "s").StdString(); got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
}

func TestReportFatalErrorThrows(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	qc.RegisterGlobalFunction(&CFunction{Name: "fail", Fn: func(ctx Context, _ []Value) Value {
		ctx.(*QuickContext).ReportFatalError("fatal!", false, ErrorCodeMTSFatal)
		return Undefined()
	}})
	eval(t, qc, "var code, msg; try { fail(); } catch (e) { code = e.__error_code__; msg = e.message; }")
	if got := global(t, qc, "code").Int64(); got != int64(ErrorCodeMTSFatal) {
		t.Errorf("got code %d, want %d", got, ErrorCodeMTSFatal)
	}
	if got := global(t, qc, "msg").StdString(); got != "fatal!" {
		t.Errorf("got %q, want %q", got, "fatal!")
	}
}

func TestReportFatalErrorExit(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	defer func() {
		err, ok := recover().(*LynxError)
		if !ok || err.Level != LevelFatal {
			t.Errorf("got %v, want a fatal LynxError panic", err)
		}
	}()
	qc.ReportFatalError("gone", true, ErrorCodeMTSFatal)
}

func TestErrorCodeFromThrownValue(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	eval(t, qc, "var e = new Error('coded'); e.__error_code__ = 1102; throw e;")
	if got := d.lastError(t).Code; got != ErrorCodeMTSRendererFunction {
		t.Errorf("got %s, want %s", got, ErrorCodeMTSRendererFunction)
	}
}

func TestConsole(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	eval(t, qc, `console.log("hi", {a: 1, b: [1, 2]}); console.error("oops");`)

	want := []string{
		"log: [main-thread.js] hi {a:1,b:[1,2]}",
		"error: [main-thread.js] oops",
	}
	if len(d.printed) != len(want) {
		t.Fatalf("got %q, want %q", d.printed, want)
	}
	for i := range want {
		if d.printed[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, d.printed[i], want[i])
		}
	}
	if err := d.lastError(t); err.Message != "console.error: \n\noops" {
		t.Errorf("got %q", err.Message)
	}
}

func TestJobQueue(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	var order []string
	qc.EnqueueJob(func() error {
		order = append(order, "first")
		qc.EnqueueJob(func() error {
			order = append(order, "nested")
			return nil
		})
		return nil
	})
	if !qc.IsJobPending() {
		t.Fatalf("no job pending")
	}
	eval(t, qc, "var x = 1;")
	if len(order) != 2 || order[0] != "first" || order[1] != "nested" {
		t.Errorf("got order %v", order)
	}

	qc.EnqueueJob(func() error { return ErrNotContainer })
	if n := qc.ExecutePendingJobs(); n != 1 {
		t.Errorf("ran %d jobs, want 1", n)
	}
	if err := d.lastError(t); !strings.Contains(err.Message, ErrNotContainer.Error()) {
		t.Errorf("got %q", err.Message)
	}
	if qc.IsJobPending() {
		t.Errorf("jobs left after drain")
	}
}

func TestCallStopsOnFailingJob(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	eval(t, qc, "function f() { return 7; }")
	ran := false
	qc.EnqueueJob(func() error { return ErrNotContainer })
	qc.EnqueueJob(func() error { ran = true; return nil })
	if r := qc.Call("f"); !r.IsUndefined() {
		t.Errorf("got %s, want undefined when a job fails", r.Type())
	}
	if ran {
		t.Errorf("job after the failing one ran")
	}
	if !qc.IsJobPending() {
		t.Errorf("remaining job dropped")
	}
}

func TestCheckTableShadowUpdated(t *testing.T) {
	list := NewArray(NewInt32(1), NewInt32(2))
	obj := NewTable()
	obj.SetValue("b", NewInt32(2))
	obj.SetValue("list", NewArrayValue(list))
	objVal := NewTableValue(obj)
	defer objVal.Free()

	update := func(key string, v Value) Value {
		tbl := NewTable()
		tbl.SetValue(key, v)
		return NewTableValue(tbl)
	}

	for _, deep := range []bool{false, true} {
		qc, _ := newTestContext(t, Options{TableDeepCheck: deep})
		eval(t, qc, "var a = 1; var gone = 1; gone = undefined;")
		qc.SetGlobalData("obj", objVal)

		list.AddRef()
		tests := []struct {
			name string
			upd  Value
			want bool
		}{
			{"not a table", NewInt32(1), true},
			{"same scalar", update("a", NewInt32(1)), false},
			{"changed scalar", update("a", NewInt32(2)), true},
			{"missing global", update("missing", NewInt32(1)), true},
			{"nested same", update("obj.b", NewInt32(2)), false},
			{"nested changed", update("obj.b", NewInt32(3)), true},
			{"missing key", update("obj.c", NewInt32(3)), true},
			{"index out of range", update("obj.list[5]", NewInt32(1)), true},
			{"index same", update("obj.list[1]", NewInt32(2)), false},
			{"same container", update("obj.list", NewArrayValue(list)), false},
			{"equal copy", update("obj.list", NewArrayValue(NewArray(NewInt32(1), NewInt32(2)))), !deep},
			{"present becomes undefined", update("a", Undefined()), true},
			{"nested present becomes nil", update("obj.b", Nil()), true},
			{"global cleared", update("gone", NewInt32(1)), true},
		}
		for _, tt := range tests {
			if got := qc.CheckTableShadowUpdatedWithTopLevelVariable(tt.upd); got != tt.want {
				t.Errorf("deep=%v %s: got %v, want %v", deep, tt.name, got, tt.want)
			}
			tt.upd.Free()
		}
	}
}

func TestUpdateTopLevelVariableByPath(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	inner := NewTable()
	inner.SetValue("b", NewInt32(1))
	inner.MarkConst()
	v := NewTableValue(inner)
	defer v.Free()
	qc.SetGlobalData("obj", v)

	if !qc.UpdateTopLevelVariableByPath([]string{"obj", "b"}, NewInt32(5)) {
		t.Fatalf("update failed")
	}
	got := global(t, qc, "obj")
	if got.Table() == inner {
		t.Fatalf("const table updated in place")
	}
	if b := got.Table().GetValue("b").Int64(); b != 5 {
		t.Errorf("got b=%d, want 5", b)
	}
	if b := inner.GetValue("b").Int64(); b != 1 {
		t.Errorf("original changed to b=%d", b)
	}

	if !qc.UpdateTopLevelVariableByPath([]string{"z"}, NewString("q")) {
		t.Fatalf("single segment update failed")
	}
	if s := global(t, qc, "z").StdString(); s != "q" {
		t.Errorf("got %q, want %q", s, "q")
	}

	if qc.UpdateTopLevelVariableByPath([]string{"missing", "x"}, NewInt32(1)) {
		t.Errorf("update below a missing global succeeded")
	}
}

func TestHandleScopes(t *testing.T) {
	qc, _ := newTestContext(t, Options{GCEnable: true})
	eval(t, qc, "function f() { return {k: 1}; }")
	r := qc.Call("f")
	r.Free()

	st := qc.Runtime().Stats()
	if st.HandleScopes != 0 || st.Pinned != 0 {
		t.Errorf("got %d scopes and %d pinned after calls, want 0", st.HandleScopes, st.Pinned)
	}
	if st.PersistentHandles != 0 {
		t.Errorf("got %d persistent handles after free, want 0", st.PersistentHandles)
	}

	outer := qc.Runtime().OpenHandleScope()
	inner := qc.Runtime().OpenHandleScope()
	defer func() {
		if recover() == nil {
			t.Errorf("closing the outer scope first did not panic")
		}
		inner.Close()
	}()
	outer.Close()
}

func TestEngineValueRefs(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	obj := eval(t, qc, "({k: 1})")
	if !obj.IsJSValue() {
		t.Fatalf("got %s, want an engine value", obj.Type())
	}
	if got := qc.Runtime().Stats().EngineRefs; got != 1 {
		t.Errorf("got %d engine refs, want 1", got)
	}
	c := obj.Copy()
	if got := qc.Runtime().Stats().EngineRefs; got != 2 {
		t.Errorf("got %d engine refs after copy, want 2", got)
	}
	c.Free()
	obj.Free()
	if got := qc.Runtime().Stats().EngineRefs; got != 0 {
		t.Errorf("got %d engine refs after free, want 0", got)
	}
}

func TestCloseReleasesReferences(t *testing.T) {
	d := &recordingDelegate{}
	qc := NewQuickContext(&Options{Delegate: d})
	tbl := NewTable()
	v := NewTableValue(tbl)
	defer v.Free()
	qc.SetGlobalData("t", v)
	if got := tbl.RefCount(); got != 2 {
		t.Fatalf("got refcount %d while exposed, want 2", got)
	}
	eng, _ := qc.DeSerialize(NewQuickContextBundle("t.js", []byte("({k: 1})")), true, "")

	hookRan := false
	qc.OnClose(func() { hookRan = true })
	if err := qc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !hookRan {
		t.Errorf("close hook did not run")
	}
	if qc.Cell().Alive() {
		t.Errorf("cell still alive after close")
	}
	if got := tbl.RefCount(); got != 1 {
		t.Errorf("got refcount %d after close, want 1", got)
	}
	eng.Free()
	if _, ok := qc.Execute(); ok {
		t.Errorf("Execute succeeded on a closed context")
	}
	if err := qc.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestRefObjectClass(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	qc.RegisterClass(7, &ClassDef{
		Name: "Counter",
		Methods: map[string]ClassMethod{
			"id": func(qc *QuickContext, this *RefObject, args []Value) Value {
				return NewInt32(int32(this.Payload.(int)))
			},
		},
	})
	v := NewRefObjectValue(NewRefObject(7, 3, nil))
	defer v.Free()

	first := qc.ConvertToObject(v)
	if second := qc.ConvertToObject(v); second != first {
		t.Errorf("second conversion returned a new object")
	}
	if err := qc.vm.Set("counter", first); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	eval(t, qc, "var got = counter.id();")
	if got := global(t, qc, "got").Int64(); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestRefObjectReleasedWhileContextOpen(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	qc.RegisterClass(7, &ClassDef{Name: "Counter"})

	const n = 50
	var released atomic.Int32
	for i := 0; i < n; i++ {
		v := NewRefObjectValue(NewRefObject(7, i, func(*RefObject) { released.Add(1) }))
		qc.ConvertToObject(v)
		v.Free()
	}
	for i := 0; i < 200 && released.Load() < n; i++ {
		qc.RunGC()
		time.Sleep(time.Millisecond)
	}
	if got := released.Load(); got != n {
		t.Errorf("got %d/%d released before close", got, n)
	}
	if got := qc.Runtime().Stats().LepusRefs; got != 0 {
		t.Errorf("got %d live lepusrefs, want 0", got)
	}
}

func TestRunGCReportsTiming(t *testing.T) {
	qc, d := newTestContext(t, Options{})
	if !qc.RunGC() {
		t.Fatalf("RunGC returned false")
	}
	restore := qc.Runtime().SuppressGCPause()
	if qc.RunGC() {
		t.Errorf("RunGC ran while pauses were suppressed")
	}
	restore()
	if d.gcRuns != 1 {
		t.Errorf("got %d gc events, want 1", d.gcRuns)
	}
}

func TestStatus(t *testing.T) {
	qc, _ := newTestContext(t, Options{})
	if qc.Status() != StatusIdle {
		t.Errorf("got %s, want %s", qc.Status(), StatusIdle)
	}
	qc.SetStatus(StatusResolved)
	if qc.Status() != StatusResolved {
		t.Errorf("got %s, want %s", qc.Status(), StatusResolved)
	}
}
