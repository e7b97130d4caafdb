package lepus

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// errorCodeProperty carries the host error code on errors thrown by
// ReportFatalError.
const errorCodeProperty = "__error_code__"

const (
	executeExceptionPrefix  = "QuickContext::Execute() exception!!!\n"
	executeJobPrefix        = "QuickContext::Execute() pending job exception!!!\n"
	executeRejectionPrefix  = "QuickContext::Execute() unhandled rejection!!!\n"
	deserializeErrorPrefix  = "QuickContext::DeSerialize() compile error!!!\n"
	setConstValueErrMessage = "You have attempted to modify an object that is not modifiable." +
		"Please manually assign the object before making any changes."
)

var _ Context = (*QuickContext)(nil)

// QuickContext is a LepusNG context: one goja runtime plus the wiring that
// exposes native containers to scripts and reports script errors to a
// Delegate.
//
// A QuickContext must only be used from one goroutine at a time.
type QuickContext struct {
	contextStatus

	opts Options
	id   uuid.UUID
	log  commonlog.Logger

	vm   *goja.Runtime
	rt   *Runtime
	cell *ContextCell

	refArrayProto  *goja.Object
	refOpaqueProto *goja.Object
	refSymbol      *goja.Symbol
	classes        map[ClassID]*classEntry

	topLevel *goja.Program
	fileName string
	mapper   *stackMapper

	lynx        *goja.Object
	lynxMethods []*CFunction

	jobs       []func() error
	rejections []*goja.Promise

	customInfo       map[string]string
	sourceMapRelease string

	apiEnv     any
	closeHooks []func()
	closed     bool
}

// NewQuickContext creates a context with its own engine runtime. The
// returned context has console, print and __lepus_version__ installed;
// Lynx is created on first Execute or EnsureLynx.
func NewQuickContext(opts *Options) *QuickContext {
	o := opts.withDefaults()
	vm := goja.New()
	qc := &QuickContext{
		opts:       o,
		id:         uuid.New(),
		log:        commonlog.GetLogger("lepusng.context"),
		vm:         vm,
		classes:    make(map[ClassID]*classEntry),
		customInfo: make(map[string]string),
		refSymbol:  goja.NewSymbol("lepus.ref"),
	}
	if o.StackSize > 0 {
		vm.SetMaxCallStackSize(o.StackSize)
	}
	qc.rt = newRuntime(vm, o.GCEnable)
	qc.rt.onGC = o.Delegate.ReportGCTimingEvent
	qc.cell = newContextCell(vm, qc.rt, qc, o.GCEnable)

	qc.installLepusRefPrototypes()
	qc.registerConsole()
	vm.Set("__lepus_version__", Version)
	vm.SetPromiseRejectionTracker(qc.trackRejection)

	qc.log.Debug("context created", "name", o.Name, "id", qc.id.String(), "runtime", qc.rt.Info())
	return qc
}

func (qc *QuickContext) Name() string { return qc.opts.Name }

func (qc *QuickContext) Type() ContextType { return ContextTypeLepusNG }

func (qc *QuickContext) IsLepusNGContext() bool { return true }

// ID returns the id attached to errors this context reports.
func (qc *QuickContext) ID() string { return qc.id.String() }

// VM returns the engine runtime.
func (qc *QuickContext) VM() *goja.Runtime { return qc.vm }

// Runtime returns the reference bookkeeping of the engine runtime.
func (qc *QuickContext) Runtime() *Runtime { return qc.rt }

// Cell returns the context cell. It stays valid after Close.
func (qc *QuickContext) Cell() *ContextCell { return qc.cell }

// Options returns the options the context was built with, defaults
// applied.
func (qc *QuickContext) Options() Options { return qc.opts }

// Closed reports whether Close has run.
func (qc *QuickContext) Closed() bool { return qc.closed }

// Close releases the top-level program, every engine reference held for
// Values and every container reference held by LepusRef wrappers, then
// clears the context cell. Values created by the context stay safe to
// free afterwards.
func (qc *QuickContext) Close() error {
	if qc.closed {
		return nil
	}
	hooks := qc.closeHooks
	qc.closeHooks = nil
	for _, h := range slices.Backward(hooks) {
		h()
	}
	qc.closed = true
	qc.topLevel = nil
	qc.jobs = nil
	qc.rejections = nil
	qc.lynx = nil
	qc.rt.close()
	qc.cell.clear()
	qc.log.Debug("context closed", "name", qc.opts.Name, "id", qc.id.String())
	return nil
}

// OnClose registers fn to run at the start of Close. Hooks run in reverse
// order of registration.
func (qc *QuickContext) OnClose(fn func()) {
	qc.closeHooks = append(qc.closeHooks, fn)
}

// SetAPIEnv attaches state owned by an external value API.
func (qc *QuickContext) SetAPIEnv(env any) { qc.apiEnv = env }

// APIEnv returns the state set by SetAPIEnv.
func (qc *QuickContext) APIEnv() any { return qc.apiEnv }

// DeSerialize loads bundle. With reuse set the bundle is run at once in
// this context and its result returned; the previously loaded top-level
// program is kept. Otherwise the bundle becomes the top-level program run
// by Execute. fileName names the whole compilation unit in backtraces.
func (qc *QuickContext) DeSerialize(bundle ContextBundle, reuse bool, fileName string) (Value, bool) {
	if qc.closed {
		return Undefined(), false
	}
	qb, ok := bundle.(*QuickContextBundle)
	if !ok || qb == nil {
		qc.log.Error("deserialize: unsupported bundle", "name", qc.opts.Name)
		return Undefined(), false
	}
	prog, err := qb.Program(fileName, !qc.opts.DisableStrictMode)
	if err != nil {
		msg, code := qc.GetExceptionMessage(err, deserializeErrorPrefix)
		qc.log.Error("deserialize error", "name", qc.opts.Name, "error", msg)
		qc.reportFormatted(msg, code, LevelError)
		return Undefined(), false
	}
	if len(qb.SourceMap) > 0 && qc.mapper == nil {
		if m, err := newStackMapper(qb.FileName, qb.SourceMap); err != nil {
			qc.log.Warning("ignoring source map", "error", err.Error())
		} else {
			qc.mapper = m
		}
	}
	if reuse {
		prev := qc.topLevel
		qc.topLevel = prog
		ret, ok := qc.Execute()
		qc.topLevel = prev
		return ret, ok
	}
	qc.topLevel = prog
	qc.fileName = fileName
	return Undefined(), true
}

// Ready returns ErrContextClosed after Close and ErrNoTopLevelFunction
// before a bundle is loaded. Execute runs only when Ready returns nil.
func (qc *QuickContext) Ready() error {
	switch {
	case qc.closed:
		return ErrContextClosed
	case qc.topLevel == nil:
		return ErrNoTopLevelFunction
	}
	return nil
}

// HasTopLevelFunction reports whether a bundle has been loaded.
func (qc *QuickContext) HasTopLevelFunction() bool { return qc.topLevel != nil }

// Execute runs the top-level program against the global object, then runs
// pending jobs and reports unhandled rejections. A script exception is
// reported and yields Undefined with ok still true; ok is false only when
// nothing is loaded. The returned Value is owned.
func (qc *QuickContext) Execute() (Value, bool) {
	if err := qc.Ready(); err != nil {
		if errors.Is(err, ErrNoTopLevelFunction) {
			qc.log.Error("no compiled function object", "name", qc.opts.Name)
		}
		return Undefined(), false
	}
	qc.EnsureLynx()

	ret, err := qc.vm.RunProgram(qc.topLevel)
	if err != nil {
		msg, code := qc.GetExceptionMessage(err, executeExceptionPrefix)
		qc.log.Error("run error", "name", qc.opts.Name, "error", msg)
		qc.reportFormatted(msg, code, LevelError)
		ret = nil
	}
	scope := qc.rt.OpenHandleScope()
	defer scope.Close()
	scope.Push(ret)

	qc.drainJobs(executeJobPrefix, false)
	qc.reportRejections(executeRejectionPrefix)
	return newJSValue(qc.cell, ret), true
}

// Call looks name up on the global object and calls it with args. Errors
// are reported and yield Undefined. args are borrowed; the result is
// owned.
func (qc *QuickContext) Call(name string, args ...Value) Value {
	return qc.GetAndCall(name, args...)
}

// GetAndCall is Call. A missing or non-callable global is reported as a
// TypeError.
func (qc *QuickContext) GetAndCall(name string, args ...Value) Value {
	if qc.closed {
		return Undefined()
	}
	fn, ok := goja.AssertFunction(qc.vm.Get(name))
	if !ok {
		ex := qc.vm.Try(func() {
			panic(qc.vm.NewTypeError("%s is not a function", name))
		})
		msg, _ := qc.GetExceptionMessage(ex, "")
		qc.reportFormatted(msg, ErrorCodeMTSRuntime, LevelError)
		return Undefined()
	}
	return qc.internalCall(fn, args)
}

// CallClosure calls closure, which must be a script function or a
// CFunction. args are borrowed; the result is owned.
func (qc *QuickContext) CallClosure(closure Value, args ...Value) Value {
	if qc.closed {
		return Undefined()
	}
	if f := closure.CFunction(); f != nil && f.Fn != nil {
		return f.Fn(qc, args)
	}
	if fn, ok := goja.AssertFunction(closure.ToJSValue(qc, false)); ok {
		return qc.internalCall(fn, args)
	}
	qc.ReportError("closure is not a function", ErrorCodeMTSRuntime, LevelError)
	return Undefined()
}

// CallInPauseSuppressionMode is Call with GC pauses suppressed for the
// duration of the call.
func (qc *QuickContext) CallInPauseSuppressionMode(name string, args ...Value) Value {
	restore := qc.rt.SuppressGCPause()
	defer restore()
	return qc.Call(name, args...)
}

func (qc *QuickContext) internalCall(fn goja.Callable, args []Value) Value {
	scope := qc.rt.OpenHandleScope()
	defer scope.Close()
	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = a.ToJSValue(qc, false)
		scope.Push(jsArgs[i])
	}
	ret, err := fn(qc.vm.GlobalObject(), jsArgs...)
	if err != nil {
		msg, code := qc.GetExceptionMessage(err, "")
		qc.log.Error("call exception", "name", qc.opts.Name, "error", msg)
		qc.reportFormatted(msg, code, LevelError)
		return Undefined()
	}
	scope.Push(ret)
	if !qc.drainJobs("", true) {
		return Undefined()
	}
	// Rejections are reported but do not replace the call's result.
	qc.reportRejections("")
	return newJSValue(qc.cell, ret)
}

// EnqueueJob schedules fn to run after the current script returns, when
// Execute or Call drain the job queue or ExecutePendingJobs runs. fn runs
// with the engine entered; it may call into script.
func (qc *QuickContext) EnqueueJob(fn func() error) {
	qc.jobs = append(qc.jobs, fn)
}

// IsJobPending reports whether host jobs are queued.
func (qc *QuickContext) IsJobPending() bool { return len(qc.jobs) > 0 }

// ExecutePendingJobs runs queued host jobs, including jobs they enqueue,
// and reports failures. It returns the number of jobs that ran.
func (qc *QuickContext) ExecutePendingJobs() int {
	n := len(qc.jobs)
	qc.drainJobs("", false)
	qc.reportRejections("")
	return n
}

// drainJobs runs queued jobs in order. A failing job is reported; with
// stop set the remaining jobs stay queued and false is returned.
func (qc *QuickContext) drainJobs(prefix string, stop bool) bool {
	for len(qc.jobs) > 0 && !qc.closed {
		job := qc.jobs[0]
		qc.jobs = qc.jobs[1:]
		var err error
		if ex := qc.vm.Try(func() { err = job() }); ex != nil {
			err = ex
		}
		if err == nil {
			continue
		}
		msg, _ := qc.GetExceptionMessage(err, prefix)
		qc.log.Error("pending job error", "name", qc.opts.Name, "error", msg)
		qc.reportFormatted(msg, ErrorCodeMTSRuntime, LevelError)
		if stop {
			return false
		}
	}
	return true
}

func (qc *QuickContext) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		qc.rejections = append(qc.rejections, p)
	case goja.PromiseRejectionHandle:
		qc.rejections = slices.DeleteFunc(qc.rejections, func(x *goja.Promise) bool { return x == p })
	}
}

func (qc *QuickContext) reportRejections(prefix string) {
	pending := qc.rejections
	qc.rejections = nil
	for _, p := range pending {
		message, stack, _ := qc.errorParts(p.Result())
		msg := qc.FormatExceptionMessage(message, stack, prefix)
		qc.log.Error("unhandled rejection", "name", qc.opts.Name, "error", msg)
		qc.reportFormatted(msg, ErrorCodeMTSRuntime, LevelError)
	}
}

// GetTopLevelVariableByName reads a global. It reports false for globals
// that are missing, null or undefined. The Value is owned.
func (qc *QuickContext) GetTopLevelVariableByName(name string) (Value, bool) {
	if qc.closed {
		return Undefined(), false
	}
	v := newJSValue(qc.cell, qc.vm.Get(name))
	if v.IsEmpty() {
		v.Free()
		return Undefined(), false
	}
	return v, true
}

// UpdateTopLevelVariableByPath writes val at path, whose first segment
// names a global. Const containers on the way are copied and the global is
// rebound to the result. Updating below a missing global fails.
func (qc *QuickContext) UpdateTopLevelVariableByPath(path []string, val Value) bool {
	if qc.closed || len(path) == 0 {
		return false
	}
	if len(path) == 1 {
		return qc.setGlobal(path[0], val)
	}
	cur, ok := qc.GetTopLevelVariableByName(path[0])
	if !ok {
		return false
	}
	defer cur.Free()
	UpdateValueByPath(&cur, val, path[1:])
	return qc.setGlobal(path[0], cur)
}

func (qc *QuickContext) setGlobal(name string, val Value) bool {
	scope := qc.rt.OpenHandleScope()
	defer scope.Close()
	js := val.ToJSValue(qc, false)
	scope.Push(js)
	var err error
	if ex := qc.vm.Try(func() { err = qc.vm.Set(name, js) }); ex != nil {
		return false
	}
	return err == nil
}

// CheckTableShadowUpdatedWithTopLevelVariable reports whether applying
// update, a table of value paths, would change any global. Containers are
// compared by identity unless TableDeepCheck is set.
func (qc *QuickContext) CheckTableShadowUpdatedWithTopLevelVariable(update Value) bool {
	t := update.Table()
	if update.tag != TagTable || t == nil {
		return true
	}
	for i, key := range t.keys {
		if qc.pathUpdated(ParseValuePath(key), t.vals[i]) {
			return true
		}
	}
	return false
}

func (qc *QuickContext) pathUpdated(path []string, val Value) bool {
	if len(path) == 0 {
		return true
	}
	top, _ := qc.GetTopLevelVariableByName(path[0])
	root := top.ToLepusValue(CopyNone)
	top.Free()
	defer root.Free()

	cur := root
	for _, seg := range path[1:] {
		switch {
		case cur.tag == TagTable && cur.Table() != nil:
			if !cur.Table().Contains(seg) {
				return true
			}
			cur = cur.Table().GetValue(seg)
		case cur.tag == TagArray && cur.Array() != nil:
			if idx, err := strconv.Atoi(seg); err == nil {
				if idx < 0 || idx >= cur.Array().Size() {
					return true
				}
				cur = cur.Array().Get(idx)
			}
		}
	}
	if cur.IsEmpty() {
		return true
	}
	if qc.opts.TableDeepCheck {
		return !cur.Equal(val)
	}
	return shallowNotEqual(cur, val)
}

// shallowNotEqual compares scalars by value and containers by identity.
func shallowNotEqual(a, b Value) bool {
	if a.ref != nil || b.ref != nil {
		return a.ref != b.ref
	}
	return !a.Equal(b)
}

// SetGlobalData binds a global to val. val is borrowed.
func (qc *QuickContext) SetGlobalData(name string, val Value) {
	if qc.closed {
		return
	}
	qc.setGlobal(name, val)
}

// GetGlobalData reads a global. The Value is owned.
func (qc *QuickContext) GetGlobalData(name string) Value {
	if qc.closed {
		return Undefined()
	}
	return newJSValue(qc.cell, qc.vm.Get(name))
}

// EnsureLynx creates the Lynx global with the registered methods if it
// does not exist yet.
func (qc *QuickContext) EnsureLynx() *goja.Object {
	if qc.lynx != nil || qc.closed {
		return qc.lynx
	}
	obj := qc.vm.NewObject()
	for _, m := range qc.lynxMethods {
		obj.Set(m.Name, qc.cfunctionObject(m))
	}
	qc.vm.Set("Lynx", obj)
	qc.lynx = obj
	return obj
}

// RegisterLynxMethod adds fn to the Lynx global under fn.Name.
func (qc *QuickContext) RegisterLynxMethod(fn *CFunction) {
	qc.lynxMethods = append(qc.lynxMethods, fn)
	if qc.lynx != nil {
		qc.lynx.Set(fn.Name, qc.cfunctionObject(fn))
	}
}

// RegisterGlobalFunction binds fn as a global under fn.Name.
func (qc *QuickContext) RegisterGlobalFunction(fn *CFunction) {
	qc.vm.Set(fn.Name, qc.cfunctionObject(fn))
}

// RunGC collects unless pauses are suppressed and reports the timing to
// the delegate.
func (qc *QuickContext) RunGC() bool {
	if qc.closed {
		return false
	}
	return qc.rt.RunGC()
}

// PrintMsgToJS forwards console output to the delegate.
func (qc *QuickContext) PrintMsgToJS(level, msg string) {
	qc.opts.Delegate.PrintMsgToJS(level, msg)
}

// ReportError hands a LynxError carrying the context's identity to the
// delegate.
func (qc *QuickContext) ReportError(msg string, code ErrorCode, level ErrorLevel) {
	qc.opts.Delegate.ReportError(qc.newError(msg, code, level))
}

func (qc *QuickContext) newError(msg string, code ErrorCode, level ErrorLevel) *LynxError {
	err := NewLynxError(code, msg, level)
	maps.Copy(err.CustomInfo, qc.customInfo)
	err.AddCustomInfo(InfoContextName, qc.opts.Name)
	err.AddCustomInfo(InfoContextType, strconv.Itoa(int(ContextTypeLepusNG)))
	err.AddCustomInfo(InfoContextID, qc.id.String())
	if qc.opts.TemplateDebugURL != "" {
		err.AddCustomInfo(InfoTemplateDebug, qc.opts.TemplateDebugURL)
	}
	if qc.sourceMapRelease != "" {
		err.AddCustomInfo(InfoSourceMapRelease, qc.sourceMapRelease)
	}
	return err
}

// ReportErrorWithMsg formats msg and stack like an engine exception and
// reports the result.
func (qc *QuickContext) ReportErrorWithMsg(msg, stack string, code ErrorCode, level ErrorLevel) {
	qc.reportFormatted(qc.FormatExceptionMessage(msg, stack, ""), code, level)
}

// reportFormatted reports a formatted message. When debug info lives
// outside the bundle and the target SDK supports it, backtrace positions
// are mapped through the bundle's source map first.
func (qc *QuickContext) reportFormatted(msg string, code ErrorCode, level ErrorLevel) {
	sdk := qc.opts.Delegate.TargetSDKVersion()
	if !qc.opts.DebugInfoOutside || !versionAtLeast(sdk, minDebugInfoOutsideVersion) {
		qc.ReportError(msg, code, level)
		return
	}
	qc.PrintMsgToJS("info", "ReportErrorWithMsg.engine version:"+sdk)
	qc.PrintMsgToJS("info", "ReportErrorWithMsg.msg:"+msg)
	qc.opts.Delegate.ReportError(qc.newError(qc.mapper.mapStack(msg), code, level))
}

// AddReporterCustomInfo adds entries to the custom info of every error
// reported afterwards.
func (qc *QuickContext) AddReporterCustomInfo(info map[string]string) {
	maps.Copy(qc.customInfo, info)
}

// SetSourceMapRelease records the release a script announced for its
// source maps. errVal is an error-like value with message and stack.
func (qc *QuickContext) SetSourceMapRelease(errVal Value) {
	message := errVal.GetProperty("message")
	defer message.Free()
	stack := errVal.GetProperty("stack")
	defer stack.Free()
	if !message.IsString() || !stack.IsString() {
		qc.log.Info("SetSourceMapRelease: message or stack is not a string")
		return
	}
	qc.PrintMsgToJS("info", "SetSourceMapRelease.message:"+message.StdString())
	qc.PrintMsgToJS("info", "SetSourceMapRelease.stack:"+stack.StdString())
	qc.sourceMapRelease = message.StdString()
}

// ReportSetConstValueError reports a script write to a const container
// and returns the reported message.
func (qc *QuickContext) ReportSetConstValueError(prop string) string {
	msg := setConstValueErrMessage + "\nThe property name is :" + prop
	qc.reportFormatted(msg, ErrorCodeMTSRuntime, LevelError)
	qc.log.Error("const value write", "name", qc.opts.Name, "property", prop)
	return msg
}

// ReportFatalError aborts with a panic when exit is set. Otherwise it
// throws an Error carrying code in __error_code__ into the calling script,
// so it must only be called from a host function invoked by script.
func (qc *QuickContext) ReportFatalError(msg string, exit bool, code ErrorCode) {
	if exit {
		qc.log.Critical("QuickContext::ReportFatalError: " + msg)
		panic(NewLynxError(code, msg, LevelFatal))
	}
	errObj, ok := qc.construct("Error", qc.vm.ToValue(msg)).(*goja.Object)
	if !ok {
		panic(qc.vm.NewGoError(errors.New(msg)))
	}
	errObj.DefineDataProperty(errorCodeProperty, qc.vm.ToValue(int32(code)), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	panic(errObj)
}

// FormatExceptionMessage builds the report text for an exception.
func (qc *QuickContext) FormatExceptionMessage(message, stack, prefix string) string {
	ret := prefix + "lepusng exception: " + message + " backtrace:\n" + stack
	if qc.opts.TemplateDebugURL != "" {
		ret += "\ntemplate_debug_url:" + qc.opts.TemplateDebugURL
	}
	return ret
}

// GetExceptionMessage formats err, typically a *goja.Exception, for
// reporting. The code is taken from the thrown value's __error_code__ when
// present.
func (qc *QuickContext) GetExceptionMessage(err error, prefix string) (string, ErrorCode) {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex != nil {
		message, stack, code := qc.errorParts(ex.Value())
		if stack == "" {
			stack = ex.String()
		}
		return qc.FormatExceptionMessage(message, stack, prefix), code
	}
	if err == nil {
		return qc.FormatExceptionMessage("", "", prefix), ErrorCodeMTSRuntime
	}
	return qc.FormatExceptionMessage(err.Error(), "", prefix), ErrorCodeMTSRuntime
}

// errorParts extracts message, stack and error code from a thrown value.
func (qc *QuickContext) errorParts(val goja.Value) (message, stack string, code ErrorCode) {
	code = ErrorCodeMTSRuntime
	if val == nil {
		return "undefined", "", code
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return val.String(), "", code
	}
	qc.vm.Try(func() {
		message = obj.String()
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			message = m.String()
		}
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
		if c := obj.Get(errorCodeProperty); c != nil && !goja.IsUndefined(c) {
			code = ErrorCode(c.ToInteger())
		}
	})
	return message, stack, code
}

func (qc *QuickContext) String() string {
	return fmt.Sprintf("QuickContext(%s, %s)", qc.opts.Name, qc.id)
}
