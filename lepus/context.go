package lepus

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultContextName names the page context.
const DefaultContextName = "__Card__"

// Version is published to scripts as __lepus_version__.
const Version = "2.14"

// ContextType identifies the script runtime behind a Context.
type ContextType int

const (
	ContextTypeVM ContextType = iota
	ContextTypeLepusNG
)

func (t ContextType) String() string {
	switch t {
	case ContextTypeVM:
		return "VMContext"
	case ContextTypeLepusNG:
		return "LepusNGContext"
	}
	return fmt.Sprintf("ContextType(%d)", int(t))
}

// ContextStatus tracks async property resolution driven by the renderer.
// The context only stores it.
type ContextStatus int32

const (
	StatusIdle ContextStatus = iota
	StatusPrepareRequested
	StatusPrepareTriggered
	StatusPreparing
	StatusResolving
	StatusResolved
	StatusUpdated
	StatusSyncResolving
)

var statusNames = [...]string{
	"Idle",
	"PrepareRequested",
	"PrepareTriggered",
	"Preparing",
	"Resolving",
	"Resolved",
	"Updated",
	"SyncResolving",
}

func (s ContextStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("ContextStatus(%d)", int32(s))
}

// Context is a script execution context. QuickContext is the LepusNG
// implementation.
type Context interface {
	Name() string
	Type() ContextType
	IsLepusNGContext() bool

	DeSerialize(bundle ContextBundle, reuse bool, fileName string) (Value, bool)
	Execute() (Value, bool)
	Call(name string, args ...Value) Value

	GetTopLevelVariableByName(name string) (Value, bool)
	UpdateTopLevelVariableByPath(path []string, val Value) bool
	CheckTableShadowUpdatedWithTopLevelVariable(update Value) bool
	SetGlobalData(name string, val Value)
	GetGlobalData(name string) Value

	ReportError(msg string, code ErrorCode, level ErrorLevel)
	PrintMsgToJS(level, msg string)

	SetStatus(s ContextStatus)
	Status() ContextStatus

	Close() error
}

// Delegate receives what a context surfaces to its host.
type Delegate interface {
	TargetSDKVersion() string
	ReportError(err *LynxError)
	PrintMsgToJS(level, msg string)
	ReportGCTimingEvent(start, end time.Time)
}

// LogDelegate forwards everything to a commonlog logger. It is used when
// Options carries no Delegate.
type LogDelegate struct {
	SDKVersion string
	Log        commonlog.Logger
}

func (d *LogDelegate) logger() commonlog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return commonlog.GetLogger("lepusng.context")
}

func (d *LogDelegate) TargetSDKVersion() string { return d.SDKVersion }

func (d *LogDelegate) ReportError(err *LynxError) {
	log := d.logger()
	switch err.Level {
	case LevelFatal:
		log.Critical(err.Error())
	case LevelWarn:
		log.Warning(err.Error())
	case LevelInfo:
		log.Info(err.Error())
	default:
		log.Error(err.Error())
	}
}

func (d *LogDelegate) PrintMsgToJS(level, msg string) {
	log := d.logger()
	switch level {
	case "error":
		log.Error(msg)
	case "warn":
		log.Warning(msg)
	case "debug":
		log.Debug(msg)
	default:
		log.Info(msg)
	}
}

func (d *LogDelegate) ReportGCTimingEvent(start, end time.Time) {
	d.logger().Debugf("gc took %s", end.Sub(start))
}

// Options configures a QuickContext.
type Options struct {
	// Name identifies the context in reported errors. Defaults to
	// DefaultContextName.
	Name string
	// Delegate receives errors and console output. Defaults to a
	// LogDelegate.
	Delegate Delegate
	// GCEnable selects persistent handles over counted references.
	GCEnable bool
	// DisableStrictMode compiles bundles in sloppy mode.
	DisableStrictMode bool
	// ThrowOnConstWrite turns rejected writes to const containers into
	// script TypeErrors in addition to the reported error.
	ThrowOnConstWrite bool
	// TableDeepCheck makes CheckTableShadowUpdatedWithTopLevelVariable
	// compare containers recursively.
	TableDeepCheck bool
	// DebugInfoOutside enables source-map backtrace mapping for SDK
	// versions 2.7 and later.
	DebugInfoOutside bool
	// TemplateDebugURL is appended to formatted backtraces when set.
	TemplateDebugURL string
	// StackSize bounds the script call depth when positive.
	StackSize int
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Name == "" {
		opts.Name = DefaultContextName
	}
	if opts.Delegate == nil {
		opts.Delegate = &LogDelegate{}
	}
	return opts
}

// contextStatus is embedded by contexts to hold their ContextStatus.
type contextStatus struct {
	status atomic.Int32
}

func (c *contextStatus) SetStatus(s ContextStatus) { c.status.Store(int32(s)) }

func (c *contextStatus) Status() ContextStatus { return ContextStatus(c.status.Load()) }
