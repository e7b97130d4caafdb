package lepus

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

var (
	// ErrContextClosed is returned by QuickContext.Ready after Close.
	ErrContextClosed = errors.New("lepus: context is closed")

	// ErrLegacyBundle is returned when a bundle for the legacy bytecode VM is
	// requested; only LepusNG bundles are supported.
	ErrLegacyBundle = errors.New("lepus: legacy VM bundles are not supported")

	// ErrNoTopLevelFunction is returned by QuickContext.Ready before a bundle
	// has been deserialized.
	ErrNoTopLevelFunction = errors.New("lepus: no top-level function")

	// ErrIndexOutOfRange is wrapped by array writes with a negative index.
	ErrIndexOutOfRange = errors.New("lepus: index out of range")

	// ErrNotContainer is returned by property writes on values that are
	// neither arrays nor tables.
	ErrNotContainer = errors.New("lepus: value is not an array or table")
)

func errIndexOutOfRange(i int) error {
	return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
}

// ErrorCode is the numeric code carried by a LynxError.
type ErrorCode int32

const (
	ErrorCodeSuccess ErrorCode = 0
	// ErrorCodeMTSRuntime covers compile failures, script exceptions,
	// pending-job failures and unhandled rejections of main-thread scripts.
	ErrorCodeMTSRuntime ErrorCode = 1101
	// ErrorCodeMTSRendererFunction is reported when a renderer entry point
	// looked up by name is missing or not callable.
	ErrorCodeMTSRendererFunction ErrorCode = 1102
	// ErrorCodeMTSFatal is attached to errors raised by ReportFatalError.
	ErrorCodeMTSFatal ErrorCode = 1103
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeSuccess:
		return "SUCCESS"
	case ErrorCodeMTSRuntime:
		return "E_MTS_RUNTIME_ERROR"
	case ErrorCodeMTSRendererFunction:
		return "E_MTS_RENDERER_FUNCTION_FATAL"
	case ErrorCodeMTSFatal:
		return "E_MTS_FATAL"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
}

// ErrorLevel is the severity of a LynxError.
type ErrorLevel int

const (
	LevelInfo ErrorLevel = iota
	LevelWarn
	LevelError
	LevelFatal
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorLevel(%d)", int(l))
	}
}

// Custom info keys filled in by a context when it reports.
const (
	InfoContextName      = "context_name"
	InfoContextType      = "context_type"
	InfoContextID        = "context_id"
	InfoTemplateDebug    = "template_debug_url"
	InfoSourceMapRelease = "source_map_release"
)

// LynxError is the structured error handed to a context's Delegate.
type LynxError struct {
	Code       ErrorCode
	Message    string
	Stack      string
	Level      ErrorLevel
	CustomInfo map[string]string
}

// NewLynxError returns an error with an empty custom info map.
func NewLynxError(code ErrorCode, msg string, level ErrorLevel) *LynxError {
	return &LynxError{
		Code:       code,
		Message:    msg,
		Level:      level,
		CustomInfo: make(map[string]string),
	}
}

// AddCustomInfo records a key-value pair, replacing an earlier value.
func (e *LynxError) AddCustomInfo(key, value string) {
	if e.CustomInfo == nil {
		e.CustomInfo = make(map[string]string)
	}
	e.CustomInfo[key] = value
}

// Clone returns a copy that does not share the custom info map.
func (e *LynxError) Clone() *LynxError {
	c := *e
	c.CustomInfo = maps.Clone(e.CustomInfo)
	return &c
}

func (e *LynxError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d, %s)", e.Message, int32(e.Code), e.Level)
	if e.Stack != "" {
		b.WriteString("\n")
		b.WriteString(e.Stack)
	}
	return b.String()
}
