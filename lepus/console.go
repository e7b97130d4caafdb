package lepus

import (
	"strings"

	"github.com/dop251/goja"
)

const consolePrefix = "[main-thread.js] "

// consoleLevels maps console methods that print to the level passed to
// Delegate.PrintMsgToJS.
var consoleLevels = []struct{ method, level string }{
	{"log", "log"},
	{"info", "info"},
	{"warn", "warn"},
	{"debug", "debug"},
	{"report", "report"},
	{"alog", "alog"},
}

func (qc *QuickContext) registerConsole() {
	vm := qc.vm
	console := vm.NewObject()
	for _, c := range consoleLevels {
		level := c.level
		console.Set(c.method, func(call goja.FunctionCall) goja.Value {
			qc.PrintMsgToJS(level, consolePrefix+qc.printString(call.Arguments))
			return goja.Undefined()
		})
	}
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		s := qc.printString(call.Arguments)
		qc.PrintMsgToJS("error", consolePrefix+s)
		qc.reportFormatted("console.error: \n\n"+s, ErrorCodeMTSRuntime, LevelError)
		return goja.Undefined()
	})
	console.Set("profile", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			qc.log.Debug("profile begin", "section", "Lepus::"+qc.printString(call.Arguments[:1]))
		}
		return goja.Undefined()
	})
	console.Set("profileEnd", func(goja.FunctionCall) goja.Value {
		qc.log.Debug("profile end")
		return goja.Undefined()
	})
	vm.Set("console", console)
	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		qc.PrintMsgToJS("log", consolePrefix+qc.printString(call.Arguments))
		return goja.Undefined()
	})
}

// printString joins the printed form of args with spaces.
func (qc *QuickContext) printString(args []goja.Value) string {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		qc.printJS(&b, a)
	}
	return b.String()
}

func (qc *QuickContext) printJS(b *strings.Builder, js goja.Value) {
	if o, ok := js.(*goja.Object); ok && o.ClassName() == "Error" {
		message, stack, _ := qc.errorParts(o)
		b.WriteString(message)
		b.WriteByte('\n')
		b.WriteString(stack)
		return
	}
	v := newJSValue(qc.cell, js)
	defer v.Free()
	n := v.ToLepusValue(CopyDeepClone)
	defer n.Free()
	n.PrintValue(b)
}

// PrintValue writes v in the compact console format: strings unquoted,
// tables as {key:value,...} and arrays as [a,b].
func (v Value) PrintValue(b *strings.Builder) {
	switch v.tag {
	case TagTable:
		b.WriteByte('{')
		if t := v.Table(); t != nil {
			for i, k := range t.keys {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(k)
				b.WriteByte(':')
				t.vals[i].PrintValue(b)
			}
		}
		b.WriteByte('}')
	case TagArray:
		b.WriteByte('[')
		if a := v.Array(); a != nil {
			for i, e := range a.vec {
				if i > 0 {
					b.WriteByte(',')
				}
				e.PrintValue(b)
			}
		}
		b.WriteByte(']')
	case TagClosure, TagCFunction, TagCPointer, TagRefCounted:
		b.WriteString("closure/cfunction/cpointer/refcounted")
	default:
		b.WriteString(v.ToString())
	}
}
