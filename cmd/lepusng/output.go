package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lynx-family/lepusng/lepus"
)

var (
	statusColor = color.New(color.FgGreen, color.Bold)
	errorColor  = color.New(color.FgRed, color.Bold)
	nameColor   = color.New(color.FgCyan)
)

func printStatus(w io.Writer, label, msg string) {
	fmt.Fprintf(w, "%s %s\n", statusColor.Sprint(label), msg)
}

func printError(w io.Writer, label, msg string) {
	fmt.Fprintf(w, "%s %s\n", errorColor.Sprint(label+":"), msg)
}

// printValue writes name = value in console format. Engine values are
// collapsed first.
func printValue(w io.Writer, name string, v lepus.Value) {
	n := v.ToLepusValue(lepus.CopyNone)
	defer n.Free()
	var b strings.Builder
	n.PrintValue(&b)
	fmt.Fprintf(w, "%s = %s\n", nameColor.Sprint(name), b.String())
}
