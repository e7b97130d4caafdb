package main

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lynx-family/lepusng/lepus"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		bold := color.New(color.FgYellow, color.Bold)
		fmt.Fprintf(cmd.OutOrStdout(), "lepusng %s (%s %s/%s)\n",
			bold.Sprint(lepus.Version), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
