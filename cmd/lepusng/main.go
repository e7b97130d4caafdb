package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/lynx-family/lepusng/lepus"
	"github.com/lynx-family/lepusng/lynxenv"
)

var rootCmd = &cobra.Command{
	Use:   "lepusng",
	Short: "LepusNG bundle compiler and runner",
	Long:  `Compile scripts into LepusNG bundles and run them in a QuickContext`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetCount("verbose")
		commonlog.Configure(verbose, nil)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = lepus.Version

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity")
	rootCmd.PersistentFlags().String("config", "", "path to "+lynxenv.FileName+" (default: search upward from the working directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv returns the switches named by --config, the nearest lynx.toml,
// or the defaults.
func loadEnv(cmd *cobra.Command) (*lynxenv.Env, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		return lynxenv.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return lynxenv.Default(), nil
	}
	env, err := lynxenv.Find(wd)
	if errors.Is(err, lynxenv.ErrNotFound) {
		return lynxenv.Default(), nil
	}
	return env, err
}
