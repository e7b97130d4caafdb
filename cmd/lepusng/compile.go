package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lynx-family/lepusng/lepus"
)

// BundleExt is the extension compile gives its output by default.
const BundleExt = ".lepus"

var compileCmd = &cobra.Command{
	Use:   "compile [flags] <file.js>",
	Short: "Compile a script into a LepusNG bundle",
	Long:  `Check that a script compiles in the configured strictness and write it as a bundle file`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringP("output", "o", "", "output path (default: input with "+BundleExt+" extension)")
	compileCmd.Flags().String("source-map", "", "source map to embed in the bundle")
	compileCmd.Flags().String("name", "", "file name recorded in the bundle (default: base name of the input)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	input := args[0]
	output, _ := cmd.Flags().GetString("output")
	mapPath, _ := cmd.Flags().GetString("source-map")
	name, _ := cmd.Flags().GetString("name")

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}
	if name == "" {
		name = filepath.Base(input)
	}
	bundle := lepus.NewQuickContextBundle(name, source)
	if mapPath != "" {
		if bundle.SourceMap, err = os.ReadFile(mapPath); err != nil {
			return fmt.Errorf("failed to read source map: %w", err)
		}
	}

	if _, err := bundle.Program("", !env.Context.DisableStrictMode); err != nil {
		printError(cmd.ErrOrStderr(), "compile error", err.Error())
		return fmt.Errorf("%s does not compile", input)
	}

	data, err := lepus.MarshalBundle(bundle)
	if err != nil {
		return err
	}
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + BundleExt
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	printStatus(cmd.OutOrStdout(), "compiled", fmt.Sprintf("%s -> %s (%d bytes)", input, output, len(data)))
	return nil
}

// readBundle loads a bundle file, or wraps a script file as a source
// bundle.
func readBundle(path string) (*lepus.QuickContextBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".js", ".mjs":
		return lepus.NewQuickContextBundle(filepath.Base(path), data), nil
	}
	return lepus.UnmarshalBundle(data)
}
