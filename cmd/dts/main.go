// Command dts parses a Devicetree Source file and prints its canonical
// serialization, the way a build system would invoke this library as a
// preprocessing step ahead of a DTB compiler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/parser"
	"github.com/aledsdavies/dts/pkgs/printer"
)

const (
	exitSuccess          = 0
	exitInvalidArguments = 1
	exitIOError          = 2
	exitParseError       = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var includePaths []string
	var outFile string

	exitCode := exitSuccess

	cmd := &cobra.Command{
		Use:           "dts <file>",
		Short:         "Parse and canonicalize a Devicetree Source file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, cliArgs []string) error {
			tree, err := parser.Parse(cliArgs[0], includePaths)
			if err != nil {
				exitCode = classify(err)
				return err
			}

			out := os.Stdout
			if outFile != "" && outFile != "-" {
				f, err := os.Create(outFile)
				if err != nil {
					exitCode = exitIOError
					return err
				}
				defer f.Close()
				out = f
			}

			fmt.Fprintln(out, printer.Sprint(tree))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&includePaths, "include", "I", nil, "add a directory to the /include/ search path (repeatable)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "-", "output file ('-' for stdout)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == exitSuccess {
			exitCode = exitInvalidArguments
		}
		return exitCode
	}
	return exitSuccess
}

func classify(err error) int {
	if dterror.IsCode(err, dterror.CodeIO) || dterror.IsCode(err, dterror.CodeInclude) {
		return exitIOError
	}
	return exitParseError
}
