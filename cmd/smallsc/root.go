package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "smallsc",
	Short: "Smalls language runtime driver",
	Long: `smallsc drives the Smalls runtime core: it compiles modules through
the name/type/validation pipeline, dumps the resulting type registry,
and exercises the incremental generational collector.

The lexer and parser front end is a separate component; compile here
runs the analysis passes over a built-in self-check module.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// newLogger returns a structured logger honoring --verbose; output is
// discarded otherwise, the same default the runtime itself uses.
func newLogger() *slog.Logger {
	if !verbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
