// Package main provides the CLI entry point for ctdr.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jinbowang1/ctdr-go/cmd/ctdr/commands"
)

var (
	version = "0.2.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ctdr",
	Short: "CTDR - Continual training with dynamic regularization",
	Long: `ctdr trains a backbone model through a sequence of tasks while a
dynamic regularizer anchors the parameters that earlier tasks rely on.

It provides:
  - Continual training over synthetic task sequences
  - Boundary-time sensitivity sweeps and importance weighting
  - Run persistence with memory, SQLite, and Postgres backends
  - Background training runs with log streaming
  - Diagnostics and performance benchmarks`,
	Version: version,
}

// ============================================================================
// Version Command
// ============================================================================

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Show the ctdr version and build environment.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ctdr %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Training commands
	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.BackgroundCmd)

	// Diagnostics commands
	rootCmd.AddCommand(commands.DoctorCmd)
	rootCmd.AddCommand(commands.BenchmarkCmd)
}
