package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jinbowang1/ctdr-go/internal/application/utility"
)

// Benchmark command flags
var (
	benchmarkIterations int
	benchmarkWarmup     int
	benchmarkOutput     string
	benchmarkSave       bool
)

// BenchmarkCmd is the parent command for benchmark operations.
var BenchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run performance benchmarks",
	Long: `Commands for running performance benchmarks.

Available benchmark suites:
  - regularizer: Penalty evaluation, gradient fusion, sensitivity weights
  - training: Observe step, boundary sweep, model evaluation
  - all: Run both suites

Target thresholds:
  - Penalty evaluation: < 1ms
  - Gradient fusion: < 2ms
  - Observe step: < 5ms
  - Boundary sweep: < 50ms`,
}

// benchmarkRegularizerCmd times the core regularizer math
var benchmarkRegularizerCmd = &cobra.Command{
	Use:   "regularizer",
	Short: "Run regularizer math benchmarks",
	Long:  `Benchmark the penalty evaluation, gradient fusion, and sensitivity weighting kernels.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := utility.BenchmarkConfig{
			Iterations: benchmarkIterations,
			Warmup:     benchmarkWarmup,
		}

		service, err := utility.NewBenchmarkService(config)
		if err != nil {
			return err
		}

		fmt.Println("Running regularizer benchmarks...")

		report, err := service.RunRegularizerBenchmarks()
		if err != nil {
			return err
		}

		return outputBenchmarkReport(service, report)
	},
}

// benchmarkTrainingCmd times full training protocol operations
var benchmarkTrainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Run training protocol benchmarks",
	Long:  `Benchmark full training operations: the anchored observe step, the boundary sweep, and model evaluation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := utility.BenchmarkConfig{
			Iterations: benchmarkIterations,
			Warmup:     benchmarkWarmup,
		}

		service, err := utility.NewBenchmarkService(config)
		if err != nil {
			return err
		}

		fmt.Println("Running training benchmarks...")

		report, err := service.RunTrainingBenchmarks()
		if err != nil {
			return err
		}

		return outputBenchmarkReport(service, report)
	},
}

// benchmarkAllCmd runs both suites
var benchmarkAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run all benchmark suites",
	Long:  `Run both benchmark suites (regularizer, training).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := utility.BenchmarkConfig{
			Iterations: benchmarkIterations,
			Warmup:     benchmarkWarmup,
		}

		service, err := utility.NewBenchmarkService(config)
		if err != nil {
			return err
		}

		fmt.Println("Running all benchmarks...")

		report, err := service.RunAllBenchmarks()
		if err != nil {
			return err
		}

		return outputBenchmarkReport(service, report)
	},
}

// outputBenchmarkReport outputs the benchmark report in the requested format.
func outputBenchmarkReport(service *utility.BenchmarkService, report *utility.BenchmarkReport) error {
	if benchmarkOutput == "json" {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Println()
		fmt.Print(utility.FormatBenchmarkReport(report))
	}

	if benchmarkSave {
		path, err := service.SaveReport(report)
		if err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		fmt.Printf("\nReport saved to: %s\n", path)
	}

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d benchmark(s) failed to meet target", report.Summary.Failed)
	}

	return nil
}

func init() {
	// Common flags for all benchmark commands
	addBenchmarkFlags := func(cmd *cobra.Command) {
		cmd.Flags().IntVarP(&benchmarkIterations, "iterations", "i", 100, "Number of benchmark iterations")
		cmd.Flags().IntVarP(&benchmarkWarmup, "warmup", "w", 10, "Number of warmup iterations")
		cmd.Flags().StringVarP(&benchmarkOutput, "output", "o", "text", "Output format (text|json)")
		cmd.Flags().BoolVarP(&benchmarkSave, "save", "s", false, "Save results to file")
	}

	addBenchmarkFlags(benchmarkRegularizerCmd)
	addBenchmarkFlags(benchmarkTrainingCmd)
	addBenchmarkFlags(benchmarkAllCmd)

	// Add subcommands
	BenchmarkCmd.AddCommand(benchmarkRegularizerCmd)
	BenchmarkCmd.AddCommand(benchmarkTrainingCmd)
	BenchmarkCmd.AddCommand(benchmarkAllCmd)
}
