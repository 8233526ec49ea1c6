// Package commands implements the ctdr CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	appTrainer "github.com/jinbowang1/ctdr-go/internal/application/trainer"
	domainExp "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// Train command flags
var (
	trainConfigPath string
	trainResumeID   string
	trainName       string
	trainEpochs     int
	trainBatchSize  int
	trainTasks      int
	trainSeed       int64
	trainLambda     float64
	trainStore      string
	trainDBPath     string
	trainFormat     string
	trainQuiet      bool
	trainVerbose    bool
)

// TrainCmd runs a continual training experiment in the foreground.
var TrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a continual training experiment",
	Long: `Train the backbone through the configured task sequence.

At every task boundary the trainer sweeps per-parameter sensitivities,
refreshes the importance weights, and re-anchors the regularizer before
the next task starts. Progress is persisted to the run store, so an
interrupted run can be picked up again with --resume.

Configuration is loaded from built-in defaults, then an optional config
file (--config, or ~/.ctdr/config.yaml when present), then CTDR_*
environment variables, then flags, each layer overriding the last.`,
	Example: `  # Train with built-in defaults
  ctdr train

  # Train from a config file with a stronger anchor
  ctdr train --config experiment.yaml --lambda 2000

  # Five tasks against an in-memory store, JSON report
  ctdr train --tasks 5 --store memory --format json

  # Resume an interrupted run
  ctdr train --resume 6c1f1e2a-8a3b-4f6e-9d2c-0b7a5c4d3e21`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadTrainConfig(cmd)
		if err != nil {
			return err
		}

		logger := newRunLogger(trainQuiet, trainVerbose)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("interrupt received, stopping after the current batch")
			cancel()
		}()

		store, err := runstore.New(ctx, config.Store)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer store.Close()

		runner, err := appTrainer.NewExperimentRunner(config, store, logger)
		if err != nil {
			return err
		}

		var report *appTrainer.RunReport
		if trainResumeID != "" {
			report, err = runner.Resume(ctx, trainResumeID)
		} else {
			report, err = runner.Run(ctx)
		}
		if err != nil {
			return err
		}

		return outputRunReport(report)
	},
}

// loadTrainConfig layers the flag overrides on top of the loaded
// configuration. Flags only override when explicitly set, so config
// file values survive untouched defaults.
func loadTrainConfig(cmd *cobra.Command) (appTrainer.ExperimentConfig, error) {
	config, err := appTrainer.LoadExperimentConfig(resolveConfigPath(trainConfigPath))
	if err != nil {
		return config, err
	}

	if cmd.Flags().Changed("name") {
		config.Name = trainName
	}
	if cmd.Flags().Changed("epochs") {
		config.Epochs = trainEpochs
	}
	if cmd.Flags().Changed("batch-size") {
		config.BatchSize = trainBatchSize
	}
	if cmd.Flags().Changed("tasks") {
		config.Data.Tasks = trainTasks
	}
	if cmd.Flags().Changed("seed") {
		config.Data.Seed = trainSeed
	}
	if cmd.Flags().Changed("lambda") {
		config.Trainer.CTDR.LambdaReg = trainLambda
	}
	if cmd.Flags().Changed("store") {
		config.Store.Backend = trainStore
	}
	if cmd.Flags().Changed("db-path") {
		config.Store.DatabasePath = trainDBPath
	}

	// Overrides can invalidate a config that loaded cleanly.
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// resolveConfigPath picks the config file to load: an explicit flag
// wins, otherwise ~/.ctdr/config.yaml is used when it exists, otherwise
// the built-in defaults apply.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".ctdr", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func newRunLogger(quiet, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func outputRunReport(report *appTrainer.RunReport) error {
	if trainFormat == "json" {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("\nRun complete: %s (%s)\n\n", report.Name, report.RunID)
	printTaskResults(report.Results)

	fmt.Printf("\nAverage accuracy: %.4f\n", report.AvgAccuracy)
	fmt.Printf("Steps: %d  Examples: %d  Tasks: %d\n",
		report.Stats.TotalSteps, report.Stats.TotalExamples, report.Stats.CompletedTasks)
	fmt.Printf("Duration: %s\n", report.Duration.Round(time.Millisecond))
	return nil
}

// printTaskResults renders the per-task table. ACCURACY is the task's
// own held-out accuracy right after its boundary; RETAINED averages the
// accuracies over every task trained so far.
func printTaskResults(results []*domainExp.TaskResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tNAME\tSTEPS\tAVG LOSS\tPENALTY\tACCURACY\tRETAINED")
	fmt.Fprintln(w, strings.Repeat("-", 70))

	for _, res := range results {
		own := 0.0
		if res.TaskIndex < len(res.Accuracies) {
			own = res.Accuracies[res.TaskIndex]
		}
		retained := 0.0
		if len(res.Accuracies) > 0 {
			var sum float64
			for _, a := range res.Accuracies {
				sum += a
			}
			retained = sum / float64(len(res.Accuracies))
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n",
			res.TaskIndex, res.TaskName, res.Steps, res.AvgLoss, res.AvgPenalty, own, retained)
	}
	w.Flush()
}

func init() {
	TrainCmd.Flags().StringVarP(&trainConfigPath, "config", "c", "", "Path to a YAML or JSON config file")
	TrainCmd.Flags().StringVarP(&trainResumeID, "resume", "r", "", "Resume the run with this ID from its last committed boundary")
	TrainCmd.Flags().StringVar(&trainName, "name", "", "Run name (overrides config)")
	TrainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Epochs per task (overrides config)")
	TrainCmd.Flags().IntVar(&trainBatchSize, "batch-size", 0, "Training batch size, 0 for full-batch (overrides config)")
	TrainCmd.Flags().IntVar(&trainTasks, "tasks", 0, "Number of tasks in the sequence (overrides config)")
	TrainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Data generation seed (overrides config)")
	TrainCmd.Flags().Float64Var(&trainLambda, "lambda", 0, "Anchoring strength lambda (overrides config)")
	TrainCmd.Flags().StringVar(&trainStore, "store", "", "Run store backend: memory, sqlite, or postgres (overrides config)")
	TrainCmd.Flags().StringVar(&trainDBPath, "db-path", "", "SQLite database path (overrides config)")
	TrainCmd.Flags().StringVar(&trainFormat, "format", "table", "Report format: table or json")
	TrainCmd.Flags().BoolVarP(&trainQuiet, "quiet", "q", false, "Only log warnings and errors")
	TrainCmd.Flags().BoolVarP(&trainVerbose, "verbose", "v", false, "Log batch-level detail")
}
