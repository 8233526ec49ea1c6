package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinbowang1/ctdr-go/internal/application/utility"
)

// Background command flags
var (
	backgroundConfigPath string
	backgroundResumeID   string
	backgroundVerbose    bool
	backgroundFollow     bool
	backgroundLines      int
)

// BackgroundCmd is the parent command for detached training runs.
var BackgroundCmd = &cobra.Command{
	Use:     "background",
	Aliases: []string{"bg"},
	Short:   "Manage detached training runs",
	Long: `Commands for running training detached from the terminal.

A detached run re-executes ctdr train in its own session with output
redirected to a log file, so it survives the terminal closing. One
detached run is tracked at a time.`,
}

// backgroundStartCmd launches a detached training run
var backgroundStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a detached training run",
	Long:  `Start ctdr train in the background, detached from the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := utility.NewLaunchService()
		if err != nil {
			return err
		}

		trainArgs := []string{"train"}
		if backgroundConfigPath != "" {
			trainArgs = append(trainArgs, "--config", backgroundConfigPath)
		}
		if backgroundResumeID != "" {
			trainArgs = append(trainArgs, "--resume", backgroundResumeID)
		}

		pid, err := service.Launch(trainArgs...)
		if err != nil {
			return err
		}

		fmt.Printf("Training started in background (PID %d)\n", pid)
		fmt.Printf("Log file: %s\n", service.LogPath())
		return nil
	},
}

// backgroundStopCmd stops the detached run
var backgroundStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the detached training run",
	Long:  `Stop the currently tracked detached training run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := utility.NewLaunchService()
		if err != nil {
			return err
		}

		if err := service.Stop(); err != nil {
			return err
		}

		fmt.Println("Background training stopped")
		return nil
	},
}

// backgroundStatusCmd shows the detached run's status
var backgroundStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show detached run status",
	Long:  `Show whether a detached training run is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := utility.NewLaunchService()
		if err != nil {
			return err
		}

		state, err := service.Status()
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("format") {
			output, _ := json.MarshalIndent(state, "", "  ")
			fmt.Println(string(output))
		} else {
			fmt.Print(utility.FormatLaunchState(state, backgroundVerbose))
		}

		return nil
	},
}

// backgroundLogsCmd shows the detached run's logs
var backgroundLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View detached run logs",
	Long:  `View the detached training run's log file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := utility.NewLaunchService()
		if err != nil {
			return err
		}

		if backgroundFollow {
			return service.TailLogs(os.Stdout, true)
		}

		lines, err := service.GetLogs(backgroundLines)
		if err != nil {
			return err
		}

		if len(lines) == 0 {
			fmt.Println("No log entries found")
			return nil
		}

		for _, line := range lines {
			fmt.Println(line)
		}

		return nil
	},
}

func init() {
	// Start command flags
	backgroundStartCmd.Flags().StringVarP(&backgroundConfigPath, "config", "c", "", "Config file for the detached run")
	backgroundStartCmd.Flags().StringVarP(&backgroundResumeID, "resume", "r", "", "Resume this run ID in the background")

	// Status command flags
	backgroundStatusCmd.Flags().BoolVarP(&backgroundVerbose, "verbose", "v", false, "Show file locations")
	backgroundStatusCmd.Flags().String("format", "text", "Output format (text|json)")

	// Logs command flags
	backgroundLogsCmd.Flags().BoolVarP(&backgroundFollow, "follow", "f", false, "Follow log output")
	backgroundLogsCmd.Flags().IntVarP(&backgroundLines, "lines", "n", 50, "Number of lines to show")

	// Add subcommands
	BackgroundCmd.AddCommand(backgroundStartCmd)
	BackgroundCmd.AddCommand(backgroundStopCmd)
	BackgroundCmd.AddCommand(backgroundStatusCmd)
	BackgroundCmd.AddCommand(backgroundLogsCmd)
}
