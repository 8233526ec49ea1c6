package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	appTrainer "github.com/jinbowang1/ctdr-go/internal/application/trainer"
	domainExp "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// Runs command flags
var (
	runsStoreBackend string
	runsDBPath       string
	runsListLimit    int
	runsListFormat   string
	runsShowID       string
	runsShowFormat   string
	runsDeleteID     string
)

// RunsCmd inspects and manages recorded training runs.
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded training runs",
	Long: `Browse the run store: list past runs, show one run's per-task
results and committed anchor, or delete a run and its records.

The store is the one the training config selects; --store and --db-path
point these commands somewhere else without touching the config.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(ctx, runsListLimit)
		if err != nil {
			return err
		}

		if runsListFormat == "json" {
			output, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Println(string(output))
			return nil
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTARTED\tDURATION")
		fmt.Fprintln(w, strings.Repeat("-", 90))

		for _, run := range runs {
			duration := "-"
			if run.CompletedAt != nil {
				duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				run.ID, run.Name, run.Status,
				run.StartedAt.Format("2006-01-02 15:04:05"), duration)
		}
		w.Flush()

		fmt.Printf("\nShowing %d run(s)\n", len(runs))
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one run's task results and anchor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsShowID == "" {
			return fmt.Errorf("--id is required")
		}

		ctx := context.Background()
		store, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, runsShowID)
		if err != nil {
			return err
		}
		results, err := store.ListTaskResults(ctx, runsShowID)
		if err != nil {
			return err
		}
		anchor, err := store.LatestAnchor(ctx, runsShowID)
		if err != nil && !errors.Is(err, domainExp.ErrAnchorNotFound) {
			return err
		}

		if runsShowFormat == "json" {
			output, _ := json.MarshalIndent(struct {
				Run     *domainExp.Run          `json:"run"`
				Results []*domainExp.TaskResult `json:"results"`
				Anchor  *domainExp.AnchorRecord `json:"anchor,omitempty"`
			}{run, results, anchor}, "", "  ")
			fmt.Println(string(output))
			return nil
		}

		fmt.Printf("Run: %s (%s)\n", run.Name, run.ID)
		fmt.Printf("Status: %s\n", run.Status)
		fmt.Printf("Started: %s\n", run.StartedAt.Format(time.RFC3339))
		if run.CompletedAt != nil {
			fmt.Printf("Completed: %s (%s)\n",
				run.CompletedAt.Format(time.RFC3339),
				run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
		}
		if run.Error != "" {
			fmt.Printf("Error: %s\n", run.Error)
		}

		if len(results) > 0 {
			fmt.Println()
			printTaskResults(results)
		}

		if anchor != nil {
			fmt.Printf("\nAnchor: %d boundaries committed, %d parameters, last at %s\n",
				anchor.TaskCount, len(anchor.Checkpoint),
				anchor.CommittedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a run and all its records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsDeleteID == "" {
			return fmt.Errorf("--id is required")
		}

		ctx := context.Background()
		store, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteRun(ctx, runsDeleteID); err != nil {
			return err
		}
		fmt.Printf("Run %s deleted\n", runsDeleteID)
		return nil
	},
}

// openRunStore opens the store the training config points at, with the
// runs flags taking precedence.
func openRunStore(ctx context.Context) (runstore.RunStore, error) {
	config, err := appTrainer.LoadExperimentConfig(resolveConfigPath(""))
	if err != nil {
		return nil, err
	}

	storeConfig := config.Store
	if runsStoreBackend != "" {
		storeConfig.Backend = runsStoreBackend
	}
	if runsDBPath != "" {
		storeConfig.DatabasePath = runsDBPath
	}

	store, err := runstore.New(ctx, storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, nil
}

func init() {
	RunsCmd.PersistentFlags().StringVar(&runsStoreBackend, "store", "", "Run store backend: memory, sqlite, or postgres")
	RunsCmd.PersistentFlags().StringVar(&runsDBPath, "db-path", "", "SQLite database path")

	runsListCmd.Flags().IntVarP(&runsListLimit, "limit", "l", 20, "Maximum runs to list, 0 for all")
	runsListCmd.Flags().StringVar(&runsListFormat, "format", "table", "Output format: table or json")

	runsShowCmd.Flags().StringVar(&runsShowID, "id", "", "Run ID (required)")
	runsShowCmd.Flags().StringVar(&runsShowFormat, "format", "table", "Output format: table or json")

	runsDeleteCmd.Flags().StringVar(&runsDeleteID, "id", "", "Run ID (required)")

	RunsCmd.AddCommand(runsListCmd)
	RunsCmd.AddCommand(runsShowCmd)
	RunsCmd.AddCommand(runsDeleteCmd)
}
