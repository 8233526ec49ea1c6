package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jinbowang1/ctdr-go/internal/application/utility"
)

// Doctor command flags
var (
	doctorFix       bool
	doctorComponent string
	doctorFormat    string
)

// Version is set at build time
var Version = "0.2.0"

// DoctorCmd is the doctor command for installation diagnostics.
var DoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run installation diagnostics",
	Long: `Run diagnostics to check the health of your ctdr installation.

The doctor command checks:
  - Version
  - Go runtime version
  - Configuration file validity
  - Environment variable overrides
  - Run database
  - Background training runs
  - Disk space
  - The training stack itself, with a one-task smoke run

Use --fix to see suggested fixes for any issues found.
Use --component to check a specific component only.`,
	Example: `  # Run all diagnostic checks
  ctdr doctor

  # Show fix suggestions
  ctdr doctor --fix

  # Check specific component
  ctdr doctor --component config

  # Output as JSON
  ctdr doctor --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service := utility.NewDoctorService(Version)

		if doctorComponent != "" {
			// Run single check
			result, err := service.RunCheck(doctorComponent)
			if err != nil {
				return err
			}

			if doctorFormat == "json" {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				icon := getCheckIcon(result.Status)
				fmt.Printf("%s %s: %s\n", icon, result.Name, result.Message)
				if doctorFix && result.Fix != "" && result.Status != utility.CheckStatusPass {
					fmt.Printf("  Fix: %s\n", result.Fix)
				}
			}

			return nil
		}

		// Run all checks
		report := service.RunAllChecks()

		if doctorFormat == "json" {
			output, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(output))
		} else {
			fmt.Print(utility.FormatReport(report, doctorFix))
		}

		// Return error if any checks failed
		if report.Summary.Failed > 0 {
			return fmt.Errorf("%d check(s) failed", report.Summary.Failed)
		}

		return nil
	},
}

// getCheckIcon returns an icon for the check status.
func getCheckIcon(status utility.CheckStatus) string {
	switch status {
	case utility.CheckStatusPass:
		return "[OK]"
	case utility.CheckStatusWarn:
		return "[WARN]"
	case utility.CheckStatusFail:
		return "[FAIL]"
	default:
		return "[?]"
	}
}

func init() {
	DoctorCmd.Flags().BoolVarP(&doctorFix, "fix", "f", false, "Show fix commands for issues")
	DoctorCmd.Flags().StringVar(&doctorComponent, "component", "", "Check specific component (version|go|config|env|store|background|disk|stack)")
	DoctorCmd.Flags().StringVar(&doctorFormat, "format", "text", "Output format (text|json)")
}
