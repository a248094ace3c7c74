package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/preflight"
)

type doctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		library    string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose issues",
		Long: `Run diagnostics before indexing:
  - Index directory is writable with 100MB free
  - File descriptor limit (1024 minimum)
  - No other process holds the writer lock
  - Library manifest loads and its PDFs resolve

Unresolved PDFs and a held lock are warnings; the rest must pass.`,
		Example: `  bibsearch doctor
  bibsearch doctor --verbose
  bibsearch doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if library == "" {
				library = cfg.Library.Path
			}

			checker := preflight.New(
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(ctx, preflight.Target{
				IndexDir:    cfg.IndexDir(),
				LibraryPath: library,
			})

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(doctorOutput{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return bserrors.New(bserrors.ErrCodeConfigInvalid, "system check failed", nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&library, "library", "", "Library manifest (default from config)")

	return cmd
}
