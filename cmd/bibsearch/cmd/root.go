// Package cmd provides the CLI commands for bibsearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/bibsearch/internal/config"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/logging"
	"github.com/Aman-CERP/bibsearch/internal/profiling"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/version"
)

// Persistent flags
var (
	debugMode      bool
	indexDirFlag   string
	loggingCleanup func()

	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the bibsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bibsearch",
		Short: "Full-text search over the PDF attachments of a bibliography",
		Long: `bibsearch extracts the text of every PDF linked from a bibliography
library, indexes it page by page and answers full-text queries with the
citation key, file and page of each match.

Start with 'bibsearch index' next to a bibsearch.yaml library manifest,
then 'bibsearch search "query"'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("bibsearch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.bibsearch/logs/")
	cmd.PersistentFlags().StringVar(&indexDirFlag, "index-dir", "", "Index directory (default ~/.bibsearch/index)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging sends the default logger to the log file and
// starts any requested profiles. Stdout stays clean for command output and
// the MCP protocol.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = s
	}

	level := "info"
	if debugMode {
		level = "debug"
	} else if env := os.Getenv("BIBSEARCH_LOG_LEVEL"); env != "" {
		level = env
	}

	cleanup, err := logging.SetupDefault(logging.ServeConfig(level))
	if err != nil {
		// Logging is not critical for the CLI.
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profileSession != nil {
		if err := profileSession.Stop(); err != nil {
			slog.Warn("failed to write profiles", slog.String("error", err.Error()))
		}
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err == nil {
		return nil
	}
	if _, ok := bserrors.As(err); ok {
		fmt.Fprint(os.Stderr, bserrors.FormatForCLI(err))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// loadConfig returns the effective configuration for the working
// directory with the --index-dir override applied.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if indexDirFlag != "" {
		cfg.Index.Dir = indexDirFlag
	}
	return cfg, nil
}

type openOptions struct {
	backend string
	workers int
	metrics *telemetry.Metrics
}

func openIndex(ctx context.Context, cfg *config.Config, opts openOptions) (*index.Service, error) {
	return index.Open(ctx, index.Options{
		Dir:     cfg.IndexDir(),
		Config:  cfg,
		Backend: opts.backend,
		Workers: opts.workers,
		Logger:  slog.Default(),
		Metrics: opts.metrics,
	})
}
