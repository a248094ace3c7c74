package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/logging"
	"github.com/Aman-CERP/bibsearch/internal/ui"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View bibsearch logs",
		Long: `View and tail the bibsearch log file (~/.bibsearch/logs/bibsearch.log).

By default the last 50 lines are shown. Use -f to follow new entries.`,
		Example: `  bibsearch logs -n 100
  bibsearch logs -f --level warn
  bibsearch logs --filter "extraction_failed"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter by pattern (regex)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return bserrors.InvalidArgument(fmt.Sprintf("invalid filter pattern: %v", err))
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || ui.DetectNoColor(),
	}, cmd.OutOrStdout())

	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Log file: %s\n", path)

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}
	_, _ = fmt.Fprintln(errOut, "Following... (Ctrl+C to stop)")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return followLogs(ctx, viewer, path)
}

func followLogs(ctx context.Context, viewer *logging.Viewer, path string) error {
	ch := make(chan logging.LogEntry, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, path, ch)
		close(ch)
	}()
	for e := range ch {
		viewer.Print([]logging.LogEntry{e})
	}
	return <-errCh
}
