package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/ui"
	"github.com/Aman-CERP/bibsearch/pkg/indexer"
)

type indexOptions struct {
	library string
	backend string
	workers int
	noTUI   bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the PDF index from the library",
		Long: `Rebuild the full-text index from every PDF linked in the library manifest.

Files that cannot be found or extracted are reported and skipped; the
index is still built from the rest. Pages of entries no longer in the
library are purged.

Backend Selection:
  (default)          Reuse the existing index backend, SQLite for a new index
  --backend=sqlite   SQLite FTS5
  --backend=bleve    Bleve`,
		Example: `  bibsearch index
  bibsearch index --library ~/papers/bibsearch.yaml --workers 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.library, "library", "", "Library manifest (default from config, bibsearch.yaml)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Index backend: sqlite or bleve")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Parallel extraction workers (default from config)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	libraryPath := opts.library
	if libraryPath == "" {
		libraryPath = cfg.Library.Path
	}
	lib, err := bib.LoadLibrary(libraryPath)
	if err != nil {
		return err
	}

	svc, err := openIndex(ctx, cfg, openOptions{backend: opts.backend, workers: opts.workers})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	title, _ := filepath.Abs(libraryPath)
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithTitle(title)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StagePlanning,
		Message: fmt.Sprintf("%d entries", len(lib.Entries())),
	})
	svc.OnProgress(func(p indexer.Progress) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageExtracting,
			Current:     p.FilesDone,
			Total:       p.FilesTotal,
			Pages:       p.Pages,
			CurrentFile: p.Current,
		})
	})

	rep, err := svc.Rebuild(ctx, lib, lib.Resolver())
	if rep != nil {
		for _, f := range rep.Failures {
			renderer.AddError(ui.ErrorEvent{File: failureFile(f), Err: f.Err, IsWarn: true})
		}
	}
	if err != nil {
		return err
	}

	st, _ := svc.Status(ctx)
	backend := string(store.BackendSQLite)
	if st != nil {
		backend = string(st.Backend)
	}
	renderer.Complete(completionStats(rep, backend))
	return nil
}

func failureFile(f indexer.FileFailure) string {
	if f.Path != "" {
		return f.Path
	}
	return f.Link
}

func completionStats(rep *indexer.Report, backend string) ui.CompletionStats {
	return ui.CompletionStats{
		Files:    rep.Files,
		Indexed:  rep.Indexed,
		Pages:    rep.Pages,
		Purged:   rep.Purged,
		Failures: rep.Failed(),
		Duration: rep.Duration,
		Backend:  backend,
	}
}
