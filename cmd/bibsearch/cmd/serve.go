package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/bibsearch/internal/async"
	"github.com/Aman-CERP/bibsearch/internal/config"
	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/mcp"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
)

type serveOptions struct {
	library     string
	metricsAddr string
	reindex     bool
	noIndex     bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Run an MCP server on stdin/stdout exposing the search_pdfs and
index_status tools.

When the index has never been built, or a previous build was interrupted,
it is rebuilt in the background from the library manifest. Searches issued
meanwhile report indexing progress instead of results.

Nothing but JSON-RPC is written to stdout. Logs go to ~/.bibsearch/logs/.`,
		Example: `  bibsearch serve
  bibsearch serve --reindex --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.library, "library", "", "Library manifest (default from config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.reindex, "reindex", false, "Rebuild the index in the background on startup")
	cmd.Flags().BoolVar(&opts.noIndex, "no-index", false, "Never rebuild on startup")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(os.Stderr, "bibsearch serve speaks MCP on stdin/stdout; run it from an MCP client.")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.Server.MetricsAddr = opts.metricsAddr
	}

	metrics := telemetry.New()
	svc, err := openIndex(ctx, cfg, openOptions{metrics: metrics})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	srv, err := mcp.NewServer(svc,
		mcp.WithLogger(slog.Default()),
		mcp.WithDefaultLimit(cfg.Search.DefaultLimit),
	)
	if err != nil {
		return err
	}
	srv.SetMetrics(metrics)

	// The server returning on stdin EOF must also stop the metrics listener.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if bg := backgroundRebuild(ctx, cfg, svc, opts); bg != nil {
		srv.SetIndexProgress(bg.Progress())
		bg.Start(gctx)
		defer func() {
			bg.Stop()
			_ = bg.Wait()
		}()
	}

	if addr := cfg.Server.MetricsAddr; addr != "" {
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics_listening", slog.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		err := srv.Serve(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func metricsMux(m *telemetry.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// backgroundRebuild returns an indexer when the index needs building and a
// library manifest is available, nil otherwise.
func backgroundRebuild(ctx context.Context, cfg *config.Config, svc *index.Service, opts serveOptions) *async.BackgroundIndexer {
	if opts.noIndex {
		return nil
	}
	libraryPath := opts.library
	if libraryPath == "" {
		libraryPath = cfg.Library.Path
	}
	abs, err := filepath.Abs(libraryPath)
	if err != nil {
		return nil
	}
	if _, err := os.Stat(abs); err != nil {
		slog.Info("library_not_found", slog.String("path", abs))
		return nil
	}

	dir := cfg.IndexDir()
	needed := opts.reindex || async.HasPendingBuild(dir)
	if !needed {
		st, err := svc.Status(ctx)
		needed = err == nil && !st.Built
	}
	if !needed {
		return nil
	}

	bg := async.NewBackgroundIndexer(async.IndexerConfig{
		DataDir: dir,
		Logger:  slog.Default(),
	})
	bg.IndexFunc = async.RebuildFunc(svc, abs)
	return bg
}
