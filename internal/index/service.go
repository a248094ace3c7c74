// Package index wires the page store, writer lock, lifecycle, indexer and
// searcher into one Service used by the CLI and the MCP server.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/bibsearch/internal/analysis"
	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/config"
	"github.com/Aman-CERP/bibsearch/internal/extract"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/indexer"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// Options configures Open.
type Options struct {
	// Dir is the index directory. Empty uses Config.IndexDir(). Use
	// InMemory for a throwaway index.
	Dir string

	// InMemory keeps the index in memory. Dir is ignored.
	InMemory bool

	// Config is the effective configuration (required).
	Config *config.Config

	// Backend overrides Config.Index.Backend.
	Backend string

	// Workers overrides Config.Index.Workers when positive.
	Workers int

	// Extractor overrides the default PDF extractor chain.
	Extractor extract.Extractor

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Status describes the service for `bibsearch status` and the MCP
// index_status tool.
type Status struct {
	State       lifecycle.State   `json:"state"`
	Backend     store.Backend     `json:"backend"`
	Dir         string            `json:"dir"`
	Documents   int               `json:"documents"`
	Pages       int               `json:"pages"`
	SizeBytes   int64             `json:"size_bytes"`
	Built       bool              `json:"built"`
	LastIndexed time.Time         `json:"last_indexed,omitzero"`
	LastError   string            `json:"last_error,omitempty"`
	LastReport  *indexer.Report   `json:"last_report,omitempty"`
	Progress    *indexer.Progress `json:"progress,omitempty"`
}

// Service owns one open index.
//
// A Service is safe for concurrent use. Writes are serialized by the
// indexer; searches run concurrently with them.
type Service struct {
	dir      string
	store    store.PageIndex
	lock     *store.WriterLock
	lc       *lifecycle.Lifecycle
	indexer  *indexer.PDFIndexer
	searcher *searcher.PageSearcher
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu          sync.Mutex
	lastReport  *indexer.Report
	lastIndexed time.Time
	progress    *indexer.Progress
	onProgress  func(indexer.Progress)
	closed      bool
}

// Open opens (or creates) the index described by opts.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendName := cfg.Index.Backend
	if opts.Backend != "" {
		backendName = opts.Backend
	}
	backend, err := store.ParseBackend(backendName)
	if err != nil {
		return nil, err
	}

	dir := ""
	if !opts.InMemory {
		dir = opts.Dir
		if dir == "" {
			dir = cfg.IndexDir()
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	ps, err := store.Open(dir, store.Config{
		Backend:  backend,
		Analysis: analysis.Options{Stemming: cfg.Search.Stemming},
	})
	if err != nil {
		return nil, fmt.Errorf("open page index: %w", err)
	}

	built, err := ps.Built(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("read build marker: %w", err)
	}

	s := &Service{
		dir:     dir,
		store:   ps,
		lock:    store.NewWriterLock(dir),
		lc:      lifecycle.New(built),
		logger:  logger,
		metrics: opts.Metrics,
	}
	s.metrics.SetIndexState(string(s.lc.State()))
	s.lc.OnChange(func(from, to lifecycle.State) {
		s.metrics.SetIndexState(string(to))
		logger.Debug("index_state_changed",
			slog.String("from", string(from)),
			slog.String("to", string(to)))
	})

	ext := opts.Extractor
	if ext == nil {
		ext = extract.Default(extract.Budget{
			MaxPages: cfg.Index.MaxPages,
			Timeout:  cfg.ExtractTimeoutDuration(),
		})
	}
	workers := cfg.Index.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	s.indexer, err = indexer.New(
		indexer.WithStore(ps),
		indexer.WithExtractor(ext),
		indexer.WithLifecycle(s.lc),
		indexer.WithWriterLock(s.lock),
		indexer.WithWorkers(workers),
		indexer.WithLogger(logger),
		indexer.WithMetrics(opts.Metrics),
		indexer.WithProgress(s.recordProgress),
	)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("create indexer: %w", err)
	}

	s.searcher, err = searcher.New(
		searcher.WithStore(ps),
		searcher.WithLifecycle(s.lc),
		searcher.WithCacheSize(cfg.Search.CacheSize),
		searcher.WithSnippetLength(cfg.Search.SnippetLength),
		searcher.WithMetrics(opts.Metrics),
		searcher.WithLogger(logger),
	)
	if err != nil {
		_ = s.indexer.Close()
		_ = ps.Close()
		return nil, fmt.Errorf("create searcher: %w", err)
	}

	logger.Info("index_opened",
		slog.String("dir", dir),
		slog.String("backend", string(ps.Stats().Backend)),
		slog.String("state", string(s.lc.State())))
	return s, nil
}

// OnProgress sets the callback for indexing progress. Pass nil to clear.
func (s *Service) OnProgress(fn func(indexer.Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

func (s *Service) recordProgress(p indexer.Progress) {
	s.mu.Lock()
	s.progress = &p
	fn := s.onProgress
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// Rebuild indexes every PDF of db and purges pages of files no longer
// linked. The returned report is non-nil whenever indexing started.
func (s *Service) Rebuild(ctx context.Context, db bib.Database, resolver bib.Resolver) (*indexer.Report, error) {
	s.resetProgress()
	rep, err := s.indexer.CreateIndex(ctx, db, resolver)
	s.finishRun(rep, err)
	return rep, err
}

// Add indexes the PDFs of entries into a built index.
func (s *Service) Add(ctx context.Context, entries []bib.Entry, resolver bib.Resolver) (*indexer.Report, error) {
	s.resetProgress()
	rep, err := s.indexer.AddToIndex(ctx, entries, resolver)
	s.finishRun(rep, err)
	return rep, err
}

// Remove deletes every page owned by keys and returns the pages removed.
func (s *Service) Remove(ctx context.Context, keys []string) (int, error) {
	return s.indexer.RemoveKeys(ctx, keys)
}

// Search runs req against the index.
func (s *Service) Search(ctx context.Context, req searcher.Request) (*searcher.Results, error) {
	return s.searcher.Do(ctx, req)
}

// Lifecycle returns the index lifecycle.
func (s *Service) Lifecycle() *lifecycle.Lifecycle { return s.lc }

// Status reports the current state and counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	if err := s.lc.Refresh(func() (bool, error) { return s.store.Built(ctx) }); err != nil {
		return nil, fmt.Errorf("read build marker: %w", err)
	}
	snap := s.lc.Snapshot()
	stats := s.store.Stats()

	st := &Status{
		State:     snap.State,
		Backend:   stats.Backend,
		Dir:       s.dir,
		Built:     snap.Built,
		LastError: snap.LastError,
	}

	s.mu.Lock()
	st.LastReport = s.lastReport
	st.LastIndexed = s.lastIndexed
	if s.progress != nil && (snap.State == lifecycle.StateBuilding || snap.State == lifecycle.StateUpdating) {
		p := *s.progress
		st.Progress = &p
	}
	s.mu.Unlock()

	if snap.State == lifecycle.StateClosed {
		return st, nil
	}

	pages, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	st.Pages = pages
	st.Documents = stats.UnitCount

	if stats.Path != "" {
		st.SizeBytes = diskUsage(stats.Path)
		if st.LastIndexed.IsZero() && snap.Built {
			if info, err := os.Stat(stats.Path); err == nil {
				st.LastIndexed = info.ModTime()
			}
		}
	}
	return st, nil
}

// Close flushes, releases the writer lock and closes the store.
// Idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.indexer.Close(); err != nil {
		errs = append(errs, err)
	}
	s.searcher.Purge()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page index: %w", err))
	}
	s.logger.Info("index_closed", slog.String("dir", s.dir))
	return errors.Join(errs...)
}

func (s *Service) resetProgress() {
	s.mu.Lock()
	s.progress = nil
	s.mu.Unlock()
}

func (s *Service) finishRun(rep *indexer.Report, err error) {
	if rep == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = rep
	if err == nil {
		s.lastIndexed = time.Now()
	}
}

// diskUsage sums file sizes under path, which may be a file or a directory.
func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
