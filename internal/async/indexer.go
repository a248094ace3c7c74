package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/index"
)

// pendingMarker is written before a build starts and removed when it
// finishes, so an interrupted build can be detected on the next start.
const pendingMarker = "rebuild.pending"

// IndexFunc is the work run in the background.
type IndexFunc func(ctx context.Context, progress *IndexProgress) error

// IndexerConfig configures the BackgroundIndexer.
type IndexerConfig struct {
	// DataDir holds the pending marker. Empty disables the marker.
	DataDir string
	Logger  *slog.Logger
}

// BackgroundIndexer runs one build in a goroutine with progress tracking.
// It is single use: Start after completion is a no-op.
type BackgroundIndexer struct {
	config   IndexerConfig
	progress *IndexProgress

	// IndexFunc is the build to run.
	IndexFunc IndexFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundIndexer creates a background indexer.
func NewBackgroundIndexer(cfg IndexerConfig) *BackgroundIndexer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BackgroundIndexer{
		config:   cfg,
		progress: NewIndexProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RebuildFunc returns an IndexFunc that loads the library at libraryPath
// and rebuilds svc from it.
func RebuildFunc(svc *index.Service, libraryPath string) IndexFunc {
	return func(ctx context.Context, progress *IndexProgress) error {
		progress.SetStage(StageLoading)
		lib, err := bib.LoadLibrary(libraryPath)
		if err != nil {
			return err
		}

		svc.OnProgress(progress.Observe)
		defer svc.OnProgress(nil)

		progress.SetStage(StageExtracting)
		// Per-file failures are in the report; the index is still usable.
		_, err = svc.Rebuild(ctx, lib, lib.Resolver())
		return err
	}
}

// Progress returns the progress tracker.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning returns true while the build goroutine is active.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the build in a background goroutine and returns
// immediately. Use Wait to block until completion.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.config.DataDir != "" {
		if err := writeMarker(b.config.DataDir); err != nil {
			b.fail(err)
			return
		}
	}

	start := time.Now()
	if b.IndexFunc != nil {
		if err := b.IndexFunc(ctx, b.progress); err != nil {
			b.fail(err)
			return
		}
	}

	// The marker only survives a build that did not finish.
	if b.config.DataDir != "" {
		_ = os.Remove(filepath.Join(b.config.DataDir, pendingMarker))
	}

	b.progress.SetReady()
	snap := b.progress.Snapshot()
	b.config.Logger.Info("background_index_completed",
		slog.Int("files", snap.FilesProcessed),
		slog.Int("pages", snap.PagesIndexed),
		slog.Int("failed", snap.FilesFailed),
		slog.Duration("duration", time.Since(start)))
}

func (b *BackgroundIndexer) fail(err error) {
	b.progress.SetError(err.Error())
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.config.Logger.Error("background_index_failed", slog.String("error", err.Error()))
}

// Stop cancels the build and waits for it to finish.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the build completes and returns its error.
// It returns nil immediately if Start was never called.
func (b *BackgroundIndexer) Wait() error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return nil
	}

	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasPendingBuild reports whether a previous build in dataDir was
// interrupted before it finished.
func HasPendingBuild(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, pendingMarker))
	return err == nil
}

func writeMarker(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, pendingMarker),
		[]byte(time.Now().Format(time.RFC3339)), 0644)
}
