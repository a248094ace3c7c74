package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/extract"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
)

// ErrNilStore is returned when attempting to create an indexer without a store.
var ErrNilStore = errors.New("page store is required")

var errClosed = bserrors.IndexIOError("indexer is closed", nil)

// maxDefaultWorkers caps the default worker count.
const maxDefaultWorkers = 4

// Progress reports how far a run has come.
type Progress struct {
	FilesTotal int `json:"files_total"`
	FilesDone  int `json:"files_done"`
	Pages      int `json:"pages"`
	Failed     int `json:"failed"`
	// Current is the path of the file that just finished.
	Current string `json:"current,omitempty"`
}

// PDFIndexer indexes the PDF files linked from bibliography entries.
//
// PDFIndexer is safe for concurrent use. Write operations are serialized.
type PDFIndexer struct {
	store     store.PageIndex
	extractor extract.Extractor
	lc        *lifecycle.Lifecycle
	lock      *store.WriterLock
	workers   int
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	progress  func(Progress)

	mu     sync.Mutex
	closed bool
}

var _ Indexer = (*PDFIndexer)(nil)

// Option configures a PDFIndexer.
type Option func(*PDFIndexer)

// WithStore sets the page store. Required.
func WithStore(s store.PageIndex) Option {
	return func(i *PDFIndexer) {
		i.store = s
	}
}

// WithExtractor sets the text extractor. Defaults to extract.Default.
func WithExtractor(e extract.Extractor) Option {
	return func(i *PDFIndexer) {
		i.extractor = e
	}
}

// WithLifecycle shares a lifecycle with the searcher. Defaults to one
// restored from the store's build marker.
func WithLifecycle(l *lifecycle.Lifecycle) Option {
	return func(i *PDFIndexer) {
		i.lc = l
	}
}

// WithWriterLock sets the lock taken on the first write and released by
// Close. Defaults to an in-process lock.
func WithWriterLock(l *store.WriterLock) Option {
	return func(i *PDFIndexer) {
		i.lock = l
	}
}

// WithWorkers sets the number of files processed concurrently.
func WithWorkers(n int) Option {
	return func(i *PDFIndexer) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *PDFIndexer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics records indexing metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *PDFIndexer) {
		i.metrics = m
	}
}

// WithProgress registers a callback invoked after every file.
// It is called from worker goroutines, one call at a time.
func WithProgress(fn func(Progress)) Option {
	return func(i *PDFIndexer) {
		i.progress = fn
	}
}

// DefaultWorkers returns runtime.NumCPU() capped at 4.
func DefaultWorkers() int {
	return min(runtime.NumCPU(), maxDefaultWorkers)
}

// New creates an indexer with the given options.
//
// Returns ErrNilStore if no store is provided.
func New(opts ...Option) (*PDFIndexer, error) {
	i := &PDFIndexer{
		workers: DefaultWorkers(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.store == nil {
		return nil, ErrNilStore
	}
	if i.extractor == nil {
		i.extractor = extract.Default(extract.DefaultBudget())
	}
	if i.lock == nil {
		i.lock = store.NewWriterLock("")
	}
	if i.lc == nil {
		built, err := i.store.Built(context.Background())
		if err != nil {
			return nil, fmt.Errorf("read build marker: %w", err)
		}
		i.lc = lifecycle.New(built)
	}
	return i, nil
}

// Lifecycle returns the lifecycle the indexer drives.
func (i *PDFIndexer) Lifecycle() *lifecycle.Lifecycle { return i.lc }

// job is one (entry, file) pair to index.
type job struct {
	entry bib.Entry
	file  bib.LinkedFile
	path  string
}

func (j job) unit() store.Unit {
	return store.Unit{EntryKey: j.entry.Key, File: j.path}
}

func (j job) failure(err error) FileFailure {
	return FileFailure{EntryKey: j.entry.Key, Link: j.file.Link, Path: j.path, Err: err}
}

// CreateIndex implements Indexer.
func (i *PDFIndexer) CreateIndex(ctx context.Context, db bib.Database, resolver bib.Resolver) (*Report, error) {
	if db == nil {
		return nil, bserrors.InvalidArgument("database is required")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.beginWrite(ctx); err != nil {
		return nil, err
	}
	if err := i.lc.BeginBuild(); err != nil {
		return nil, err
	}

	start := time.Now()
	entries := db.Entries()
	i.logger.Info("index_started",
		slog.String("mode", "rebuild"),
		slog.Int("entries", len(entries)),
		slog.Int("workers", i.workers))

	rep, wanted, err := i.run(ctx, entries, resolver)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		rep.Duration = time.Since(start)
		i.lc.Finish(false, err)
		return rep, i.runError("rebuild", rep, err)
	}

	purged, err := i.purgeStale(ctx, wanted)
	if err != nil {
		rep.Duration = time.Since(start)
		i.lc.Finish(false, err)
		return rep, fmt.Errorf("purge stale pages: %w", err)
	}
	rep.Purged = purged

	if err := i.store.SetBuilt(ctx, true); err != nil {
		rep.Duration = time.Since(start)
		i.lc.Finish(false, err)
		return rep, fmt.Errorf("mark index built: %w", err)
	}
	if err := i.store.Flush(ctx); err != nil {
		rep.Duration = time.Since(start)
		i.lc.Finish(false, err)
		return rep, fmt.Errorf("flush index: %w", err)
	}

	rep.Duration = time.Since(start)
	i.lc.Finish(true, nil)
	i.logCompleted("rebuild", rep)
	return rep, nil
}

// AddToIndex implements Indexer.
func (i *PDFIndexer) AddToIndex(ctx context.Context, entries []bib.Entry, resolver bib.Resolver) (*Report, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.beginWrite(ctx); err != nil {
		return nil, err
	}
	if err := i.lc.BeginUpdate(); err != nil {
		return nil, err
	}

	start := time.Now()
	rep, _, err := i.run(ctx, entries, resolver)
	if err == nil {
		err = ctx.Err()
	}
	rep.Duration = time.Since(start)
	if err != nil {
		i.lc.Finish(false, err)
		return rep, i.runError("add", rep, err)
	}

	i.lc.Finish(true, nil)
	i.logCompleted("add", rep)
	return rep, nil
}

// RemoveFromIndex implements Indexer.
func (i *PDFIndexer) RemoveFromIndex(ctx context.Context, entries []bib.Entry) (int, error) {
	return i.RemoveKeys(ctx, bib.Keys(entries))
}

// RemoveKeys deletes every page owned by keys. The empty key addresses
// keyless entries.
func (i *PDFIndexer) RemoveKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.beginWrite(ctx); err != nil {
		return 0, err
	}
	if err := i.lc.BeginUpdate(); err != nil {
		return 0, err
	}

	n, err := i.store.DeleteEntries(ctx, keys)
	i.lc.Finish(err == nil, err)
	if err != nil {
		return 0, fmt.Errorf("remove entries: %w", err)
	}

	i.logger.Info("entries_removed",
		slog.Int("keys", len(keys)),
		slog.Int("pages", n))
	return n, nil
}

// Flush implements Indexer.
func (i *PDFIndexer) Flush(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return errClosed
	}
	if err := i.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

// Close implements Indexer.
func (i *PDFIndexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	var errs []error
	if i.lock.Held() {
		if err := i.store.Flush(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flush index: %w", err))
		}
	}
	if err := i.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	i.lc.Close()
	return errors.Join(errs...)
}

// beginWrite takes the writer lock on the first write of the session.
func (i *PDFIndexer) beginWrite(ctx context.Context) error {
	if i.closed {
		return errClosed
	}
	if i.lock.Held() {
		return nil
	}
	if err := i.lock.Acquire(ctx, bserrors.DefaultRetryConfig()); err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	return nil
}

// run indexes every PDF of entries on the worker pool. It returns the
// report, the units written, and the first store error.
func (i *PDFIndexer) run(ctx context.Context, entries []bib.Entry, resolver bib.Resolver) (*Report, map[store.Unit]struct{}, error) {
	rep := &Report{}
	wanted := make(map[store.Unit]struct{})

	jobs, unresolved := planJobs(entries, resolver)
	rep.Files = len(jobs) + len(unresolved)

	var mu sync.Mutex
	done := 0
	record := func(j job, pages int, failure *FileFailure) {
		mu.Lock()
		defer mu.Unlock()

		done++
		if failure != nil {
			rep.Failures = append(rep.Failures, *failure)
			i.metrics.ExtractionFailed(bserrors.GetCode(failure.Err))
			i.logger.Warn("file_index_failed",
				slog.String("entry", j.entry.Key),
				slog.String("entry_type", j.entry.Type),
				slog.String("link", j.file.Link),
				slog.String("path", j.path),
				slog.String("error", failure.Err.Error()))
		} else {
			rep.Indexed++
			rep.Pages += pages
			wanted[j.unit()] = struct{}{}
			i.metrics.AddPages(pages)
		}
		if i.progress != nil {
			i.progress(Progress{
				FilesTotal: rep.Files,
				FilesDone:  done,
				Pages:      rep.Pages,
				Failed:     len(rep.Failures),
				Current:    j.path,
			})
		}
	}

	for _, j := range unresolved {
		err := bserrors.New(bserrors.ErrCodeFileNotFound,
			"linked file not found: "+j.file.Link, nil).WithDetail("link", j.file.Link)
		f := j.failure(err)
		record(j, 0, &f)
	}

	turns := newCommitTurns(len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for k, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer turns.done(k)
			if gctx.Err() != nil {
				return nil
			}
			pages, failure, err := i.indexFile(gctx, j, func() { turns.wait(k) })
			if err != nil {
				return err
			}
			if pages < 0 {
				return nil
			}
			record(j, pages, failure)
			return nil
		})
	}
	err := g.Wait()
	return rep, wanted, err
}

// commitTurns orders unit commits by plan position. Extraction runs in
// parallel, but job k commits only after every job before it has committed
// or given up, so insertion sequence follows entry order, then file order.
type commitTurns []chan struct{}

func newCommitTurns(n int) commitTurns {
	t := make(commitTurns, n)
	for k := range t {
		t[k] = make(chan struct{})
	}
	return t
}

// wait blocks until job k may commit.
func (t commitTurns) wait(k int) {
	if k > 0 {
		<-t[k-1]
	}
}

// done hands the turn on from job k. It must run exactly once per started
// job, whether or not the job committed.
func (t commitTurns) done(k int) {
	t.wait(k)
	close(t[k])
}

// indexFile extracts one file and replaces its unit once its commit turn
// comes up. A per-file problem is returned as a failure; only store errors
// are returned as err. pages is -1 when the file was skipped because ctx
// is done.
func (i *PDFIndexer) indexFile(ctx context.Context, j job, turn func()) (int, *FileFailure, error) {
	doc, err := i.extractor.Extract(ctx, j.path)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return -1, nil, nil
		}
		f := j.failure(err)
		return 0, &f, nil
	}
	if doc.Meta.Truncated {
		i.logger.Warn("file_truncated",
			slog.String("path", j.path),
			slog.Int("page_count", doc.Meta.PageCount),
			slog.Int("indexed_pages", len(doc.Pages)))
	}

	pages := make([]store.Page, 0, len(doc.Pages))
	for n, text := range doc.Pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, store.Page{
			EntryKey: j.entry.Key,
			File:     j.path,
			Number:   n + 1,
			Text:     text,
		})
	}

	// A file whose extraction finished is committed even if ctx is done.
	turn()
	if err := i.store.Replace(context.WithoutCancel(ctx), j.unit(), pages); err != nil {
		return 0, nil, fmt.Errorf("replace %s: %w", j.path, err)
	}
	i.logger.Debug("file_indexed",
		slog.String("entry", j.entry.Key),
		slog.String("path", j.path),
		slog.Int("pages", len(pages)))
	return len(pages), nil, nil
}

// planJobs resolves every PDF link. Links resolving to an already planned
// unit are indexed once.
func planJobs(entries []bib.Entry, resolver bib.Resolver) (jobs, unresolved []job) {
	seen := make(map[store.Unit]struct{})
	for _, e := range entries {
		for _, f := range e.PDFs() {
			path, ok := bib.ResolveFirst(resolver, f)
			j := job{entry: e, file: f, path: path}
			if !ok {
				unresolved = append(unresolved, j)
				continue
			}
			if _, dup := seen[j.unit()]; dup {
				continue
			}
			seen[j.unit()] = struct{}{}
			jobs = append(jobs, j)
		}
	}
	return jobs, unresolved
}

// purgeStale removes units in the store that this rebuild did not write.
func (i *PDFIndexer) purgeStale(ctx context.Context, wanted map[store.Unit]struct{}) (int, error) {
	units, err := i.store.Units(ctx)
	if err != nil {
		return 0, err
	}
	var stale []store.Unit
	for _, u := range units {
		if _, ok := wanted[u]; !ok {
			stale = append(stale, u)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := i.store.DeleteUnits(ctx, stale); err != nil {
		return 0, err
	}
	i.logger.Info("stale_units_purged", slog.Int("units", len(stale)))
	return len(stale), nil
}

func (i *PDFIndexer) runError(mode string, rep *Report, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		i.logger.Warn("index_cancelled",
			slog.String("mode", mode),
			slog.Int("indexed", rep.Indexed),
			slog.Int("files", rep.Files))
		return fmt.Errorf("index %s cancelled after %d of %d files: %w", mode, rep.Indexed, rep.Files, err)
	}
	i.logger.Error("index_failed",
		slog.String("mode", mode),
		slog.String("error", err.Error()))
	return fmt.Errorf("index %s: %w", mode, err)
}

func (i *PDFIndexer) logCompleted(mode string, rep *Report) {
	i.logger.Info("index_completed",
		slog.String("mode", mode),
		slog.Int("files", rep.Files),
		slog.Int("indexed", rep.Indexed),
		slog.Int("pages", rep.Pages),
		slog.Int("purged", rep.Purged),
		slog.Int("failed", len(rep.Failures)),
		slog.Duration("duration", rep.Duration))
}
