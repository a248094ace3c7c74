package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/bibsearch/internal/analysis"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/query"
)

const (
	metaBuilt    = "built"
	metaAnalysis = "analysis"
	metaCommits  = "commits"
)

// SQLiteIndex is the SQLite FTS5 PageIndex backend.
//
// Page text is stored verbatim in pages; page_fts holds the analyzed terms
// of each page joined by spaces, keyed by the page's autoincrement seq, so
// FTS5 only ever sees tokens our analyzer produced.
//
// Every write transaction also bumps the commits counter in meta, which is
// the generation readers key their caches on. Because it is persisted, a
// commit from another process sharing the database invalidates this
// process's caches too.
type SQLiteIndex struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	analyzer *analysis.Analyzer
	lastGen  atomic.Uint64
	closed   bool
}

var _ PageIndex = (*SQLiteIndex)(nil)

// validateSQLiteIntegrity checks if a page database is valid before opening.
// Returns nil if valid or absent, an error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name IN ('pages', 'page_fts')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("page tables missing")
	}

	return nil
}

// NewSQLiteIndex opens or creates a SQLite page index at path.
// If path is empty, creates an in-memory index.
// A corrupted database is removed and recreated empty.
func NewSQLiteIndex(path string, cfg Config) (*SQLiteIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, bserrors.IndexIOError("failed to create index directory", err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, bserrors.New(bserrors.ErrCodeCorruptIndex,
					fmt.Sprintf("index corrupted at %s and cannot be removed", path), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("sqlite_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, bserrors.IndexIOError("failed to open database", err)
	}

	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params, so pragmas run as statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -32768",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, bserrors.IndexIOError("failed to set pragma", err)
		}
	}

	s := &SQLiteIndex{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, bserrors.IndexIOError("failed to initialize schema", err)
	}
	if err := s.loadAnalyzer(cfg.Analysis); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- seq doubles as the FTS rowid and the tie-break insertion order
	CREATE TABLE IF NOT EXISTS pages (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id    TEXT NOT NULL UNIQUE,
		unit_id   TEXT NOT NULL,
		entry_key TEXT NOT NULL,
		owner     TEXT NOT NULL,
		file      TEXT NOT NULL,
		page      INTEGER NOT NULL,
		text      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_unit ON pages(unit_id);
	CREATE INDEX IF NOT EXISTS idx_pages_owner ON pages(owner);

	CREATE VIRTUAL TABLE IF NOT EXISTS page_fts USING fts5(
		terms,
		tokenize='unicode61 remove_diacritics 0'
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadAnalyzer restores the analyzer options recorded in meta, recording
// opts on first open. A persisted setting wins over opts.
func (s *SQLiteIndex) loadAnalyzer(opts analysis.Options) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaAnalysis).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		data, _ := json.Marshal(opts)
		if _, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES (?, ?)`, metaAnalysis, string(data)); err != nil {
			return bserrors.IndexIOError("failed to write analyzer options", err)
		}
	case err != nil:
		return bserrors.IndexIOError("failed to read analyzer options", err)
	default:
		var stored analysis.Options
		if jerr := json.Unmarshal([]byte(raw), &stored); jerr == nil {
			if stored != opts {
				slog.Warn("sqlite_analyzer_options_mismatch",
					slog.Bool("stored_stemming", stored.Stemming),
					slog.Bool("config_stemming", opts.Stemming))
			}
			opts = stored
		}
	}

	a, err := analysis.New(opts)
	if err != nil {
		return bserrors.InternalError("failed to build analyzer", err)
	}
	s.analyzer = a
	return nil
}

// Replace implements PageIndex.
func (s *SQLiteIndex) Replace(ctx context.Context, unit Unit, pages []Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bserrors.IndexIOError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteUnitTx(ctx, tx, unit.ID()); err != nil {
		return err
	}

	pageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages(doc_id, unit_id, entry_key, owner, file, page, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return bserrors.IndexIOError("failed to prepare page statement", err)
	}
	defer pageStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO page_fts(rowid, terms) VALUES (?, ?)`)
	if err != nil {
		return bserrors.IndexIOError("failed to prepare FTS statement", err)
	}
	defer ftsStmt.Close()

	for _, p := range pages {
		res, err := pageStmt.ExecContext(ctx,
			p.ID(), unit.ID(), p.EntryKey, Owner(p.EntryKey), p.File, p.Number, p.Text)
		if err != nil {
			return bserrors.IndexIOError(fmt.Sprintf("failed to insert page %d of %s", p.Number, p.File), err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return bserrors.IndexIOError("failed to read page seq", err)
		}
		terms := strings.Join(s.analyzer.Terms(p.Text), " ")
		if _, err := ftsStmt.ExecContext(ctx, seq, terms); err != nil {
			return bserrors.IndexIOError(fmt.Sprintf("failed to index page %d of %s", p.Number, p.File), err)
		}
	}

	if err := bumpCommitsTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return bserrors.IndexIOError("failed to commit pages", err)
	}
	return nil
}

func deleteUnitTx(ctx context.Context, tx *sql.Tx, unitID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM page_fts WHERE rowid IN (SELECT seq FROM pages WHERE unit_id = ?)`, unitID); err != nil {
		return bserrors.IndexIOError("failed to delete FTS rows", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE unit_id = ?`, unitID); err != nil {
		return bserrors.IndexIOError("failed to delete pages", err)
	}
	return nil
}

func bumpCommitsTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1`, metaCommits); err != nil {
		return bserrors.IndexIOError("failed to record commit", err)
	}
	return nil
}

// DeleteUnits implements PageIndex.
func (s *SQLiteIndex) DeleteUnits(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bserrors.IndexIOError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range units {
		if err := deleteUnitTx(ctx, tx, u.ID()); err != nil {
			return err
		}
	}

	if err := bumpCommitsTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return bserrors.IndexIOError("failed to commit unit deletion", err)
	}
	return nil
}

// DeleteEntries implements PageIndex.
func (s *SQLiteIndex) DeleteEntries(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errClosed
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = Owner(k)
	}
	inClause := strings.Join(placeholders, ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, bserrors.IndexIOError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	ftsQuery := fmt.Sprintf(
		"DELETE FROM page_fts WHERE rowid IN (SELECT seq FROM pages WHERE owner IN (%s))", inClause)
	if _, err := tx.ExecContext(ctx, ftsQuery, args...); err != nil {
		return 0, bserrors.IndexIOError("failed to delete FTS rows", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM pages WHERE owner IN (%s)", inClause), args...)
	if err != nil {
		return 0, bserrors.IndexIOError("failed to delete pages", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, nil
	}

	if err := bumpCommitsTx(ctx, tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, bserrors.IndexIOError("failed to commit entry deletion", err)
	}
	return int(n), nil
}

// Units implements PageIndex.
func (s *SQLiteIndex) Units(ctx context.Context) ([]Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entry_key, file FROM pages ORDER BY entry_key, file`)
	if err != nil {
		return nil, bserrors.IndexIOError("failed to list units", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.EntryKey, &u.File); err != nil {
			return nil, bserrors.IndexIOError("failed to scan unit", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// Search implements PageIndex.
// FTS5 bm25() is negative with lower meaning better, so ascending order
// puts the best match first and the score is negated on the way out.
func (s *SQLiteIndex) Search(ctx context.Context, plan *query.Plan, limit int) (*Result, error) {
	if plan.Empty() || limit <= 0 {
		return &Result{}, nil
	}
	match := toFTSMatch(plan.Root)
	if match == "" {
		return &Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	out := &Result{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM page_fts WHERE page_fts MATCH ?`, match).Scan(&out.Total); err != nil {
		return nil, bserrors.IndexIOError("sqlite search failed", err).WithDetail("match", match)
	}

	// Optional clauses only affect ranking: bm25 runs over the scoring
	// expression while the rowid filter keeps the matched set.
	var rows *sql.Rows
	var err error
	if score := toFTSScore(plan.Root); score != match {
		rows, err = s.db.QueryContext(ctx, `
			SELECT p.entry_key, p.file, p.page, p.text, p.seq, bm25(page_fts) AS score
			FROM page_fts
			JOIN pages p ON p.seq = page_fts.rowid
			WHERE page_fts MATCH ?
			  AND page_fts.rowid IN (SELECT rowid FROM page_fts WHERE page_fts MATCH ?)
			ORDER BY score, p.seq
			LIMIT ?`, score, match, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT p.entry_key, p.file, p.page, p.text, p.seq, bm25(page_fts) AS score
			FROM page_fts
			JOIN pages p ON p.seq = page_fts.rowid
			WHERE page_fts MATCH ?
			ORDER BY score, p.seq
			LIMIT ?`, match, limit)
	}
	if err != nil {
		return nil, bserrors.IndexIOError("sqlite search failed", err).WithDetail("match", match)
	}
	defer rows.Close()

	for rows.Next() {
		var h Hit
		var seq int64
		if err := rows.Scan(&h.EntryKey, &h.File, &h.Number, &h.Text, &seq, &h.Score); err != nil {
			return nil, bserrors.IndexIOError("failed to scan result", err)
		}
		h.Score = -h.Score
		h.Seq = uint64(seq)
		out.Hits = append(out.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, bserrors.IndexIOError("sqlite search failed", err)
	}
	return out, nil
}

// toFTSMatch compiles an analyzed plan node into the FTS5 MATCH expression
// selecting the pages that match.
//
// FTS5 has no optional clauses: when a Bool has required children its
// optional ones are left out here and only scored, see toFTSScore. The
// expression is "(must AND ...) NOT (excluded OR ...)". Stop-word gaps
// inside phrases are not representable, since page_fts stores terms
// compacted.
func toFTSMatch(n query.Node) string {
	switch n := n.(type) {
	case *query.Term:
		return ftsQuote(n.Text)
	case *query.Phrase:
		return ftsQuote(strings.Join(n.Terms, " "))
	case *query.Bool:
		var positive []string
		op := " OR "
		if must := n.Must(); len(must) > 0 {
			op = " AND "
			positive = compileAll(must)
		} else {
			positive = compileAll(n.Should())
		}
		if len(positive) == 0 {
			return ""
		}
		expr := "(" + strings.Join(positive, op) + ")"
		if excluded := compileAll(n.MustNot()); len(excluded) > 0 {
			expr = expr + " NOT (" + strings.Join(excluded, " OR ") + ")"
		}
		return expr
	}
	return ""
}

// toFTSScore compiles the expression bm25 ranks by. Required and optional
// children are ORed so every positive phrase contributes to the score, as
// optional clauses do in bleve. It matches a superset of toFTSMatch.
func toFTSScore(n query.Node) string {
	b, ok := n.(*query.Bool)
	if !ok {
		return toFTSMatch(n)
	}
	var positive []string
	for _, c := range append(b.Must(), b.Should()...) {
		if s := toFTSScore(c); s != "" {
			positive = append(positive, s)
		}
	}
	if len(positive) == 0 {
		return ""
	}
	expr := "(" + strings.Join(positive, " OR ") + ")"
	if excluded := compileAll(b.MustNot()); len(excluded) > 0 {
		expr = expr + " NOT (" + strings.Join(excluded, " OR ") + ")"
	}
	return expr
}

func compileAll(nodes []query.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := toFTSMatch(n); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func ftsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Count implements PageIndex.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, errClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, bserrors.IndexIOError("failed to count pages", err)
	}
	return n, nil
}

// SetBuilt implements PageIndex.
func (s *SQLiteIndex) SetBuilt(ctx context.Context, built bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	var err error
	if built {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO meta(key, value) VALUES (?, '1')
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaBuilt)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, metaBuilt)
	}
	if err != nil {
		return bserrors.IndexIOError("failed to write build marker", err)
	}
	return nil
}

// Built implements PageIndex.
func (s *SQLiteIndex) Built(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, errClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaBuilt).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, bserrors.IndexIOError("failed to read build marker", err)
	}
	return v == "1", nil
}

// Generation implements PageIndex.
// It reads the persisted commit counter; if that read fails the last value
// seen is returned.
func (s *SQLiteIndex) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return s.lastGen.Load()
	}
	var n int64
	err := s.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = ?`, metaCommits).Scan(&n)
	switch {
	case err == sql.ErrNoRows:
		n = 0
	case err != nil:
		slog.Debug("sqlite_generation_read_failed", slog.String("error", err.Error()))
		return s.lastGen.Load()
	}
	s.lastGen.Store(uint64(n))
	return uint64(n)
}

// Analyzer implements PageIndex.
func (s *SQLiteIndex) Analyzer() *analysis.Analyzer { return s.analyzer }

// Flush implements PageIndex.
// Forces a WAL checkpoint so all committed pages are in the main database.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return bserrors.IndexIOError("failed to checkpoint WAL", err)
	}
	return nil
}

// Stats implements PageIndex.
func (s *SQLiteIndex) Stats() *IndexStats {
	stats := &IndexStats{Backend: BackendSQLite, Path: s.path}
	ctx := context.Background()
	if n, err := s.Count(ctx); err == nil {
		stats.PageCount = n
	}
	if units, err := s.Units(ctx); err == nil {
		stats.UnitCount = len(units)
	}
	if built, err := s.Built(ctx); err == nil {
		stats.Built = built
	}
	return stats
}

// Close implements PageIndex.
// Forces a WAL checkpoint before closing.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.db.Close(); err != nil {
		return bserrors.IndexIOError("failed to close database", err)
	}
	return nil
}
