// Package store provides the page-level full-text index behind the indexer
// and searcher. Two interchangeable backends implement PageIndex: SQLite
// FTS5 (default) and Bleve.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/Aman-CERP/bibsearch/internal/analysis"
	"github.com/Aman-CERP/bibsearch/internal/query"
)

// Page is one indexed document: one page of one linked file of one entry.
type Page struct {
	EntryKey string
	File     string
	Number   int // 1-based
	Text     string
}

// Unit returns the (entry, file) commit unit the page belongs to.
func (p Page) Unit() Unit { return Unit{EntryKey: p.EntryKey, File: p.File} }

// ID returns the page's document identity.
func (p Page) ID() string { return DocID(p.EntryKey, p.File, p.Number) }

// Unit identifies all pages of one file linked from one entry. It is the
// granularity of atomic replacement.
type Unit struct {
	EntryKey string
	File     string
}

// ID returns a stable identifier for the unit.
func (u Unit) ID() string {
	h := sha256.New()
	h.Write([]byte(u.EntryKey))
	h.Write([]byte{0})
	h.Write([]byte(u.File))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// Owner returns the non-empty owner token for an entry key. Keyless entries
// share the owner "k:".
func Owner(entryKey string) string { return "k:" + entryKey }

// DocID returns the identity of (entry, file, page).
func DocID(entryKey, file string, page int) string {
	return Unit{EntryKey: entryKey, File: file}.ID() + "#" + strconv.Itoa(page)
}

// Hit is one search match.
type Hit struct {
	Page
	Score float64
	// Seq is the insertion sequence used to break score ties.
	Seq uint64
}

// Result is the outcome of a store search.
type Result struct {
	Hits []Hit
	// Total is the number of matching pages before the limit.
	Total int
}

// IndexStats contains index statistics.
type IndexStats struct {
	Backend   Backend
	Path      string
	PageCount int
	UnitCount int
	Built     bool
}

// PageIndex is the full-text page store.
//
// Writes are atomic per call: readers see either the state before or after
// a Replace/Delete*, never a mix. Implementations are safe for concurrent
// use.
type PageIndex interface {
	// Replace deletes every page of unit and inserts pages in one commit.
	// An empty pages slice just deletes the unit.
	Replace(ctx context.Context, unit Unit, pages []Page) error

	// DeleteUnits removes all pages of the given units.
	DeleteUnits(ctx context.Context, units []Unit) error

	// DeleteEntries removes all pages owned by the given entry keys. The
	// empty key addresses keyless entries.
	DeleteEntries(ctx context.Context, keys []string) (int, error)

	// Units lists every unit currently in the index.
	Units(ctx context.Context) ([]Unit, error)

	// Search runs an analyzed plan. Hits are ordered by descending score,
	// ties by ascending insertion sequence.
	Search(ctx context.Context, plan *query.Plan, limit int) (*Result, error)

	// Count returns the number of indexed pages.
	Count(ctx context.Context) (int, error)

	// SetBuilt records whether a full build has completed.
	SetBuilt(ctx context.Context, built bool) error

	// Built reports the persisted build marker.
	Built(ctx context.Context) (bool, error)

	// Generation increases on every successful commit.
	Generation() uint64

	// Analyzer returns the analyzer the index was built with.
	Analyzer() *analysis.Analyzer

	// Flush makes committed data durable.
	Flush(ctx context.Context) error

	// Stats returns index statistics.
	Stats() *IndexStats

	// Close releases the index. Idempotent.
	Close() error
}

// Config holds store settings.
type Config struct {
	Backend  Backend
	Analysis analysis.Options
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Backend: BackendSQLite}
}
