package indexer

import (
	"context"

	"github.com/Aman-CERP/bibsearch/internal/bib"
)

// Indexer defines the contract for maintaining the page index.
//
// Implementations must be thread-safe for concurrent use.
// All methods accept a context for cancellation.
type Indexer interface {
	// CreateIndex rebuilds the index from every entry of db.
	//
	// Behavior:
	//   - Every PDF-typed file of every entry is resolved and extracted
	//   - One page document is written per non-blank page
	//   - Per-file failures are collected in the Report, never fatal
	//   - Units that are no longer reachable are purged
	//
	// Returns the report and an error if the store fails or ctx is done.
	CreateIndex(ctx context.Context, db bib.Database, resolver bib.Resolver) (*Report, error)

	// AddToIndex indexes the files of entries, replacing any pages
	// already stored for the same (entry, file).
	AddToIndex(ctx context.Context, entries []bib.Entry, resolver bib.Resolver) (*Report, error)

	// RemoveFromIndex deletes every page owned by the entries' keys and
	// returns the number of pages removed.
	RemoveFromIndex(ctx context.Context, entries []bib.Entry) (int, error)

	// Flush makes all committed pages durable.
	Flush(ctx context.Context) error

	// Close flushes and releases the writer lock.
	//
	// Behavior:
	//   - Safe to call multiple times (idempotent)
	//   - After Close, write methods return errors
	Close() error
}
