package searcher

import (
	"context"
	"errors"
	"time"
)

// ErrNilStore is returned when attempting to create a searcher without a store.
var ErrNilStore = errors.New("page store is required")

// Searcher performs search operations and returns ranked results.
//
// Implementations must be thread-safe for concurrent use.
type Searcher interface {
	// Search executes a query and returns at most maxResults hits,
	// best first.
	//
	// Returns an empty Hits slice (not nil) if nothing matches.
	Search(ctx context.Context, query string, maxResults int) (*Results, error)

	// Do executes a request whose query may be absent.
	Do(ctx context.Context, req Request) (*Results, error)
}

// Request is a search request as received from JSON surfaces.
type Request struct {
	// Query is nil when the caller sent no query at all.
	Query      *string `json:"query"`
	MaxResults int     `json:"max_results"`
}

// Results is the outcome of one search.
type Results struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
	// Total is the number of matching pages in the index, which may
	// exceed len(Hits).
	Total int           `json:"total"`
	Took  time.Duration `json:"took"`
}

// NumSearchResults returns the number of hits returned.
func (r *Results) NumSearchResults() int {
	if r == nil {
		return 0
	}
	return len(r.Hits)
}

// Hit is one matching page.
type Hit struct {
	// EntryKey is the citation key of the owning entry, empty for
	// keyless entries.
	EntryKey string `json:"entry_key"`
	File     string `json:"file"`
	// Page is 1-based.
	Page         int      `json:"page"`
	Score        float64  `json:"score"`
	Snippet      string   `json:"snippet,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}
