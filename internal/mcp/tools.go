package mcp

import (
	"time"

	"github.com/Aman-CERP/bibsearch/internal/async"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// Tool names.
const (
	ToolSearchPDFs  = "search_pdfs"
	ToolIndexStatus = "index_status"
)

// SearchInput is the input schema of search_pdfs. Both fields are
// pointers so an absent value can be told apart from a zero one.
type SearchInput struct {
	Query      *string `json:"query,omitempty" jsonschema:"full-text query over PDF page text; supports AND, OR, NOT, quoted phrases and parentheses"`
	MaxResults *int    `json:"max_results,omitempty" jsonschema:"maximum number of pages to return, at least 1; defaults to the configured limit"`
}

// SearchOutput is the output schema of search_pdfs.
type SearchOutput struct {
	Query string      `json:"query"`
	Total int         `json:"total" jsonschema:"matching pages in the whole index"`
	Hits  []HitOutput `json:"hits"`
	// Indexing is set when the index could not answer because a build is
	// still running.
	Indexing *async.IndexProgressSnapshot `json:"indexing,omitempty"`
	Message  string                       `json:"message,omitempty"`
}

// HitOutput is one matching PDF page.
type HitOutput struct {
	EntryKey     string   `json:"entry_key" jsonschema:"citation key of the owning entry, empty for keyless entries"`
	File         string   `json:"file" jsonschema:"absolute path of the PDF"`
	Page         int      `json:"page" jsonschema:"1-based page number"`
	Score        float64  `json:"score"`
	Snippet      string   `json:"snippet,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// IndexStatusInput is the input schema of index_status (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput is the output schema of index_status.
type IndexStatusOutput struct {
	State       string                       `json:"state" jsonschema:"EMPTY, BUILDING, READY, UPDATING or CLOSED"`
	Backend     string                       `json:"backend"`
	Built       bool                         `json:"built"`
	Documents   int                          `json:"documents"`
	Pages       int                          `json:"pages"`
	SizeBytes   int64                        `json:"size_bytes"`
	LastIndexed string                       `json:"last_indexed,omitempty"`
	LastError   string                       `json:"last_error,omitempty"`
	Indexing    *async.IndexProgressSnapshot `json:"indexing,omitempty"`
	Queries     *QueryStats                  `json:"queries,omitempty"`
}

// QueryStats summarizes recent searches of this server process.
type QueryStats struct {
	TotalQueries      int64       `json:"total_queries"`
	ZeroResultPct     float64     `json:"zero_result_pct"`
	ZeroResultQueries []string    `json:"zero_result_queries,omitempty"`
	TopTerms          []TermCount `json:"top_terms,omitempty"`
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func toQueryStats(snap telemetry.QuerySnapshot) *QueryStats {
	out := &QueryStats{
		TotalQueries:      snap.TotalQueries,
		ZeroResultPct:     snap.ZeroResultPercentage(),
		ZeroResultQueries: snap.ZeroResultQueries,
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermCount{Term: tc.Term, Count: tc.Count})
	}
	return out
}

func toHitOutputs(hits []searcher.Hit) []HitOutput {
	out := make([]HitOutput, len(hits))
	for i, h := range hits {
		out[i] = HitOutput{
			EntryKey:     h.EntryKey,
			File:         h.File,
			Page:         h.Page,
			Score:        h.Score,
			Snippet:      h.Snippet,
			MatchedTerms: h.MatchedTerms,
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
