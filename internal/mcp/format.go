package mcp

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/bibsearch/internal/async"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// FormatSearchResults formats search results as markdown.
func FormatSearchResults(res *searcher.Results) string {
	if res == nil || len(res.Hits) == 0 {
		q := ""
		if res != nil {
			q = res.Query
		}
		return fmt.Sprintf("No PDF pages found for \"%s\"", q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## PDF Results for \"%s\"\n\n", res.Query)
	fmt.Fprintf(&sb, "Showing %d of %d matching page", len(res.Hits), res.Total)
	if res.Total != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, h := range res.Hits {
		formatHit(&sb, i+1, h)
	}
	return sb.String()
}

// FormatIndexing formats the message returned while a build is running.
func FormatIndexing(snap *async.IndexProgressSnapshot) string {
	if snap == nil {
		return "## Indexing in Progress\n\n" +
			"The PDF index is not ready yet. Please try again in a moment."
	}
	return fmt.Sprintf("## Indexing in Progress\n\n"+
		"**Progress:** %.1f%% (%d/%d files, %d pages)\n"+
		"**Stage:** %s\n\n"+
		"The PDF index is not ready yet. Please try again in a moment.",
		snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.PagesIndexed, snap.Stage)
}

func formatHit(sb *strings.Builder, num int, h searcher.Hit) {
	key := h.EntryKey
	if key == "" {
		key = "(no key)"
	}
	fmt.Fprintf(sb, "### %d. %s, page %d (score: %.2f)\n", num, key, h.Page, h.Score)
	fmt.Fprintf(sb, "`%s`\n\n", filepath.Base(h.File))
	if reason := matchReason(h); reason != "" {
		fmt.Fprintf(sb, "*%s*\n\n", reason)
	}
	if h.Snippet != "" {
		fmt.Fprintf(sb, "> %s\n\n", h.Snippet)
	}
}

func matchReason(h searcher.Hit) string {
	terms := h.MatchedTerms
	if len(terms) == 0 {
		return ""
	}
	if len(terms) > 5 {
		terms = terms[:5]
	}
	return "matched: " + strings.Join(terms, ", ")
}

// clampLimit bounds a result limit. Values below 1 are left alone so the
// searcher rejects them.
func clampLimit(limit, max int) int {
	if limit > max {
		return max
	}
	return limit
}
