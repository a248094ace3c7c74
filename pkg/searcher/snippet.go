package searcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/bibsearch/internal/analysis"
)

const (
	markOpen  = "«"
	markClose = "»"
	ellipsis  = "…"
)

// matchedTerms returns the plan terms that occur in tokens, in plan order.
func matchedTerms(tokens []analysis.Token, terms []string) []string {
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t.Term] = struct{}{}
	}
	var out []string
	for _, term := range terms {
		if _, ok := present[term]; ok {
			out = append(out, term)
		}
	}
	return out
}

// snippet cuts about width runes of text around the first token matching
// one of terms and marks the match. Without a match the start of the page
// is returned.
func snippet(text string, tokens []analysis.Token, terms []string, width int) string {
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}

	var hit *analysis.Token
	for i := range tokens {
		if _, ok := want[tokens[i].Term]; ok {
			hit = &tokens[i]
			break
		}
	}

	if hit == nil {
		end := advance(text, 0, width)
		out := strings.TrimSpace(collapseSpace(text[:end]))
		if end < len(text) {
			out += ellipsis
		}
		return out
	}

	matchRunes := utf8.RuneCountInString(text[hit.Start:hit.End])
	side := max((width-matchRunes)/2, 0)

	from := retreat(text, hit.Start, side)
	to := advance(text, hit.End, side)
	from, to = wordBoundaries(text, from, to, hit.Start, hit.End)

	before := strings.TrimLeftFunc(collapseSpace(text[from:hit.Start]), unicode.IsSpace)
	after := strings.TrimRightFunc(collapseSpace(text[hit.End:to]), unicode.IsSpace)

	var b strings.Builder
	if from > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(before)
	b.WriteString(markOpen)
	b.WriteString(text[hit.Start:hit.End])
	b.WriteString(markClose)
	b.WriteString(after)
	if to < len(text) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// advance returns the byte offset n runes after i.
func advance(text string, i, n int) int {
	for ; n > 0 && i < len(text); n-- {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return i
}

// retreat returns the byte offset n runes before i.
func retreat(text string, i, n int) int {
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(text[:i])
		i -= size
	}
	return i
}

// wordBoundaries moves from forward and to backward so the cut falls on
// whitespace, without crossing the match.
func wordBoundaries(text string, from, to, matchStart, matchEnd int) (int, int) {
	if from > 0 {
		if i := strings.IndexFunc(text[from:matchStart], unicode.IsSpace); i >= 0 {
			from += i
		}
	}
	if to < len(text) {
		if i := strings.LastIndexFunc(text[matchEnd:to], unicode.IsSpace); i >= 0 {
			to = matchEnd + i
		}
	}
	return from, to
}

// collapseSpace folds runs of whitespace, including line breaks from
// extraction, into single spaces.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
