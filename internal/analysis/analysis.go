// Package analysis holds the text analyzer shared by indexing and querying.
//
// Both store backends and the query compiler run text through the same
// pipeline so index-time and query-time terms always agree:
//
//	unicode tokenizer -> to_lower -> stop_en [-> stemmer_porter]
package analysis

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	bleveanalysis "github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	// AnalyzerName is the registered name of the page-text analyzer.
	AnalyzerName = "bibsearch_en"
)

// Options controls the analyzer pipeline.
type Options struct {
	// Stemming appends the Porter stemmer. Off by default.
	Stemming bool
}

// Token is one analyzed term.
type Token struct {
	Term string
	// Position is the 1-based token position before stop-word removal,
	// so removed words leave gaps.
	Position int
	// Start and End are byte offsets into the analyzed text.
	Start int
	End   int
}

// Analyzer tokenizes and normalizes text.
type Analyzer struct {
	opts     Options
	analyzer bleveanalysis.Analyzer
}

// Register adds the custom analyzer to an index mapping.
func Register(im *mapping.IndexMappingImpl, opts Options) error {
	if err := im.AddCustomAnalyzer(AnalyzerName, analyzerConfig(opts)); err != nil {
		return fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	return nil
}

// New builds a standalone analyzer.
func New(opts Options) (*Analyzer, error) {
	im := bleve.NewIndexMapping()
	if err := Register(im, opts); err != nil {
		return nil, err
	}
	return FromMapping(im, opts)
}

// FromMapping returns the analyzer registered on im.
func FromMapping(im *mapping.IndexMappingImpl, opts Options) (*Analyzer, error) {
	a := im.AnalyzerNamed(AnalyzerName)
	if a == nil {
		return nil, fmt.Errorf("analyzer %q not registered", AnalyzerName)
	}
	return &Analyzer{opts: opts, analyzer: a}, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(opts Options) *Analyzer {
	a, err := New(opts)
	if err != nil {
		panic(err)
	}
	return a
}

// Options returns the options the analyzer was built with.
func (a *Analyzer) Options() Options { return a.opts }

// Tokens analyzes text.
func (a *Analyzer) Tokens(text string) []Token {
	if text == "" {
		return nil
	}
	stream := a.analyzer.Analyze([]byte(text))
	out := make([]Token, 0, len(stream))
	for _, t := range stream {
		if len(t.Term) == 0 {
			continue
		}
		out = append(out, Token{
			Term:     string(t.Term),
			Position: t.Position,
			Start:    t.Start,
			End:      t.End,
		})
	}
	return out
}

// Terms returns just the analyzed terms of text.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokens(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

func analyzerConfig(opts Options) map[string]interface{} {
	filters := []string{lowercase.Name, en.StopName}
	if opts.Stemming {
		filters = append(filters, porter.Name)
	}
	return map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": filters,
	}
}
