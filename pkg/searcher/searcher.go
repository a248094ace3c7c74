package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/bibsearch/internal/analysis"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/query"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
)

const (
	// DefaultCacheSize is the default number of cached result sets.
	DefaultCacheSize = 256

	// DefaultSnippetLength is the default snippet width in runes.
	DefaultSnippetLength = 160
)

// PageSearcher searches the page index.
//
// Thread-safe for concurrent use.
type PageSearcher struct {
	store      store.PageIndex
	analyzer   *analysis.Analyzer
	lc         *lifecycle.Lifecycle
	cacheSize  int
	snippetLen int
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	cache *lru.Cache[string, *Results]
}

var _ Searcher = (*PageSearcher)(nil)

// Option configures a PageSearcher.
type Option func(*PageSearcher)

// WithStore sets the page store. Required.
func WithStore(s store.PageIndex) Option {
	return func(ps *PageSearcher) {
		ps.store = s
	}
}

// WithAnalyzer overrides the query analyzer. Defaults to the store's.
func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(ps *PageSearcher) {
		ps.analyzer = a
	}
}

// WithLifecycle gates queries on the index state. Without one every
// query is accepted.
func WithLifecycle(l *lifecycle.Lifecycle) Option {
	return func(ps *PageSearcher) {
		ps.lc = l
	}
}

// WithCacheSize sets the result cache capacity. 0 disables caching.
func WithCacheSize(n int) Option {
	return func(ps *PageSearcher) {
		if n >= 0 {
			ps.cacheSize = n
		}
	}
}

// WithSnippetLength sets the snippet width in runes. 0 disables snippets.
func WithSnippetLength(n int) Option {
	return func(ps *PageSearcher) {
		if n >= 0 {
			ps.snippetLen = n
		}
	}
}

// WithMetrics records search metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(ps *PageSearcher) {
		ps.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ps *PageSearcher) {
		if l != nil {
			ps.logger = l
		}
	}
}

// New creates a searcher.
//
// Returns ErrNilStore if no store is provided.
func New(opts ...Option) (*PageSearcher, error) {
	ps := &PageSearcher{
		cacheSize:  DefaultCacheSize,
		snippetLen: DefaultSnippetLength,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(ps)
	}

	if ps.store == nil {
		return nil, ErrNilStore
	}
	if ps.analyzer == nil {
		ps.analyzer = ps.store.Analyzer()
	}
	if ps.cacheSize > 0 {
		cache, err := lru.New[string, *Results](ps.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		ps.cache = cache
	}
	return ps, nil
}

// Search implements Searcher.
func (ps *PageSearcher) Search(ctx context.Context, q string, maxResults int) (*Results, error) {
	return ps.Do(ctx, Request{Query: &q, MaxResults: maxResults})
}

// Do implements Searcher.
func (ps *PageSearcher) Do(ctx context.Context, req Request) (*Results, error) {
	start := time.Now()

	res, outcome, err := ps.do(ctx, req)
	took := time.Since(start)

	q := ""
	if req.Query != nil {
		q = *req.Query
	}
	if err != nil {
		ps.metrics.ObserveSearch(q, telemetry.ResultError, 0, took)
		ps.logger.Debug("search_failed",
			slog.String("query", q),
			slog.String("error", err.Error()))
		return nil, err
	}

	res.Took = took
	ps.metrics.ObserveSearch(q, outcome, len(res.Hits), took)
	ps.logger.Debug("search_completed",
		slog.String("query", q),
		slog.Int("hits", len(res.Hits)),
		slog.Int("total", res.Total),
		slog.String("outcome", outcome),
		slog.Duration("took", took))
	return res, nil
}

func (ps *PageSearcher) do(ctx context.Context, req Request) (*Results, string, error) {
	if req.Query == nil {
		return nil, "", bserrors.InvalidArgument("query is required")
	}
	if req.MaxResults < 1 {
		return nil, "", bserrors.InvalidArgument(
			fmt.Sprintf("max results must be at least 1, got %d", req.MaxResults))
	}
	q := *req.Query

	plan, err := query.Compile(q, ps.analyzer)
	if err != nil {
		return nil, "", err
	}

	if ps.lc != nil {
		// Another process may have built a shared index since we opened it.
		if err := ps.lc.Refresh(func() (bool, error) { return ps.store.Built(ctx) }); err != nil {
			return nil, "", fmt.Errorf("read build marker: %w", err)
		}
		if err := ps.lc.CheckQueryable(); err != nil {
			return nil, "", err
		}
	}

	if plan.Empty() {
		return &Results{Query: q, Hits: []Hit{}}, telemetry.ResultZero, nil
	}

	key := cacheKey(ps.store.Generation(), req.MaxResults, q)
	if ps.cache != nil {
		if cached, ok := ps.cache.Get(key); ok {
			return cached.clone(), telemetry.ResultCacheHit, nil
		}
	}

	found, err := ps.store.Search(ctx, plan, req.MaxResults)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("search %q: %w", q, err)
	}

	res := &Results{Query: q, Total: found.Total, Hits: make([]Hit, 0, len(found.Hits))}
	terms := plan.Terms()
	for _, h := range found.Hits {
		res.Hits = append(res.Hits, ps.toHit(h, terms))
	}

	if ps.cache != nil {
		ps.cache.Add(key, res)
	}

	outcome := telemetry.ResultHit
	if len(res.Hits) == 0 {
		outcome = telemetry.ResultZero
	}
	return res.clone(), outcome, nil
}

// clone copies r deeply enough that callers can modify the hits without
// touching the cached copy.
func (r *Results) clone() *Results {
	out := *r
	out.Hits = make([]Hit, len(r.Hits))
	for i, h := range r.Hits {
		h.MatchedTerms = slices.Clone(h.MatchedTerms)
		out.Hits[i] = h
	}
	return &out
}

func (ps *PageSearcher) toHit(h store.Hit, terms []string) Hit {
	hit := Hit{
		EntryKey: h.EntryKey,
		File:     h.File,
		Page:     h.Number,
		Score:    h.Score,
	}
	tokens := ps.analyzer.Tokens(h.Text)
	hit.MatchedTerms = matchedTerms(tokens, terms)
	if ps.snippetLen > 0 {
		hit.Snippet = snippet(h.Text, tokens, terms, ps.snippetLen)
	}
	return hit
}

// Purge drops all cached results.
func (ps *PageSearcher) Purge() {
	if ps.cache != nil {
		ps.cache.Purge()
	}
}

// cacheKey binds a cached result to the store generation it was read at,
// so any commit invalidates it.
func cacheKey(gen uint64, limit int, q string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d:", gen, limit)
	b.WriteString(q)
	return b.String()
}
