package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryLogCapacity bounds the recent and zero-result buffers.
const DefaultQueryLogCapacity = 100

// maxTrackedTerms bounds the term frequency table.
const maxTrackedTerms = 500

// QueryEvent is one recorded search.
type QueryEvent struct {
	Query       string        `json:"query"`
	ResultCount int           `json:"result_count"`
	Latency     time.Duration `json:"latency"`
	Timestamp   time.Time     `json:"timestamp"`
}

// IsZeroResult returns true if the query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer holding up to capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultQueryLogCapacity
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < len(b.items) {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QuerySnapshot summarizes recent search activity.
type QuerySnapshot struct {
	TotalQueries      int64       `json:"total_queries"`
	ZeroResultCount   int64       `json:"zero_result_count"`
	ZeroResultQueries []string    `json:"zero_result_queries"`
	TopTerms          []TermCount `json:"top_terms"`
	Since             time.Time   `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s QuerySnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryLog keeps recent queries in memory for the status surfaces.
type QueryLog struct {
	mu          sync.Mutex
	total       int64
	zeroCount   int64
	since       time.Time
	recent      *CircularBuffer[QueryEvent]
	zeroResults *CircularBuffer[string]
	// terms evicts the least recently searched term when full.
	terms *lru.Cache[string, int64]
}

// NewQueryLog creates a log with the given buffer capacity.
func NewQueryLog(capacity int) *QueryLog {
	terms, _ := lru.New[string, int64](maxTrackedTerms)
	return &QueryLog{
		since:       time.Now(),
		recent:      NewCircularBuffer[QueryEvent](capacity),
		zeroResults: NewCircularBuffer[string](capacity),
		terms:       terms,
	}
}

// Record adds a search to the log. Safe on a nil log.
func (l *QueryLog) Record(e QueryEvent) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	l.recent.Add(e)
	if e.IsZeroResult() && strings.TrimSpace(e.Query) != "" {
		l.zeroCount++
		l.zeroResults.Add(e.Query)
	}
	for _, term := range queryTerms(e.Query) {
		n, _ := l.terms.Get(term)
		l.terms.Add(term, n+1)
	}
}

// Recent returns the buffered events, oldest first.
func (l *QueryLog) Recent() []QueryEvent {
	if l == nil {
		return nil
	}
	return l.recent.Items()
}

// Snapshot returns aggregate counts and the topN most searched terms.
func (l *QueryLog) Snapshot(topN int) QuerySnapshot {
	if l == nil {
		return QuerySnapshot{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make([]TermCount, 0, l.terms.Len())
	for _, term := range l.terms.Keys() {
		if n, ok := l.terms.Peek(term); ok {
			counts = append(counts, TermCount{Term: term, Count: n})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Term < counts[j].Term
	})
	if topN > 0 && len(counts) > topN {
		counts = counts[:topN]
	}

	return QuerySnapshot{
		TotalQueries:      l.total,
		ZeroResultCount:   l.zeroCount,
		ZeroResultQueries: l.zeroResults.Items(),
		TopTerms:          counts,
		Since:             l.since,
	}
}

// queryTerms lowercases the words of a raw query, dropping operators,
// quotes and words shorter than three bytes.
func queryTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '"' || r == '(' || r == ')'
	})
	var terms []string
	for _, f := range fields {
		f = strings.TrimLeft(f, "+-")
		switch f {
		case "and", "or", "not", "&&", "||":
			continue
		}
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}
