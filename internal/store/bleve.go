package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/bibsearch/internal/analysis"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/query"
)

const (
	fieldText  = "text"
	fieldKey   = "key"
	fieldOwner = "owner"
	fieldFile  = "file"
	fieldUnit  = "unit"
	fieldPage  = "page"
	fieldSeq   = "seq"

	// scanPageSize bounds one page of an ID scan.
	scanPageSize = 1000
)

var (
	internalSeq      = []byte("bibsearch_seq")
	internalBuilt    = []byte("bibsearch_built")
	internalAnalysis = []byte("bibsearch_analysis")
)

// BleveIndex is the Bleve v2 PageIndex backend.
type BleveIndex struct {
	mu       sync.RWMutex
	index    bleve.Index
	path     string
	analyzer *analysis.Analyzer
	seq      uint64
	gen      atomic.Uint64
	closed   bool
}

var _ PageIndex = (*BleveIndex)(nil)

// bleveDoc is the stored shape of a Page.
type bleveDoc struct {
	Text  string  `json:"text"`
	Key   string  `json:"key"`
	Owner string  `json:"owner"`
	File  string  `json:"file"`
	Unit  string  `json:"unit"`
	Page  float64 `json:"page"`
	Seq   float64 `json:"seq"`
}

// validateIndexIntegrity checks if a Bleve index is valid before opening.
// Returns nil if valid or absent, an error describing corruption if not.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func createIndexMapping(opts analysis.Options) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := analysis.Register(im, opts); err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = analysis.AnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = analysis.AnalyzerName
	text.Store = true
	text.IncludeTermVectors = true

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true

	numeric := bleve.NewNumericFieldMapping()
	numeric.Store = true

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldKey, keyword)
	doc.AddFieldMappingsAt(fieldOwner, keyword)
	doc.AddFieldMappingsAt(fieldFile, keyword)
	doc.AddFieldMappingsAt(fieldUnit, keyword)
	doc.AddFieldMappingsAt(fieldPage, numeric)
	doc.AddFieldMappingsAt(fieldSeq, numeric)
	im.DefaultMapping = doc

	return im, nil
}

// NewBleveIndex opens or creates a Bleve page index at path.
// If path is empty, creates an in-memory index.
// A corrupted on-disk index is cleared and recreated.
func NewBleveIndex(path string, cfg Config) (*BleveIndex, error) {
	im, err := createIndexMapping(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, bserrors.IndexIOError("failed to create index directory", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, bserrors.New(bserrors.ErrCodeCorruptIndex,
					fmt.Sprintf("index corrupted at %s and cannot be removed", path), removeErr)
			}
			slog.Info("bleve_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bleve_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, bserrors.New(bserrors.ErrCodeCorruptIndex, "index corrupted, cannot clear", removeErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, bserrors.IndexIOError("failed to create/open bleve index", err)
	}

	b := &BleveIndex{index: idx, path: path}
	if err := b.loadState(cfg.Analysis); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return b, nil
}

// loadState restores the sequence counter and the analyzer the index was
// created with. A persisted analyzer setting wins over cfg.
func (b *BleveIndex) loadState(opts analysis.Options) error {
	raw, err := b.index.GetInternal(internalSeq)
	if err != nil {
		return bserrors.IndexIOError("failed to read sequence", err)
	}
	if len(raw) == 8 {
		b.seq = binary.BigEndian.Uint64(raw)
	}

	raw, err = b.index.GetInternal(internalAnalysis)
	if err != nil {
		return bserrors.IndexIOError("failed to read analyzer options", err)
	}
	if len(raw) > 0 {
		var stored analysis.Options
		if err := json.Unmarshal(raw, &stored); err == nil {
			if stored != opts {
				slog.Warn("bleve_analyzer_options_mismatch",
					slog.Bool("stored_stemming", stored.Stemming),
					slog.Bool("config_stemming", opts.Stemming))
			}
			opts = stored
		}
	} else {
		data, _ := json.Marshal(opts)
		if err := b.index.SetInternal(internalAnalysis, data); err != nil {
			return bserrors.IndexIOError("failed to write analyzer options", err)
		}
	}

	im, ok := b.index.Mapping().(*mapping.IndexMappingImpl)
	if !ok {
		return bserrors.InternalError("unexpected bleve mapping type", nil)
	}
	a, err := analysis.FromMapping(im, opts)
	if err != nil {
		return bserrors.New(bserrors.ErrCodeCorruptIndex, "index mapping has no page analyzer", err)
	}
	b.analyzer = a
	return nil
}

// Replace implements PageIndex.
func (b *BleveIndex) Replace(ctx context.Context, unit Unit, pages []Page) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed
	}

	existing, err := b.idsWhere(ctx, fieldUnit, unit.ID())
	if err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, id := range existing {
		batch.Delete(id)
	}
	seq := b.seq
	for _, p := range pages {
		seq++
		doc := bleveDoc{
			Text:  p.Text,
			Key:   p.EntryKey,
			Owner: Owner(p.EntryKey),
			File:  p.File,
			Unit:  unit.ID(),
			Page:  float64(p.Number),
			Seq:   float64(seq),
		}
		if err := batch.Index(p.ID(), doc); err != nil {
			return bserrors.IndexIOError(fmt.Sprintf("failed to index page %d of %s", p.Number, p.File), err)
		}
	}
	batch.SetInternal(internalSeq, encodeSeq(seq))

	if err := b.index.Batch(batch); err != nil {
		return bserrors.IndexIOError("failed to commit batch", err)
	}
	b.seq = seq
	b.gen.Add(1)
	return nil
}

// DeleteUnits implements PageIndex.
func (b *BleveIndex) DeleteUnits(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed
	}

	batch := b.index.NewBatch()
	for _, u := range units {
		ids, err := b.idsWhere(ctx, fieldUnit, u.ID())
		if err != nil {
			return err
		}
		for _, id := range ids {
			batch.Delete(id)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := b.index.Batch(batch); err != nil {
		return bserrors.IndexIOError("failed to delete units", err)
	}
	b.gen.Add(1)
	return nil
}

// DeleteEntries implements PageIndex.
func (b *BleveIndex) DeleteEntries(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errClosed
	}

	batch := b.index.NewBatch()
	for _, k := range keys {
		ids, err := b.idsWhere(ctx, fieldOwner, Owner(k))
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			batch.Delete(id)
		}
	}
	n := batch.Size()
	if n == 0 {
		return 0, nil
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, bserrors.IndexIOError("failed to delete entries", err)
	}
	b.gen.Add(1)
	return n, nil
}

// idsWhere returns the IDs of all documents whose keyword field equals value.
func (b *BleveIndex) idsWhere(ctx context.Context, field, value string) ([]string, error) {
	q := bleve.NewTermQuery(value)
	q.SetField(field)

	var ids []string
	for from := 0; ; from += scanPageSize {
		req := bleve.NewSearchRequestOptions(q, scanPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, bserrors.IndexIOError("failed to scan index", err)
		}
		for _, h := range res.Hits {
			ids = append(ids, h.ID)
		}
		if len(res.Hits) < scanPageSize {
			return ids, nil
		}
	}
}

// Units implements PageIndex.
func (b *BleveIndex) Units(ctx context.Context) ([]Unit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed
	}

	seen := make(map[string]struct{})
	var units []Unit
	for from := 0; ; from += scanPageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), scanPageSize, from, false)
		req.Fields = []string{fieldKey, fieldFile, fieldUnit}
		req.SortBy([]string{"_id"})
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, bserrors.IndexIOError("failed to list units", err)
		}
		for _, h := range res.Hits {
			id := stringField(h.Fields, fieldUnit)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			units = append(units, Unit{
				EntryKey: stringField(h.Fields, fieldKey),
				File:     stringField(h.Fields, fieldFile),
			})
		}
		if len(res.Hits) < scanPageSize {
			return units, nil
		}
	}
}

// Search implements PageIndex.
func (b *BleveIndex) Search(ctx context.Context, plan *query.Plan, limit int) (*Result, error) {
	if plan.Empty() || limit <= 0 {
		return &Result{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed
	}

	req := bleve.NewSearchRequestOptions(toBleveQuery(plan.Root), limit, 0, false)
	req.Fields = []string{fieldKey, fieldFile, fieldPage, fieldText, fieldSeq}
	req.SortBy([]string{"-_score", fieldSeq})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, bserrors.IndexIOError("bleve search failed", err)
	}

	out := &Result{Total: int(res.Total), Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Hit{
			Page: Page{
				EntryKey: stringField(h.Fields, fieldKey),
				File:     stringField(h.Fields, fieldFile),
				Number:   int(numberField(h.Fields, fieldPage)),
				Text:     stringField(h.Fields, fieldText),
			},
			Score: h.Score,
			Seq:   uint64(numberField(h.Fields, fieldSeq)),
		})
	}
	return out, nil
}

// toBleveQuery compiles an analyzed plan node. Terms are already analyzed,
// so term and phrase queries bypass the field analyzer.
func toBleveQuery(n query.Node) bq.Query {
	switch n := n.(type) {
	case *query.Term:
		q := bleve.NewTermQuery(n.Text)
		q.SetField(fieldText)
		return q
	case *query.Phrase:
		q := bleve.NewPhraseQuery(phraseWithGaps(n), fieldText)
		return q
	case *query.Bool:
		q := bleve.NewBooleanQuery()
		for _, c := range n.Clauses {
			sub := toBleveQuery(c.Node)
			switch c.Occur {
			case query.Must:
				q.AddMust(sub)
			case query.MustNot:
				q.AddMustNot(sub)
			default:
				q.AddShould(sub)
			}
		}
		if len(n.Must()) == 0 {
			q.SetMinShould(1)
		}
		return q
	}
	return bleve.NewMatchNoneQuery()
}

// phraseWithGaps expands positions into a term list where removed words
// are empty strings, which bleve treats as "any term".
func phraseWithGaps(p *query.Phrase) []string {
	if len(p.Terms) == 0 {
		return nil
	}
	last := p.Positions[len(p.Positions)-1]
	terms := make([]string, last+1)
	for i, t := range p.Terms {
		terms[p.Positions[i]] = t
	}
	return terms
}

// Count implements PageIndex.
func (b *BleveIndex) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, errClosed
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, bserrors.IndexIOError("failed to count documents", err)
	}
	return int(n), nil
}

// SetBuilt implements PageIndex.
func (b *BleveIndex) SetBuilt(ctx context.Context, built bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed
	}
	var err error
	if built {
		err = b.index.SetInternal(internalBuilt, []byte{1})
	} else {
		err = b.index.DeleteInternal(internalBuilt)
	}
	if err != nil {
		return bserrors.IndexIOError("failed to write build marker", err)
	}
	return nil
}

// Built implements PageIndex.
func (b *BleveIndex) Built(ctx context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, errClosed
	}
	v, err := b.index.GetInternal(internalBuilt)
	if err != nil {
		return false, bserrors.IndexIOError("failed to read build marker", err)
	}
	return len(v) == 1 && v[0] == 1, nil
}

// Generation implements PageIndex.
func (b *BleveIndex) Generation() uint64 { return b.gen.Load() }

// Analyzer implements PageIndex.
func (b *BleveIndex) Analyzer() *analysis.Analyzer { return b.analyzer }

// Flush implements PageIndex. Bleve batches are durable once Batch returns.
func (b *BleveIndex) Flush(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errClosed
	}
	return nil
}

// Stats implements PageIndex.
func (b *BleveIndex) Stats() *IndexStats {
	stats := &IndexStats{Backend: BackendBleve, Path: b.path}
	ctx := context.Background()
	if n, err := b.Count(ctx); err == nil {
		stats.PageCount = n
	}
	if units, err := b.Units(ctx); err == nil {
		stats.UnitCount = len(units)
	}
	if built, err := b.Built(ctx); err == nil {
		stats.Built = built
	}
	return stats
}

// Close implements PageIndex.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.index.Close(); err != nil {
		return bserrors.IndexIOError("failed to close bleve index", err)
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func numberField(fields map[string]interface{}, name string) float64 {
	if v, ok := fields[name].(float64); ok {
		return v
	}
	return 0
}
