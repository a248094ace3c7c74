package extract

import (
	"context"
	"strconv"
	"strings"

	"code.sajari.com/docconv/v2"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// DocconvExtractor extracts text with docconv. docconv has no page
// boundaries, so the whole body becomes a single page.
type DocconvExtractor struct {
	Budget Budget
}

// NewDocconvExtractor returns a DocconvExtractor with the given budget.
func NewDocconvExtractor(budget Budget) *DocconvExtractor {
	return &DocconvExtractor{Budget: budget}
}

// Extract implements Extractor.
func (e *DocconvExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := checkFile(path); err != nil {
		return nil, err
	}
	return e.Budget.run(ctx, path, func(ctx context.Context) (*Document, error) {
		res, err := docconv.ConvertPath(path)
		if err != nil {
			return nil, bserrors.ExtractionError(path, err)
		}
		return fromResponse(path, res), nil
	})
}

func fromResponse(path string, res *docconv.Response) *Document {
	body := res.Body
	if strings.TrimSpace(body) == "" {
		body = ""
	}
	doc := &Document{
		Path:  path,
		Pages: []string{body},
		Meta:  Metadata{PageCount: 1},
	}
	if t := strings.TrimSpace(res.Meta["Title"]); t != "" {
		doc.Meta.Title = t
	}
	if p, err := strconv.Atoi(strings.TrimSpace(res.Meta["Pages"])); err == nil && p > 0 {
		doc.Meta.PageCount = p
	}
	return doc
}

// Default returns the extractor used by the indexer: the per-page parser
// with docconv as fallback.
func Default(budget Budget) Extractor {
	return Chain(NewPDFExtractor(budget), NewDocconvExtractor(budget))
}
