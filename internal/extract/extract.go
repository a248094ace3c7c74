// Package extract turns linked PDF files into per-page plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// Document is the extracted text of one file.
type Document struct {
	Path string
	// Pages holds one entry per page in reading order. A blank page is "".
	Pages []string
	Meta  Metadata
}

// Metadata describes an extracted document.
type Metadata struct {
	PageCount int
	Title     string
	// Truncated is set when pages past the budget were dropped.
	Truncated bool
}

// Extractor reads the text of a document.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// Budget bounds the work spent on a single file. Zero values mean no limit.
type Budget struct {
	MaxPages int
	Timeout  time.Duration
}

// DefaultBudget returns the default per-file budget.
func DefaultBudget() Budget {
	return Budget{MaxPages: 2000, Timeout: 60 * time.Second}
}

// apply truncates doc to the page budget.
func (b Budget) apply(doc *Document) {
	if b.MaxPages > 0 && len(doc.Pages) > b.MaxPages {
		doc.Pages = doc.Pages[:b.MaxPages]
		doc.Meta.Truncated = true
	}
}

// run executes fn under the budget's timeout. The extraction libraries
// cannot be interrupted, so on timeout fn keeps running in the background
// and its result is discarded.
func (b Budget) run(ctx context.Context, path string, fn func(ctx context.Context) (*Document, error)) (*Document, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	type result struct {
		doc *Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := fn(ctx)
		done <- result{doc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, timeoutError(path, b.Timeout)
		}
		return r.doc, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && b.Timeout > 0 {
			return nil, timeoutError(path, b.Timeout)
		}
		return nil, ctx.Err()
	}
}

func timeoutError(path string, d time.Duration) error {
	return bserrors.New(bserrors.ErrCodeExtractionTimeout,
		fmt.Sprintf("extraction of %s exceeded %s", path, d), context.DeadlineExceeded).
		WithDetail("path", path)
}

// checkFile verifies path names a readable regular file.
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bserrors.New(bserrors.ErrCodeFileNotFound,
				"file not found: "+path, err).WithDetail("path", path)
		}
		return bserrors.ExtractionError(path, err)
	}
	if info.IsDir() {
		return bserrors.ExtractionError(path, errors.New("is a directory"))
	}
	return nil
}

// chain tries extractors in order.
type chain struct {
	extractors []Extractor
}

// Chain returns an Extractor that tries primary, then each fallback, and
// returns the first success. Missing files, encrypted files and cancellation
// are not retried with fallbacks; otherwise the primary's error is reported.
func Chain(primary Extractor, fallbacks ...Extractor) Extractor {
	return &chain{extractors: append([]Extractor{primary}, fallbacks...)}
}

func (c *chain) Extract(ctx context.Context, path string) (*Document, error) {
	var firstErr error
	for _, e := range c.extractors {
		doc, err := e.Extract(ctx, path)
		if err == nil {
			return doc, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil || !retryWithFallback(err) {
			break
		}
	}
	return nil, firstErr
}

func retryWithFallback(err error) bool {
	switch bserrors.GetCode(err) {
	case bserrors.ErrCodeFileNotFound, bserrors.ErrCodeEncrypted:
		return false
	}
	return true
}

// Static is an in-memory Extractor keyed by path, for tests and dry runs.
type Static map[string][]string

// Extract implements Extractor.
func (s Static) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, ok := s[path]
	if !ok {
		return nil, bserrors.New(bserrors.ErrCodeFileNotFound,
			"file not found: "+path, os.ErrNotExist).WithDetail("path", path)
	}
	out := make([]string, len(pages))
	copy(out, pages)
	return &Document{Path: path, Pages: out, Meta: Metadata{PageCount: len(out)}}, nil
}
