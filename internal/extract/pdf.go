package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// headerWindow is how far into the file the %PDF- marker may appear.
const headerWindow = 1024

var pdfMagic = []byte("%PDF-")

// PDFExtractor extracts per-page text with the pure-Go ledongthuc/pdf parser.
type PDFExtractor struct {
	Budget Budget
	Logger *slog.Logger
}

// NewPDFExtractor returns a PDFExtractor with the given budget.
func NewPDFExtractor(budget Budget) *PDFExtractor {
	return &PDFExtractor{Budget: budget, Logger: slog.Default()}
}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := checkFile(path); err != nil {
		return nil, err
	}
	if err := checkHeader(path); err != nil {
		return nil, err
	}
	doc, err := e.Budget.run(ctx, path, func(ctx context.Context) (*Document, error) {
		return e.extract(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	e.Budget.apply(doc)
	return doc, nil
}

func (e *PDFExtractor) extract(ctx context.Context, path string) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = bserrors.ExtractionError(path, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	defer f.Close()

	n := r.NumPage()
	limit := n
	if e.Budget.MaxPages > 0 && limit > e.Budget.MaxPages {
		// Read one past the budget so apply can flag truncation.
		limit = e.Budget.MaxPages + 1
	}

	doc = &Document{
		Path: path,
		Meta: Metadata{PageCount: n, Title: title(r)},
	}
	doc.Pages = make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, e.pageText(r, path, i))
	}
	return doc, nil
}

// pageText returns the text of page i. A page whose content cannot be
// decoded is logged and yields "" so numbering stays continuous.
func (e *PDFExtractor) pageText(r *pdf.Reader, path string, i int) string {
	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		e.logger().Debug("pdf_page_unreadable",
			slog.String("path", path),
			slog.Int("page", i),
			slog.String("error", err.Error()))
		return ""
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

func (e *PDFExtractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// title reads /Title from the trailer's Info dictionary.
func title(r *pdf.Reader) string {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	return strings.TrimSpace(info.Key("Title").Text())
}

// checkHeader rejects files without a %PDF- marker near the start.
func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return bserrors.ExtractionError(path, err)
	}
	defer f.Close()

	buf := make([]byte, headerWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return bserrors.ExtractionError(path, err)
	}
	if !bytes.Contains(buf[:n], pdfMagic) {
		return bserrors.New(bserrors.ErrCodeNotPDF, "not a PDF file: "+path, nil).
			WithDetail("path", path)
	}
	return nil
}

func classifyOpenError(path string, err error) error {
	if errors.Is(err, pdf.ErrInvalidPassword) || strings.Contains(err.Error(), "encrypt") {
		return bserrors.New(bserrors.ErrCodeEncrypted,
			"PDF is encrypted: "+path, err).
			WithDetail("path", path).
			WithSuggestion("Remove the password from the PDF to make it searchable")
	}
	return bserrors.ExtractionError(path, err)
}
