package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/store"
)

// maxListed caps the unresolved links listed in details.
const maxListed = 10

// CheckWriterLock reports whether another process is writing the index.
func (c *Checker) CheckWriterLock(dir string) CheckResult {
	result := CheckResult{Name: "writer_lock"}

	lock := store.NewWriterLock(dir)
	if err := lock.TryLock(); err != nil {
		result.Status = StatusWarn
		result.Message = err.Error()
		return result
	}
	_ = lock.Unlock()

	result.Status = StatusPass
	result.Message = "free"
	return result
}

// CheckLibrary loads the manifest and resolves every linked PDF.
func (c *Checker) CheckLibrary(ctx context.Context, path string) []CheckResult {
	manifest := CheckResult{Name: "library", Required: true}

	lib, err := bib.LoadLibrary(path)
	if err != nil {
		manifest.Status = StatusFail
		manifest.Message = err.Error()
		return []CheckResult{manifest}
	}
	entries := lib.Entries()
	manifest.Status = StatusPass
	manifest.Message = fmt.Sprintf("%d entries in %s", len(entries), path)

	files := CheckResult{Name: "linked_pdfs"}
	resolver := lib.Resolver()
	var total int
	var missing []string
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		for _, f := range e.PDFs() {
			total++
			if _, ok := bib.ResolveFirst(resolver, f); !ok {
				missing = append(missing, f.Link)
			}
		}
	}

	switch {
	case total == 0:
		files.Status = StatusWarn
		files.Message = "no PDF attachments in the library"
	case len(missing) > 0:
		files.Status = StatusWarn
		files.Message = fmt.Sprintf("%d of %d PDFs not found", len(missing), total)
		listed := missing[:min(len(missing), maxListed)]
		files.Details = strings.Join(listed, "\n")
	default:
		files.Status = StatusPass
		files.Message = fmt.Sprintf("%d PDFs found", total)
	}

	return []CheckResult{manifest, files}
}
