package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// Report summarizes one indexing run.
type Report struct {
	// Files is the number of PDF links considered.
	Files int `json:"files"`
	// Indexed is the number of files written to the index.
	Indexed int `json:"indexed"`
	// Pages is the number of non-blank pages written.
	Pages int `json:"pages"`
	// Purged is the number of stale units removed by a rebuild.
	Purged   int           `json:"purged"`
	Failures []FileFailure `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FileFailure is one file that could not be indexed.
type FileFailure struct {
	EntryKey string `json:"entry_key"`
	Link     string `json:"link"`
	Path     string `json:"path,omitempty"`
	Err      error  `json:"-"`
}

// Error implements error.
func (f FileFailure) Error() string {
	target := f.Path
	if target == "" {
		target = f.Link
	}
	if f.EntryKey == "" {
		return fmt.Sprintf("%s: %v", target, f.Err)
	}
	return fmt.Sprintf("%s (%s): %v", target, f.EntryKey, f.Err)
}

// Unwrap returns the underlying error.
func (f FileFailure) Unwrap() error { return f.Err }

// MarshalJSON adds the error code and message.
func (f FileFailure) MarshalJSON() ([]byte, error) {
	type plain FileFailure
	out := struct {
		plain
		Code  string `json:"code,omitempty"`
		Error string `json:"error,omitempty"`
	}{plain: plain(f), Code: bserrors.GetCode(f.Err)}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// Err joins every failure, or returns nil when all files were indexed.
func (r *Report) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Failed returns the number of failed files.
func (r *Report) Failed() int {
	if r == nil {
		return 0
	}
	return len(r.Failures)
}
