// Package preflight runs the environment checks behind `bibsearch doctor`:
// index directory writability and free space, file descriptor limits,
// the library manifest and whether its linked PDFs resolve.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CheckStatus represents the result of a check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns PASS, WARN or FAIL.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target is what the checks inspect.
type Target struct {
	IndexDir    string
	LibraryPath string
}

// Checker performs the checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{
		c.CheckWritePermissions(t.IndexDir),
		c.CheckDiskSpace(t.IndexDir),
		c.CheckFileDescriptors(),
		c.CheckWriterLock(t.IndexDir),
	}
	return append(results, c.CheckLibrary(ctx, t.LibraryPath)...)
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "bibsearch System Check")
	_, _ = fmt.Fprintln(c.output, "======================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			for _, line := range strings.Split(r.Details, "\n") {
				_, _ = fmt.Fprintf(c.output, "       %s\n", line)
			}
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions checks that the index directory can be created
// and written.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{Name: "index_writable", Required: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = filepath.Clean(dir)
	return result
}
