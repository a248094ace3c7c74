// Package output formats CLI status lines and search results.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer prints status lines with icons.
type Writer struct {
	out io.Writer
}

// New creates a Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints msg after icon, or indented when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a checkmarked line.
func (w *Writer) Success(msg string) { w.Status("✅", msg) }

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning line.
func (w *Writer) Warning(msg string) { w.Status("⚠️ ", msg) }

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error line.
func (w *Writer) Error(msg string) { w.Status("❌", msg) }

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Hit prints one ranked search hit:
//
//	1. smith2020  p.3  (2.41)
//	   /papers/smith.pdf
//	   …the «University» of…
func (w *Writer) Hit(rank int, key string, page int, score float64, file, snippet string) {
	if key == "" {
		key = "(no key)"
	}
	_, _ = fmt.Fprintf(w.out, "%2d. %s  p.%d  (%.2f)\n", rank, key, page, score)
	_, _ = fmt.Fprintf(w.out, "    %s\n", file)
	if snippet != "" {
		_, _ = fmt.Fprintf(w.out, "    %s\n", snippet)
	}
}

// Summary prints "N of M results for "q" in D".
func (w *Writer) Summary(shown, total int, query, took string) {
	noun := "results"
	if total == 1 {
		noun = "result"
	}
	_, _ = fmt.Fprintf(w.out, "%d of %d %s for %q in %s\n", shown, total, noun, query, took)
}

// Progress prints an in-place progress bar, ending the line when done.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(current*width/total, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
