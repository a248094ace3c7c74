package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes the page index for `bibsearch status`.
type StatusInfo struct {
	State       string    `json:"state"`
	Backend     string    `json:"backend"`
	Dir         string    `json:"dir"`
	Documents   int       `json:"documents"`
	Pages       int       `json:"pages"`
	SizeBytes   int64     `json:"size_bytes"`
	Built       bool      `json:"built"`
	LastIndexed time.Time `json:"last_indexed,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	// LastRun is set when a build ran in this process.
	LastRun *CompletionStats `json:"last_run,omitempty"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints a human-readable summary.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status"))
	_, _ = fmt.Fprintf(r.out, "  State:        %s\n", r.renderState(info.State))
	_, _ = fmt.Fprintf(r.out, "  Backend:      %s\n", info.Backend)
	_, _ = fmt.Fprintf(r.out, "  Location:     %s\n", info.Dir)
	_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Pages:        %d\n", info.Pages)
	_, _ = fmt.Fprintf(r.out, "  Size:         %s\n", FormatBytes(info.SizeBytes))
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	if info.LastError != "" {
		_, _ = fmt.Fprintf(r.out, "  Last error:   %s\n", r.styles.Error.Render(info.LastError))
	}
	if !info.Built {
		_, _ = fmt.Fprintf(r.out, "\n  %s\n", r.styles.Warning.Render("No complete build yet. Run: bibsearch index"))
	}
	return nil
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "READY":
		return r.styles.Success.Render(state)
	case "BUILDING", "UPDATING", "EMPTY":
		return r.styles.Warning.Render(state)
	case "CLOSED":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

func formatTime(t time.Time) string {
	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
