package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false when the line is not a JSON object.
	Valid bool
}

// ViewerConfig configures filtering and rendering.
type ViewerConfig struct {
	Level   string
	Pattern *regexp.Regexp
	NoColor bool
}

// Viewer reads, filters and formats log files for `bibsearch logs`.
type Viewer struct {
	cfg ViewerConfig
	out io.Writer
}

// NewViewer creates a viewer writing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{cfg: cfg, out: out}
}

var levelStyles = map[string]lipgloss.Style{
	"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

const maxLineBytes = 1 << 20

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Ring of the last n lines.
	ring := make([]string, 0, max(n, 0))
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var entries []LogEntry
	for _, line := range ring {
		if e := ParseLine(line); v.matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path until ctx is done.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	r := bufio.NewReader(f)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := r.ReadString('\n')
			partial += chunk
			if err != nil {
				break
			}
			line := strings.TrimRight(partial, "\r\n")
			partial = ""
			if line == "" {
				continue
			}
			e := ParseLine(line)
			if !v.matches(e) {
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Print writes formatted entries to the viewer output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Format renders an entry as "15:04:05.000 LEVEL msg k=v ...". Invalid
// lines are returned raw.
func (v *Viewer) Format(e LogEntry) string {
	if !e.Valid {
		return e.Raw
	}

	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if !v.cfg.NoColor {
		if st, ok := levelStyles[strings.TrimSpace(level)]; ok {
			level = st.Render(level)
		}
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

// ParseLine parses a slog JSON line.
func ParseLine(line string) LogEntry {
	e := LogEntry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true

	if s, ok := data["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
		}
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)

	delete(data, "time")
	delete(data, "level")
	delete(data, "msg")
	e.Attrs = data
	return e
}

func (v *Viewer) matches(e LogEntry) bool {
	if v.cfg.Level != "" && LevelFromString(e.Level) < LevelFromString(v.cfg.Level) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}
