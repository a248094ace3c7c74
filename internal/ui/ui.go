// Package ui provides terminal progress and status display for indexing.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of an index build.
type Stage int

const (
	// StagePlanning resolves library entries to files.
	StagePlanning Stage = iota
	// StageExtracting extracts and indexes page text.
	StageExtracting
	// StagePurging removes documents no longer in the library.
	StagePurging
	// StageComplete marks the end of the build.
	StageComplete
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StagePlanning:
		return "Planning"
	case StageExtracting:
		return "Extracting"
	case StagePurging:
		return "Purging"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage label for plain output.
func (s Stage) Icon() string {
	switch s {
	case StagePlanning:
		return "PLAN"
	case StageExtracting:
		return "PDF"
	case StagePurging:
		return "PURGE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	Pages       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a per-file failure or warning.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarises a finished build.
type CompletionStats struct {
	Files    int
	Indexed  int
	Pages    int
	Purged   int
	Failures int
	Duration time.Duration
	Backend  string
}

// Renderer displays build progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header, typically the library path.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTitle sets the TUI header text.
func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig creates a Config for output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer on an interactive terminal and the
// plain renderer for pipes, CI or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
