package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per update, for CI logs and pipes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d of %d files, %d pages indexed in %s",
		stats.Indexed, stats.Files, stats.Pages, stats.Duration.Round(100*time.Millisecond))
	if stats.Failures > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d failed)", stats.Failures)
	}
	_, _ = fmt.Fprintln(r.out)
	if stats.Purged > 0 {
		_, _ = fmt.Fprintf(r.out, "Purged %d stale documents\n", stats.Purged)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }
