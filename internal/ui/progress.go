package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights the newest ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds the state shown by the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	pages       int
	currentFile string
	start       time.Time
	stageStart  time.Time
	lastETA     time.Duration
	errors      []ErrorEvent
	warnings    []ErrorEvent
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Pages       int
	Progress    float64
	ETA         time.Duration
	// FilesPerSec is the average rate in the current stage.
	FilesPerSec float64
	CurrentFile string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a tracker in StagePlanning.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StagePlanning, start: now, stageStart: now}
}

// SetStage moves to stage with a new total and resets per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		p.stage = event.Stage
		p.stageStart = time.Now()
		p.lastETA = 0
	}
	if event.Total > 0 {
		p.total = event.Total
	}
	p.current = event.Current
	p.pages = event.Pages
	if event.CurrentFile != "" {
		p.currentFile = event.CurrentFile
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
		return
	}
	p.errors = append(p.errors, event)
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.start)
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Pages:       p.pages,
		ETA:         p.eta(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
	}
	if p.total > 0 {
		s.Progress = min(float64(p.current)/float64(p.total), 1)
	}
	if secs := time.Since(p.stageStart).Seconds(); secs > 0 {
		s.FilesPerSec = float64(p.current) / secs
	}
	return s
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// eta estimates the remaining time, smoothed exponentially. Called with
// mu held.
func (p *ProgressTracker) eta() time.Duration {
	if p.current == 0 || p.total == 0 || p.current >= p.total {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	frac := float64(p.current) / float64(p.total)
	remaining := time.Duration(float64(elapsed)/frac) - elapsed
	if remaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
