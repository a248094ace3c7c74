// Package async runs index rebuilds in the background and tracks their
// progress for status surfaces.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/bibsearch/pkg/indexer"
)

// IndexingStatus represents the overall state of a background build.
type IndexingStatus string

const (
	// StatusIndexing indicates a build is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates the build completed; search is available.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates the build failed.
	StatusError IndexingStatus = "error"
)

// IndexingStage is the current step of a build.
type IndexingStage string

const (
	// StageLoading reads the bibliography library.
	StageLoading IndexingStage = "loading"
	// StageExtracting extracts and writes PDF pages.
	StageExtracting IndexingStage = "extracting"
	// StageDone means no work is left.
	StageDone IndexingStage = "done"
)

// IndexProgressSnapshot is an immutable snapshot of build progress.
type IndexProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	FilesFailed    int     `json:"files_failed"`
	PagesIndexed   int     `json:"pages_indexed"`
	CurrentFile    string  `json:"current_file,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// IndexProgress provides thread-safe tracking of build progress.
type IndexProgress struct {
	mu sync.RWMutex

	status         IndexingStatus
	stage          IndexingStage
	filesTotal     int
	filesProcessed int
	filesFailed    int
	pagesIndexed   int
	currentFile    string
	startTime      time.Time
	errorMessage   string
}

// NewIndexProgress creates a tracker in the indexing state.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     StageLoading,
		startTime: time.Now(),
	}
}

// SetStage updates the current stage.
func (p *IndexProgress) SetStage(stage IndexingStage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// Observe records an indexer progress event. It has the signature of an
// indexer progress callback.
func (p *IndexProgress) Observe(ev indexer.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = StageExtracting
	p.filesTotal = ev.FilesTotal
	p.filesProcessed = ev.FilesDone
	p.filesFailed = ev.Failed
	p.pagesIndexed = ev.Pages
	p.currentFile = ev.Current
}

// SetError marks the build as failed.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the build as complete.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = StageDone
	p.currentFile = ""
}

// IsIndexing returns true while the build is still running.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns a copy of the current state.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.filesTotal > 0 {
		pct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		FilesFailed:    p.filesFailed,
		PagesIndexed:   p.pagesIndexed,
		CurrentFile:    p.currentFile,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
