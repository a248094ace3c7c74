package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultMaxSizeMB = 10

// RotatingWriter is an io.Writer that rotates its file by size:
// bibsearch.log -> bibsearch.log.1 -> ... -> bibsearch.log.<maxFiles>.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	written int64
	// syncEach fsyncs after every write so `bibsearch logs -f` sees lines
	// immediately.
	syncEach bool
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	return newRotatingWriter(path, int64(maxSizeMB)<<20, maxFiles)
}

func newRotatingWriter(path string, maxBytes int64, maxFiles int) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:     path,
		maxSize:  maxBytes,
		maxFiles: max(maxFiles, 0),
		syncEach: true,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetSyncEachWrite toggles the fsync after every write.
func (w *RotatingWriter) SetSyncEachWrite(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncEach = enabled
}

// Write appends p, rotating first if p would exceed the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.written > 0 && w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			if w.file == nil {
				return 0, err
			}
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.syncEach {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes the file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the file. Further writes fail with os.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts numbered files up by one, dropping the oldest, and starts
// a fresh file. Called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	if w.maxFiles == 0 {
		_ = os.Remove(w.path)
	} else {
		_ = os.Remove(w.numbered(w.maxFiles))
		for i := w.maxFiles - 1; i >= 1; i-- {
			_ = os.Rename(w.numbered(i), w.numbered(i+1))
		}
		if err := os.Rename(w.path, w.numbered(1)); err != nil && !os.IsNotExist(err) {
			_ = w.open()
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	return w.open()
}

func (w *RotatingWriter) numbered(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}
