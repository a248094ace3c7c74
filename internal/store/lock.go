package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// LockFileName is the writer lock inside an index directory.
const LockFileName = "write.lock"

// WriterLock is the cross-process single-writer lock for an index
// directory, built on gofrs/flock. A WriterLock for an empty directory
// (in-memory index) only tracks state.
type WriterLock struct {
	mu     sync.Mutex
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock creates the lock for dir. The lock file is <dir>/write.lock.
func NewWriterLock(dir string) *WriterLock {
	l := &WriterLock{}
	if dir != "" {
		l.path = filepath.Join(dir, LockFileName)
		l.flock = flock.New(l.path)
	}
	return l
}

// TryLock attempts to acquire the lock without blocking. A lock held by
// another process yields a retryable ERR_206_INDEX_LOCKED.
func (l *WriterLock) TryLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}
	if l.flock == nil {
		l.locked = true
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return bserrors.IndexIOError("failed to create lock directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return bserrors.IndexIOError("failed to acquire writer lock", err)
	}
	if !acquired {
		return bserrors.New(bserrors.ErrCodeIndexLocked,
			fmt.Sprintf("index is locked by another writer (%s)", l.path), nil).
			WithSuggestion("Wait for the other bibsearch process to finish indexing")
	}
	l.locked = true
	return nil
}

// Acquire retries TryLock with backoff until it succeeds, fails with a
// non-retryable error, cfg is exhausted, or ctx is done.
func (l *WriterLock) Acquire(ctx context.Context, cfg bserrors.RetryConfig) error {
	return bserrors.Retry(ctx, cfg, l.TryLock)
}

// Unlock releases the lock. Safe to call when not held.
func (l *WriterLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	if l.flock == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return bserrors.IndexIOError("failed to release writer lock", err)
	}
	return nil
}

// Path returns the lock file path, empty for in-memory indexes.
func (l *WriterLock) Path() string { return l.path }

// Held reports whether this process holds the lock.
func (l *WriterLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
