package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// Backend represents the page index backend type.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 (default).
	// WAL mode lets readers in other processes see committed pages.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses Bleve v2 (scorch). Single process only.
	BackendBleve Backend = "bleve"
)

// indexBaseName is the file name stem inside the index directory.
const indexBaseName = "pages"

var errClosed = bserrors.IndexIOError("index is closed", errors.New("closed"))

// ParseBackend validates a backend name. Empty means "detect or default".
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendBleve:
		return BackendBleve, nil
	default:
		return "", bserrors.ConfigError(
			fmt.Sprintf("unknown index backend: %s (valid options: sqlite, bleve)", s), nil)
	}
}

// Open opens the page index stored in dir.
//
// If cfg.Backend is empty the backend of an existing index is detected,
// falling back to SQLite. If dir is empty the index is in memory.
func Open(dir string, cfg Config) (PageIndex, error) {
	backend := cfg.Backend
	if backend == "" && dir != "" {
		backend = DetectBackend(dir)
	}
	if backend == "" {
		backend = BackendSQLite
	}
	if dir != "" {
		if existing := DetectBackend(dir); existing != "" && existing != backend {
			slog.Warn("index_backend_switched",
				slog.String("dir", dir),
				slog.String("existing", string(existing)),
				slog.String("configured", string(backend)))
		}
	}

	var path string
	if dir != "" {
		path = IndexPath(dir, backend)
	}

	switch backend {
	case BackendSQLite:
		return NewSQLiteIndex(path, cfg)
	case BackendBleve:
		return NewBleveIndex(path, cfg)
	default:
		return nil, bserrors.ConfigError(
			fmt.Sprintf("unknown index backend: %s (valid options: sqlite, bleve)", backend), nil)
	}
}

// DetectBackend detects which backend an existing index in dir uses.
// Returns an empty string if no index exists.
func DetectBackend(dir string) Backend {
	if fileExists(IndexPath(dir, BackendSQLite)) {
		return BackendSQLite
	}
	if dirExists(IndexPath(dir, BackendBleve)) {
		return BackendBleve
	}
	return ""
}

// IndexPath returns the index file or directory for backend inside dir.
func IndexPath(dir string, backend Backend) string {
	base := filepath.Join(dir, indexBaseName)
	if backend == BackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
