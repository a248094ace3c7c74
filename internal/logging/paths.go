package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.bibsearch/logs, or a temp dir when there is
// no home directory.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".bibsearch", "logs")
	}
	return filepath.Join(home, ".bibsearch", "logs")
}

// DefaultLogPath returns the log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "bibsearch.log")
}

// FindLogFile returns explicit if it exists, otherwise the default log file.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found at %s\nRun a command first, e.g. bibsearch --debug index", path)
	}
	return path, nil
}
