package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of user config backups kept.
	MaxBackups = 3

	// BackupSuffix separates the config name from the backup timestamp.
	BackupSuffix = ".bak"

	backupTimeFormat = "20060102-150405.000"
)

// BackupUserConfig copies the user config to a timestamped sibling file
// and prunes older backups. It returns "" when there is nothing to back up.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}
	configPath := GetUserConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := configPath + BackupSuffix + "." + time.Now().Format(backupTimeFormat)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Pruning is best effort once the new backup exists.
	_ = pruneBackups()

	return backupPath, nil
}

// ListUserConfigBackups returns the user config backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	configPath := GetUserConfigPath()
	dir := filepath.Dir(configPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(configPath) + BackupSuffix + "."
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}

	// The timestamp format sorts lexically.
	slices.Sort(backups)
	slices.Reverse(backups)
	return backups, nil
}

func pruneBackups() error {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	var firstErr error
	for _, b := range backups[MaxBackups:] {
		if err := os.Remove(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
