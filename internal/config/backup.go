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
	// MaxBackups is the maximum number of config backups to keep.
	MaxBackups = 3

	// BackupSuffix is inserted between the file name and the timestamp.
	BackupSuffix = ".bak"
)

// BackupFile copies path to path.bak.<timestamp> before it is overwritten.
// Returns "" and nil if path does not exist. Only the newest MaxBackups are kept.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Best effort; the backup itself succeeded.
	_ = pruneBackups(path)
	return backupPath, nil
}

// ListBackups returns backups of path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	// Timestamps sort lexically.
	slices.Sort(backups)
	slices.Reverse(backups)
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	for _, old := range backups[MaxBackups:] {
		_ = os.Remove(old)
	}
	return nil
}
