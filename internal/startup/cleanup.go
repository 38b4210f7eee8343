// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupEmptyRecordings removes zero-byte .ts files older than maxAge from
// every channel directory under recordingsDir. A crashed worker can leave an
// opened-but-never-written file behind; clearing them keeps listings honest.
//
// Returns the number of files removed.
func CleanupEmptyRecordings(logger *slog.Logger, recordingsDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(recordingsDir); os.IsNotExist(err) {
		logger.Debug("recordings directory does not exist, skipping cleanup",
			"path", recordingsDir,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(recordingsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Warn("cleanup walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".ts") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() != 0 || info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove empty recording", "path", path, "error", err)
			return nil
		}
		logger.Info("removed empty recording", "path", path)
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	return removed, nil
}

// CleanupEmptyLogDirs removes empty dated directories under logsDir, left
// behind by days with no diagnostics.
func CleanupEmptyLogDirs(logger *slog.Logger, logsDir string) (int, error) {
	entries, err := os.ReadDir(logsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(logsDir, entry.Name())

		children, err := os.ReadDir(dir)
		if err != nil || len(children) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			logger.Warn("failed to remove empty log directory", "path", dir, "error", err)
			continue
		}
		logger.Debug("removed empty log directory", "path", dir)
		removed++
	}
	return removed, nil
}
