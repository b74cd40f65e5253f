// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScratchDirPrefix is the prefix assembly uses for its scratch
// directories. A crashed render leaves one behind.
const ScratchDirPrefix = "aicg-assembly-"

// DefaultCleanupAge is the default maximum age for orphaned scratch
// directories.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedScratchDirs removes assembly scratch directories in
// baseDir older than maxAge. Recent directories are preserved since a
// sibling worker on the same host may still be rendering into them.
//
// Returns the number of directories removed.
func CleanupOrphanedScratchDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ScratchDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("reading scratch directory info", "path", dirPath, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("removing orphaned scratch directory", "path", dirPath, "error", err)
			continue
		}

		logger.Info("removed orphaned scratch directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}
