package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedScratchDirs(t *testing.T) {
	t.Run("removes old assembly scratch directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDir := filepath.Join(baseDir, "aicg-assembly-1234567890")
		require.NoError(t, os.Mkdir(oldDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(oldDir, "clip_000.mp4"), []byte("x"), 0o644))

		// Set the mtime after creating the file, since the write updates
		// the directory's mtime.
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

		count, err := CleanupOrphanedScratchDirs(logger, baseDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
	})

	t.Run("preserves recent scratch directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		recentDir := filepath.Join(baseDir, "aicg-assembly-0987654321")
		require.NoError(t, os.Mkdir(recentDir, 0o755))
		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recentDir, recentTime, recentTime))

		count, err := CleanupOrphanedScratchDirs(logger, baseDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err, "recent directory should be preserved")
	})

	t.Run("ignores unrelated directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		otherDir := filepath.Join(baseDir, "some-other-dir")
		require.NoError(t, os.Mkdir(otherDir, 0o755))
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(otherDir, oldTime, oldTime))

		count, err := CleanupOrphanedScratchDirs(logger, baseDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(otherDir)
		assert.NoError(t, err, "unrelated directory should be preserved")
	})

	t.Run("handles non-existent base directory", func(t *testing.T) {
		count, err := CleanupOrphanedScratchDirs(newTestLogger(), "/nonexistent/path/12345", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDirs := []string{
			"aicg-assembly-1111111111",
			"aicg-assembly-2222222222",
			"aicg-assembly-3333333333",
		}
		oldTime := time.Now().Add(-2 * time.Hour)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(baseDir, dir)
			require.NoError(t, os.Mkdir(dirPath, 0o755))
			require.NoError(t, os.Chtimes(dirPath, oldTime, oldTime))
		}

		count, err := CleanupOrphanedScratchDirs(logger, baseDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		for _, dir := range oldDirs {
			_, err = os.Stat(filepath.Join(baseDir, dir))
			assert.True(t, os.IsNotExist(err), "directory %s should be removed", dir)
		}
	})
}
