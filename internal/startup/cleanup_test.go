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

func writeAged(t *testing.T, path string, content []byte, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestCleanupEmptyRecordings(t *testing.T) {
	t.Run("removes old zero-byte files", func(t *testing.T) {
		dir := t.TempDir()
		writeAged(t, filepath.Join(dir, "streamer", "a.ts"), nil, 2*time.Hour)

		removed, err := CleanupEmptyRecordings(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.NoFileExists(t, filepath.Join(dir, "streamer", "a.ts"))
	})

	t.Run("keeps recent zero-byte files", func(t *testing.T) {
		dir := t.TempDir()
		writeAged(t, filepath.Join(dir, "streamer", "a.ts"), nil, time.Minute)

		removed, err := CleanupEmptyRecordings(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.FileExists(t, filepath.Join(dir, "streamer", "a.ts"))
	})

	t.Run("keeps non-empty files regardless of age", func(t *testing.T) {
		dir := t.TempDir()
		writeAged(t, filepath.Join(dir, "streamer", "a.ts"), []byte("data"), 48*time.Hour)

		removed, err := CleanupEmptyRecordings(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.FileExists(t, filepath.Join(dir, "streamer", "a.ts"))
	})

	t.Run("ignores non-ts files", func(t *testing.T) {
		dir := t.TempDir()
		writeAged(t, filepath.Join(dir, "streamer", "notes.txt"), nil, 48*time.Hour)

		removed, err := CleanupEmptyRecordings(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		removed, err := CleanupEmptyRecordings(newTestLogger(), filepath.Join(t.TempDir(), "nope"), time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestCleanupEmptyLogDirs(t *testing.T) {
	t.Run("removes empty dated dirs", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "20260801"), 0o755))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "20260802"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "20260802", "app.log"), []byte("x"), 0o644))

		removed, err := CleanupEmptyLogDirs(newTestLogger(), dir)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.NoDirExists(t, filepath.Join(dir, "20260801"))
		assert.DirExists(t, filepath.Join(dir, "20260802"))
	})

	t.Run("missing logs dir is not an error", func(t *testing.T) {
		removed, err := CleanupEmptyLogDirs(newTestLogger(), filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
