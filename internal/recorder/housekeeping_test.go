package recorder

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vueroeruco/chzzk-recorder/internal/config"
)

func seedDir(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPrepareChannelDir_Keep(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "streamer")
	seedDir(t, dir, "old.ts")

	PrepareChannelDir(dir, t.TempDir(), "streamer", config.PreviousKeep, time.Now(), slog.Default())
	assert.Equal(t, []string{"old.ts"}, dirNames(t, dir))
}

func TestPrepareChannelDir_Delete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "streamer")
	seedDir(t, dir, "old.ts", ".hidden")

	PrepareChannelDir(dir, t.TempDir(), "streamer", config.PreviousDelete, time.Now(), slog.Default())
	assert.Equal(t, []string{".hidden"}, dirNames(t, dir), "dotfiles are left alone")
}

func TestPrepareChannelDir_Archive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "streamer")
	archiveRoot := t.TempDir()
	seedDir(t, dir, "a.ts", "b.ts")

	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	PrepareChannelDir(dir, archiveRoot, "streamer", config.PreviousArchive, now, slog.Default())

	assert.Empty(t, dirNames(t, dir))
	moved := filepath.Join(archiveRoot, "streamer", "20260824_100000")
	assert.ElementsMatch(t, []string{"a.ts", "b.ts"}, dirNames(t, moved))
}

func TestPrepareChannelDir_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "brand", "new")
	PrepareChannelDir(dir, t.TempDir(), "c", config.PreviousArchive, time.Now(), slog.Default())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
