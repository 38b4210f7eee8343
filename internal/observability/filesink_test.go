package observability

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatedFileWriter_WritesUnderDatedDir(t *testing.T) {
	dir := t.TempDir()

	w := NewDatedFileWriter(dir, "recorder")
	w.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	_, err := w.Write([]byte("line one\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("line two\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "20260824", "recorder.log"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestDatedFileWriter_RollsOnDayChange(t *testing.T) {
	dir := t.TempDir()

	now := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	w := NewDatedFileWriter(dir, "recorder")
	w.now = func() time.Time { return now }

	_, err := w.Write([]byte("before midnight\n"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = w.Write([]byte("after midnight\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	before, err := os.ReadFile(filepath.Join(dir, "20260824", "recorder.log"))
	require.NoError(t, err)
	assert.Equal(t, "before midnight\n", string(before))

	after, err := os.ReadFile(filepath.Join(dir, "20260825", "recorder.log"))
	require.NoError(t, err)
	assert.Equal(t, "after midnight\n", string(after))
}

func TestDatedFileWriter_LazyUntilFirstWrite(t *testing.T) {
	dir := t.TempDir()

	w := NewDatedFileWriter(dir, "recorder")
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no dated directory before the first write")
}

func TestDatedFileWriter_FeedsSlogHandler(t *testing.T) {
	dir := t.TempDir()

	w := NewDatedFileWriter(dir, "recorder")
	w.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	logger := NewLoggerWithWriter(jsonCfg("info"), w)

	logger.Info("recording started", slog.String("channel_id", "c1"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "20260824", "recorder.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "recording started")
	assert.Contains(t, string(data), "c1")
}
