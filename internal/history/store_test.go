package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func TestRecordStartAndEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rec := &Recording{
		ChannelID:   "c1",
		ChannelName: "streamer",
		Title:       "late night",
		VideoID:     "v1",
		OutputPath:  "/recordings/streamer/20260824_100000_late night.ts",
		StartedAt:   started,
	}
	require.NoError(t, s.RecordStart(ctx, rec))
	require.NotEmpty(t, rec.ID)

	ended := started.Add(2 * time.Hour)
	require.NoError(t, s.RecordEnd(ctx, rec.ID, ended, 1<<30, EndOffline))

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, EndOffline, recs[0].EndReason)
	assert.Equal(t, int64(1<<30), recs[0].BytesWritten)
	require.NotNil(t, recs[0].EndedAt)
	assert.True(t, recs[0].EndedAt.Equal(ended))
}

func TestRecordEnd_Unknown(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordEnd(context.Background(), "nope", time.Now(), 0, EndDied)
	require.Error(t, err)
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := &Recording{
			ChannelID:  "c1",
			OutputPath: "/x",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.RecordStart(ctx, rec))
	}

	recs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].StartedAt.After(recs[1].StartedAt))
	assert.True(t, recs[1].StartedAt.After(recs[2].StartedAt))
}

func TestCloseDangling(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open := &Recording{ChannelID: "c1", OutputPath: "/a", StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.RecordStart(ctx, open))

	closed := &Recording{ChannelID: "c2", OutputPath: "/b", StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.RecordStart(ctx, closed))
	require.NoError(t, s.RecordEnd(ctx, closed.ID, time.Now(), 10, EndOffline))

	n, err := s.CloseDangling(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	for _, r := range recs {
		require.NotNil(t, r.EndedAt)
	}
}
