// Package history persists recording metadata in a local SQLite database.
package history

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// End reasons recorded when a recording finishes.
const (
	EndOffline  = "offline"
	EndStall    = "stall"
	EndAuth     = "auth"
	EndDied     = "died"
	EndShutdown = "shutdown"
)

// Recording is one recording attempt, open until EndedAt is set.
type Recording struct {
	ID          string `gorm:"primaryKey"`
	ChannelID   string `gorm:"index;not null"`
	ChannelName string
	Title       string
	VideoID     string
	OutputPath  string `gorm:"not null"`

	StartedAt    time.Time `gorm:"index;not null"`
	EndedAt      *time.Time
	BytesWritten int64
	EndReason    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store wraps the recordings table.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordStart inserts a new open recording and fills in its ID.
func (s *Store) RecordStart(ctx context.Context, rec *Recording) error {
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(rec.StartedAt), rand.Reader).String()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}
	return nil
}

// RecordEnd closes an open recording.
func (s *Store) RecordEnd(ctx context.Context, id string, endedAt time.Time, bytes int64, reason string) error {
	res := s.db.WithContext(ctx).Model(&Recording{}).Where("id = ?", id).Updates(map[string]any{
		"ended_at":      endedAt,
		"bytes_written": bytes,
		"end_reason":    reason,
	})
	if res.Error != nil {
		return fmt.Errorf("closing recording %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("closing recording %s: not found", id)
	}
	return nil
}

// Recent returns the newest recordings, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Recording
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// CloseDangling marks recordings left open by a previous run. Called once at
// startup, before the supervisor begins.
func (s *Store) CloseDangling(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Recording{}).
		Where("ended_at IS NULL").
		Updates(map[string]any{
			"ended_at":   now,
			"end_reason": EndDied,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("closing dangling recordings: %w", res.Error)
	}
	return res.RowsAffected, nil
}
