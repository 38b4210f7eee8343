package recorder

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vueroeruco/chzzk-recorder/internal/config"
)

// PrepareChannelDir applies the on-start policy to files already present in
// the streamer directory, then ensures the directory exists. Failures are
// logged and swallowed: housekeeping must never block a recording.
func PrepareChannelDir(dir, archiveRoot, channel, policy string, now time.Time, logger *slog.Logger) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("creating recordings directory failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	if policy == config.PreviousKeep {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("listing recordings directory failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	var archiveDir string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		src := filepath.Join(dir, entry.Name())

		switch policy {
		case config.PreviousDelete:
			if err := os.RemoveAll(src); err != nil {
				logger.Warn("deleting previous file failed",
					slog.String("path", src),
					slog.String("error", err.Error()),
				)
			}
		case config.PreviousArchive:
			if archiveDir == "" {
				archiveDir = filepath.Join(archiveRoot, Sanitize(channel), Timestamp(now))
				if err := os.MkdirAll(archiveDir, 0o755); err != nil {
					logger.Warn("creating archive directory failed",
						slog.String("dir", archiveDir),
						slog.String("error", err.Error()),
					)
					return
				}
			}
			dst := filepath.Join(archiveDir, entry.Name())
			if err := os.Rename(src, dst); err != nil {
				logger.Warn("archiving previous file failed",
					slog.String("from", src),
					slog.String("to", dst),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
