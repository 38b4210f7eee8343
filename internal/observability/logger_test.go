package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vueroeruco/chzzk-recorder/internal/config"
)

func jsonCfg(level string) config.LoggingConfig {
	return config.LoggingConfig{Level: level, Format: "json"}
}

func TestNewLoggerWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonCfg("info"), &buf)

	logger.Info("hello", slog.String("channel_id", "c1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "c1", entry["channel_id"])
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonCfg("warn"), &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestNewLoggerWithWriter_RedactsCookies(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonCfg("debug"), &buf)

	logger.Debug("request",
		slog.String("cookie", "NID_AUT=secret; NID_SES=alsosecret"),
		slog.String("url", "https://api.chzzk.naver.com/x"),
	)

	out := buf.String()
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "https://api.chzzk.naver.com/x")
}

func TestNewLoggerWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonCfg("info"), &buf)

	WithComponent(logger, "supervisor").Info("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "supervisor", entry["component"])
}

func TestLoggerFromContext(t *testing.T) {
	logger := NewLoggerWithWriter(jsonCfg("info"), &bytes.Buffer{})

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))

	assert.NotNil(t, LoggerFromContext(context.Background()))
}
