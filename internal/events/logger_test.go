package events_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/events"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
	}

	logger, err := events.NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, events.DebugLevel, logger.Level())
}

func TestNewLoggerFile(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   t.TempDir() + "/finsync.log",
	}

	logger, err := events.NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("to file")
	assert.FileExists(t, cfg.File)
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithField("test_key", "test_value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, `"test_key":"test_value"`)
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"level":"info"`)
}

func TestLoggerJSONIsValid(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithFields(map[string]interface{}{
		"quote":  `say "hi"`,
		"count":  3,
		"nested": map[string]int{"a": 1},
	}).Info("line\nbreak")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, `say "hi"`, entry["quote"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "line\nbreak", entry["msg"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	fields := map[string]interface{}{
		"collection": "accounts",
		"user_id":    "user-456",
	}

	logger.WithFields(fields).Info("multi-field test")

	output := buf.String()
	assert.Contains(t, output, `"collection":"accounts"`)
	assert.Contains(t, output, `"user_id":"user-456"`)
	assert.Contains(t, output, `"msg":"multi-field test"`)
}

func TestLoggerFieldsDoNotLeakToParent(t *testing.T) {
	var buf bytes.Buffer
	parent := events.NewTestLogger(events.InfoLevel, "json", &buf)

	_ = parent.WithField("child_only", true)
	parent.Info("parent")

	assert.NotContains(t, buf.String(), "child_only")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  events.LogLevel
		msgLevel  events.LogLevel
		shouldLog bool
	}{
		{"debug logger, debug message", events.DebugLevel, events.DebugLevel, true},
		{"debug logger, info message", events.DebugLevel, events.InfoLevel, true},
		{"info logger, debug message", events.InfoLevel, events.DebugLevel, false},
		{"info logger, info message", events.InfoLevel, events.InfoLevel, true},
		{"error logger, warn message", events.ErrorLevel, events.WarnLevel, false},
		{"error logger, error message", events.ErrorLevel, events.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewTestLogger(tt.logLevel, "text", &buf)

			switch tt.msgLevel {
			case events.DebugLevel:
				logger.Debug("test debug")
			case events.InfoLevel:
				logger.Info("test info")
			case events.WarnLevel:
				logger.Warn("test warn")
			case events.ErrorLevel:
				logger.Error("test error")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "text", &buf)

	logger.WithFields(map[string]interface{}{"b": 2, "a": 1}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "test message a=1 b=2")
	assert.True(t, strings.HasSuffix(output, "\n"))
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithError(errors.New("boom")).Error("operation failed")

	output := buf.String()
	assert.Contains(t, output, `"error":"boom"`)
	assert.Contains(t, output, `"msg":"operation failed"`)
	assert.Contains(t, output, `"level":"error"`)

	// nil errors add nothing
	buf.Reset()
	logger.WithError(nil).Info("fine")
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestDiscard(t *testing.T) {
	events.Discard().Error("dropped")
}
