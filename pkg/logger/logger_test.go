package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARNING", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestNewWithOptions_WritesJSONAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOptions(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	log.Info("dropped")
	log.Named("events").WithError(errors.New("boom")).WithField("popup_id", "p1").Warn("kept")
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "events", entry["logger"])
	assert.Equal(t, "p1", entry["popup_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNewWithOptions_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOptions(Options{Level: "debug", Output: &buf, Console: true})
	require.NoError(t, err)

	log.Debug("mounted")
	require.NoError(t, log.Sync())

	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "mounted")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_DefaultsToInfo(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
