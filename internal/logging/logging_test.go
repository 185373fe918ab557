package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWithSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink(Config{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("file written", zap.String("operation", "store"), zap.Int("count", 3))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "file written", entry["msg"])
	assert.Equal(t, "store", entry["operation"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewWithSink_ConsoleDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink(Config{Level: "debug"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("email fetched", zap.String("email_id", "118"))
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), "email fetched")
	assert.Contains(t, buf.String(), `"email_id": "118"`)
}

func TestNewWithSink_Errors(t *testing.T) {
	_, err := NewWithSink(Config{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)

	_, err = NewWithSink(Config{Format: "xml"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}
