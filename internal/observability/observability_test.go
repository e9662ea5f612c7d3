package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNewLoggerTo_Formats(t *testing.T) {
	var jsonBuf bytes.Buffer
	NewLoggerTo(&jsonBuf, "info", "json").Info("hello", "key", "a.json")
	assert.Contains(t, jsonBuf.String(), `"msg":"hello"`)
	assert.Contains(t, jsonBuf.String(), `"key":"a.json"`)

	var textBuf bytes.Buffer
	NewLoggerTo(&textBuf, "info", "text").Info("hello")
	assert.Contains(t, textBuf.String(), "msg=hello")

	var quiet bytes.Buffer
	NewLoggerTo(&quiet, "error", "json").Warn("dropped")
	assert.Empty(t, quiet.String())
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.RecordsWritten.Add(3)
	m.DuplicatesDropped.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesDropped))

	// Two instances never collide
	require.NotPanics(t, func() { NewMetricsForTesting() })
}
