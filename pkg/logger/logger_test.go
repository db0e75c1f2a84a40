package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{" Info ", INFO},
		{"DEBUG", DEBUG},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.name), "level %q", tt.name)
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(WARN)
	log.SetOutput(&buf)

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestLoggerAppendsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := New(INFO)
	log.SetOutput(&buf)

	log.Infow("event processed", "eventID", "evt_1", "attempt", 2)

	assert.Contains(t, buf.String(), "event processed eventID=evt_1 attempt=2")
}
