package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, slog.LevelInfo, LogLevel(999).SlogLevel())
}

func TestSetOutput_Text(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(LevelInfo, "text", &buf)

	Info("Capabilities", "parsed %d entries", 3)
	Debug("Capabilities", "suppressed")
	Error("CRS", errors.New("boom"), "lookup failed")

	out := buf.String()
	assert.Contains(t, out, "parsed 3 entries")
	assert.Contains(t, out, "subsystem=Capabilities")
	assert.Contains(t, out, "error=boom")
	assert.NotContains(t, out, "suppressed")
}

func TestSetOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(LevelDebug, "json", &buf)

	Warn("Form", "no CRS selected")

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "{"), "expected JSON output, got %q", line)
	assert.Contains(t, line, `"subsystem":"Form"`)
	assert.Contains(t, line, `"level":"WARN"`)
}
