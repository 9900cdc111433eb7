package logging

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{})
		SetLevel(LogLevelDebug)
	})
	return &buf
}

func TestLineFormat(t *testing.T) {
	buf := captureOutput(t)

	New("train").Info("validation loss=0.2500", "epoch", 3)

	line := buf.String()
	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}\] \[train\] \[INFO\] validation loss=0\.2500 epoch=3\n$`)
	assert.Regexp(t, pattern, line)
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LogLevelWarn)

	log := New("checkpoint")
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[checkpoint] [WARNING] shown")
}

func TestWithAttrsAndGroup(t *testing.T) {
	buf := captureOutput(t)

	log := New("dataflow").(*SlogAdapter)
	log.With("flow", "train").WithGroup("batch").Info("ready", "size", 8)

	assert.Contains(t, buf.String(), "ready flow=train batch.size=8")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		" error ": LogLevelError,
		"bogus":   LogLevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "WARN", LogLevelWarn.String())
}
