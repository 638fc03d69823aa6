package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_JSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(Options{Out: &buf})
	require.NoError(t, err)

	slog.New(h).Info("catalog loaded", "backends", 12)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "catalog loaded", line["msg"])
	assert.Equal(t, float64(12), line["backends"])
}

func TestNew_PrettyWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(Options{Out: &buf, Format: "pretty", Level: "debug"})
	require.NoError(t, err)

	slog.New(h).Debug("retrying", "attempt", 2)

	out := buf.String()
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "attempt=2")
	assert.NotContains(t, out, "\033[", "no escape codes when not writing to a terminal")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(Options{Out: &buf, Format: "json", Level: "warn"})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}
