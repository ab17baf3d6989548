package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	cfg := &Config{Level: "DEBUG", Filename: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1}

	var console bytes.Buffer
	l, err := build(cfg, &console)
	require.NoError(t, err)

	l.Info("operation committed")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "operation committed")
	assert.Contains(t, console.String(), "operation committed")
}

func TestNew_JSONShape(t *testing.T) {
	var console bytes.Buffer
	l, err := build(&Config{Level: "info"}, &console)
	require.NoError(t, err)

	l.Info("hello")
	_ = l.Sync()

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(console.String())), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hello", entry["msg"])
	assert.Contains(t, entry, "ts")
}

func TestNew_LevelFilters(t *testing.T) {
	var console bytes.Buffer
	l, err := build(&Config{Level: "warn"}, &console)
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")
	_ = l.Sync()

	assert.NotContains(t, console.String(), "dropped")
	assert.Contains(t, console.String(), "kept")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "INVALID"})
	assert.Error(t, err)
}
