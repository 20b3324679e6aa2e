package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileLogger(t *testing.T, format Format) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentryd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = path
	cfg.Format = format
	cfg.Compress = false

	log, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log, path
}

func TestFileOutput(t *testing.T) {
	log, path := fileLogger(t, FormatText)

	log.Info("observer started", "kind", "call_state")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "observer started")
	assert.Contains(t, string(data), "kind=call_state")
	assert.Contains(t, string(data), "component=sentryd")
}

func TestJSONFormat(t *testing.T) {
	log, path := fileLogger(t, FormatJSON)

	log.Warn("event dropped", "kind", "display_count")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "event dropped", entry["msg"])
	assert.Equal(t, "display_count", entry["kind"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestSensitiveKeysRedacted(t *testing.T) {
	log, path := fileLogger(t, FormatText)

	log.Info("key loaded", "key_path", "/tmp/k", "master_secret", "hunter2")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestWithComponent(t *testing.T) {
	log, path := fileLogger(t, FormatText)

	log.WithComponent("monitor").Info("subscribed")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=monitor")
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentryd.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = path
	cfg.Level = LevelWarn
	cfg.Compress = false

	log, err := New(cfg)
	require.NoError(t, err)
	defer log.Close()

	log.Info("suppressed")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed")
	assert.Contains(t, string(data), "kept")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, level)

	level, err = ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestRotatorRotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentryd.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.MaxSize = 0 // every write exceeds the budget
	cfg.MaxBackups = 10
	cfg.Compress = false

	r, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("second\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	rotated, err := filepath.Glob(filepath.Join(filepath.Dir(path), "sentryd-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
}
