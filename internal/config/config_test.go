package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Contains(t, cfg.Audit.Allowlist,
		"com.google.android.marvin.talkback/com.google.android.marvin.talkback.TalkBackService")
	assert.Empty(t, cfg.Audit.Denylist)
	assert.Equal(t, "auto", cfg.Platform.Backend)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Audit.Denylist = []string{"com.malware.*", "com.spyware.agent"}
	cfg.Monitor.Buffer = 64
	cfg.Monitor.AutoStart = []string{"call_state"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Audit.Denylist, loaded.Audit.Denylist)
	assert.Equal(t, 64, loaded.Monitor.Buffer)
	assert.Equal(t, []string{"call_state"}, loaded.Monitor.AutoStart)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Monitor.Buffer, cfg.Monitor.Buffer)
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "empty denylist pattern",
			mutate: func(c *Config) { c.Audit.Denylist = []string{"  "} },
			field:  "audit.denylist[0]",
		},
		{
			name:   "interior asterisk",
			mutate: func(c *Config) { c.Audit.Denylist = []string{"com.*.agent"} },
			field:  "audit.denylist[0]",
		},
		{
			name:   "zero buffer",
			mutate: func(c *Config) { c.Monitor.Buffer = 0 },
			field:  "monitor.buffer",
		},
		{
			name:   "unknown auto-start kind",
			mutate: func(c *Config) { c.Monitor.AutoStart = []string{"gyroscope"} },
			field:  "monitor.auto_start[0]",
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Platform.Backend = "hypervisor" },
			field:  "platform.backend",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
		{
			name:   "bad socket permissions",
			mutate: func(c *Config) { c.IPC.Permissions = "rw-rw----" },
			field:  "ipc.permissions",
		},
		{
			name: "sealed journal without key",
			mutate: func(c *Config) {
				c.Journal.Sealed = true
				c.Journal.KeyPath = ""
			},
			field: "journal.key_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTRYD_LOG_LEVEL", "debug")
	t.Setenv("SENTRYD_DENYLIST", "com.malware.*, com.spyware.agent")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"com.malware.*", "com.spyware.agent"}, cfg.Audit.Denylist)
}

func TestValidateDocument(t *testing.T) {
	good := []byte(`{"version": 1, "monitor": {"buffer": 8}}`)
	assert.NoError(t, ValidateDocument(good))

	misspelled := []byte(`{"moniter": {"buffer": 8}}`)
	assert.Error(t, ValidateDocument(misspelled))

	badKind := []byte(`{"monitor": {"auto_start": ["gyroscope"]}}`)
	assert.Error(t, ValidateDocument(badKind))
}

func TestLoadJSONSchemaChecked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "loud"}}`), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Denylist = []string{"com.malware.*"}

	clone := cfg.Clone()
	clone.Audit.Denylist[0] = "changed"
	assert.Equal(t, "com.malware.*", cfg.Audit.Denylist[0])
}
