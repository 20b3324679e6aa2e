// Package config handles configuration loading, validation, and
// hot-reloading for sentryd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Audit configuration for the accessibility audit engine.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Monitor configuration for the observer lifecycle manager.
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`

	// Platform selects and tunes the OS backend.
	Platform PlatformConfig `toml:"platform" json:"platform" yaml:"platform"`

	// Journal configuration for event persistence.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Daemon holds process-level settings.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// AuditConfig holds accessibility audit lists.
type AuditConfig struct {
	// Allowlist holds full service identifiers that are expected on the
	// device. Entries match exactly; wildcards are not expanded here.
	Allowlist []string `toml:"allowlist" json:"allowlist" yaml:"allowlist"`

	// Denylist holds package names or package wildcard patterns
	// (trailing "*") that are flagged when any enabled service belongs
	// to them.
	Denylist []string `toml:"denylist" json:"denylist" yaml:"denylist"`
}

// MonitorConfig holds observer lifecycle settings.
type MonitorConfig struct {
	// Buffer is the per-observer event stream capacity.
	Buffer int `toml:"buffer" json:"buffer" yaml:"buffer"`

	// AutoStart lists observer kinds the daemon subscribes to at boot.
	// Valid entries: touch_obscuring, display_count, call_state,
	// microphone_activity.
	AutoStart []string `toml:"auto_start" json:"auto_start" yaml:"auto_start"`
}

// PlatformConfig selects the OS backend.
type PlatformConfig struct {
	// Backend is "auto", "dbus", "memory", or "null".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// APILevel overrides the detected platform generation when > 0.
	APILevel int `toml:"api_level" json:"api_level" yaml:"api_level"`

	// SettingsPath is the file backing the global settings store for
	// backends without a native one.
	SettingsPath string `toml:"settings_path" json:"settings_path" yaml:"settings_path"`
}

// JournalConfig holds event persistence settings.
type JournalConfig struct {
	// Enabled determines whether observed events are journaled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Sealed enables the HMAC record chain for tamper evidence.
	Sealed bool `toml:"sealed" json:"sealed" yaml:"sealed"`

	// KeyPath is the file holding the journal master secret.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// RetentionDays prunes records older than this. 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or a path.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is started.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode, e.g. "0600".
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent client count.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	// PidFile is the daemon PID file path.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`

	// HealthIntervalSec is the periodic health check interval.
	HealthIntervalSec int `toml:"health_interval_sec" json:"health_interval_sec" yaml:"health_interval_sec"`
}

// DefaultAllowlist is the baseline set of expected accessibility
// services: the stock screen reader components.
var DefaultAllowlist = []string{
	"com.google.android.marvin.talkback/com.google.android.marvin.talkback.TalkBackService",
	"com.google.android.marvin.talkback/com.android.switchaccess.SwitchAccessService",
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Audit: AuditConfig{
			Allowlist: append([]string(nil), DefaultAllowlist...),
			Denylist:  []string{},
		},
		Monitor: MonitorConfig{
			Buffer:    16,
			AutoStart: []string{},
		},
		Platform: PlatformConfig{
			Backend:      "auto",
			SettingsPath: filepath.Join(dir, "settings.json"),
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "journal.db"),
			Sealed:        true,
			KeyPath:       filepath.Join(dir, "journal.key"),
			RetentionDays: 30,
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "sentryd.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Daemon: DaemonConfig{
			PidFile:           filepath.Join(dir, "sentryd.pid"),
			HealthIntervalSec: 60,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Journal.Path),
		filepath.Dir(c.Journal.KeyPath),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
		filepath.Dir(c.Daemon.PidFile),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies SENTRYD_-prefixed environment overrides.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("SENTRYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SENTRYD_LOG_PATH"); v != "" {
		c.Logging.Output = "file"
		c.Logging.FilePath = v
	}
	if v := os.Getenv("SENTRYD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("SENTRYD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("SENTRYD_PLATFORM_BACKEND"); v != "" {
		c.Platform.Backend = v
	}
	if v := os.Getenv("SENTRYD_DENYLIST"); v != "" {
		c.Audit.Denylist = splitList(v)
	}
	if v := os.Getenv("SENTRYD_ALLOWLIST"); v != "" {
		c.Audit.Allowlist = splitList(v)
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := *c
	clone.Audit.Allowlist = append([]string(nil), c.Audit.Allowlist...)
	clone.Audit.Denylist = append([]string(nil), c.Audit.Denylist...)
	clone.Monitor.AutoStart = append([]string(nil), c.Monitor.AutoStart...)
	return &clone
}

// Save writes the configuration to path in TOML form.
func Save(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "sentryd.sock")
	}
	return "/tmp/sentryd.sock"
}
