package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validKinds = map[string]bool{
	"touch_obscuring":     true,
	"display_count":       true,
	"call_state":          true,
	"microphone_activity": true,
}

var validBackends = map[string]bool{
	"auto":   true,
	"dbus":   true,
	"memory": true,
	"null":   true,
}

// ValidateConfig performs full validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateAudit(&c.Audit)...)
	errs = append(errs, validateMonitor(&c.Monitor)...)
	errs = append(errs, validatePlatform(&c.Platform)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAudit(a *AuditConfig) ValidationErrors {
	var errs ValidationErrors
	for i, entry := range a.Allowlist {
		if strings.TrimSpace(entry) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("audit.allowlist[%d]", i),
				Message: "empty entry",
			})
		}
	}
	for i, pattern := range a.Denylist {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("audit.denylist[%d]", i),
				Message: "empty pattern",
			})
			continue
		}
		// Only a trailing asterisk is a wildcard; reject patterns whose
		// asterisk can never match.
		if strings.Contains(strings.TrimSuffix(pattern, "*"), "*") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("audit.denylist[%d]", i),
				Message: fmt.Sprintf("interior asterisk in %q matches nothing", pattern),
			})
		}
	}
	return errs
}

func validateMonitor(m *MonitorConfig) ValidationErrors {
	var errs ValidationErrors
	if m.Buffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "monitor.buffer",
			Message: "must be at least 1",
		})
	}
	for i, kind := range m.AutoStart {
		if !validKinds[kind] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("monitor.auto_start[%d]", i),
				Message: fmt.Sprintf("unknown observer kind %q", kind),
			})
		}
	}
	return errs
}

func validatePlatform(p *PlatformConfig) ValidationErrors {
	var errs ValidationErrors
	if !validBackends[p.Backend] {
		errs = append(errs, ValidationError{
			Field:   "platform.backend",
			Message: fmt.Sprintf("unknown backend %q", p.Backend),
		})
	}
	if p.APILevel < 0 {
		errs = append(errs, ValidationError{
			Field:   "platform.api_level",
			Message: "must not be negative",
		})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors
	if !j.Enabled {
		return errs
	}
	if j.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.path",
			Message: "required when the journal is enabled",
		})
	}
	if j.Sealed && j.KeyPath == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.key_path",
			Message: "required when sealing is enabled",
		})
	}
	if j.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.retention_days",
			Message: "must not be negative",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}
	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}
	if l.Output == "file" && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "required when output is \"file\"",
		})
	}
	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors
	if !i.Enabled {
		return errs
	}
	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "required when IPC is enabled",
		})
	}
	if i.Permissions != "" {
		if _, err := strconv.ParseUint(i.Permissions, 8, 32); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("not an octal mode: %q", i.Permissions),
			})
		}
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be at least 1",
		})
	}
	return errs
}

// SocketMode parses the configured socket permissions.
func (i *IPCConfig) SocketMode() (uint32, error) {
	if i.Permissions == "" {
		return 0600, nil
	}
	mode, err := strconv.ParseUint(i.Permissions, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse socket permissions %q: %w", i.Permissions, err)
	}
	return uint32(mode), nil
}
