package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains JSON configuration documents. The decoder
// alone would silently ignore misspelled sections; the schema rejects
// them with a field path.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "audit": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "allowlist": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "denylist": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    },
    "monitor": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "buffer": {"type": "integer", "minimum": 1},
        "auto_start": {
          "type": "array",
          "items": {
            "enum": ["touch_obscuring", "display_count", "call_state", "microphone_activity"]
          }
        }
      }
    },
    "platform": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backend": {"enum": ["auto", "dbus", "memory", "null"]},
        "api_level": {"type": "integer", "minimum": 0},
        "settings_path": {"type": "string"}
      }
    },
    "journal": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string"},
        "sealed": {"type": "boolean"},
        "key_path": {"type": "string"},
        "retention_days": {"type": "integer", "minimum": 0},
        "busy_timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"type": "string"},
        "file_path": {"type": "string"},
        "max_size_mb": {"type": "integer", "minimum": 0},
        "max_backups": {"type": "integer", "minimum": 0},
        "max_age_days": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"}
      }
    },
    "ipc": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "socket_path": {"type": "string"},
        "permissions": {"type": "string", "pattern": "^0?[0-7]{3,4}$"},
        "max_connections": {"type": "integer", "minimum": 1},
        "timeout_sec": {"type": "integer", "minimum": 0}
      }
    },
    "daemon": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pid_file": {"type": "string"},
        "health_interval_sec": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", strings.NewReader(configSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// ValidateDocument checks a JSON configuration document against the
// schema before it is decoded.
func ValidateDocument(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config document: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
