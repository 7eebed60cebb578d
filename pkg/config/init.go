package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittolock Configuration File
#
# Every setting can be overridden with an environment variable named after
# its path, e.g. DITTOLOCK_LOGGING_LEVEL=DEBUG or DITTOLOCK_LOCK_TICKET_CAPACITY=64.
# logging.level and lock.ticket_capacity are reloaded while the server runs.

`

// sectionComments are written above each top-level key of a generated file.
var sectionComments = map[string]string{
	"logging":          "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, file path)",
	"telemetry":        "OpenTelemetry tracing and Pyroscope profiling (both opt-in)",
	"shutdown_timeout": "Maximum time to wait for graceful shutdown",
	"metrics":          "Prometheus metrics, served on the API server at /metrics",
	"api":              "Diagnostics HTTP server (/health, /debug/locks, /debug/deadlocks, /debug/tickets)",
	"lock":             "Lock manager tuning. ticket_capacity bounds concurrent S/X global holders when throttling is on",
	"storage":          "Badger store backing per-locker read snapshots",
	"workload":         "Defaults for `dittolock stress`",
}

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file. Fails if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at path.
// Fails if the file exists and force is false.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	data, err := generateConfigYAML(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateConfigYAML renders cfg with the file header and a comment above
// each section.
func generateConfigYAML(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping node: keys and values alternate in Content.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.Bytes(), nil
}
