package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/api"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
	"github.com/marmos91/dittolock/pkg/workload"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans defaulting to true are seeded in viper instead (see setupViper)
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	cfg.API.ApplyDefaults()
	cfg.Lock.ApplyDefaults()
	cfg.Workload.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	defaults := telemetry.DefaultProfilingConfig()

	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	// Lock contention shows up in mutex and block profiles, so those are on by default.
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = append([]string(nil), defaults.ProfileTypes...)
	}
	if cfg.ContentionRate == 0 {
		cfg.ContentionRate = defaults.ContentionRate
	}
}

// applyShutdownTimeoutDefaults sets the graceful shutdown default.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Running without a configuration file
func GetDefaultConfig() *Config {
	apiEnabled := true
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Metrics:  MetricsConfig{Enabled: true},
		API:      api.APIConfig{Enabled: &apiEnabled, Port: api.DefaultPort},
		Lock:     lock.DefaultConfig(),
		Storage:  snapshot.DefaultConfig(),
		Workload: workload.DefaultConfig(),
	}

	ApplyDefaults(cfg)
	return cfg
}
