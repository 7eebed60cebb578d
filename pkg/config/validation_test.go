package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "TRACE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_Buckets(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lock.Buckets = 100000

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for too many buckets")
	}
}

func TestValidate_StorageDirRequired(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.InMemory = false

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for on-disk storage without a directory")
	}

	cfg.Storage.Dir = t.TempDir()
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected on-disk storage with a directory to be valid, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate above 1")
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for telemetry without endpoint")
	}
}

func TestValidate_ProfileTypes(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "heap"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown profile type")
	}
	if !strings.Contains(err.Error(), "ProfileTypes") {
		t.Errorf("Expected error to name ProfileTypes, got: %v", err)
	}
}

func TestValidate_DeadlockCheckInterval(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lock.DeadlockDetection = true
	cfg.Lock.DeadlockCheckInterval = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for deadlock detection without an interval")
	}
}

func TestValidate_WorkloadNeedsBound(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Workload.Operations = 0
	cfg.Workload.Duration = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for an unbounded workload")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected lowercase level to be accepted, got: %v", err)
	}
}
