package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LockAndWorkload(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Lock.Buckets != 128 {
		t.Errorf("Expected 128 buckets, got %d", cfg.Lock.Buckets)
	}
	if cfg.Lock.TicketCapacity != 128 {
		t.Errorf("Expected 128 tickets, got %d", cfg.Lock.TicketCapacity)
	}
	if cfg.Lock.DeadlockCheckInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms check interval, got %v", cfg.Lock.DeadlockCheckInterval)
	}
	if cfg.Workload.Clients != 8 || cfg.Workload.Operations != 1000 {
		t.Errorf("Unexpected workload defaults: %+v", cfg.Workload)
	}
}

func TestApplyDefaults_Profiling(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	p := cfg.Telemetry.Profiling
	if p.Endpoint != "http://localhost:4040" {
		t.Errorf("Unexpected profiling endpoint %q", p.Endpoint)
	}
	if p.ContentionRate != 5 {
		t.Errorf("Expected contention rate 5, got %d", p.ContentionRate)
	}
	found := false
	for _, pt := range p.ProfileTypes {
		if pt == "mutex_duration" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected mutex profiles by default, got %v", p.ProfileTypes)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:         LoggingConfig{Level: "warn", Format: "json", Output: "/tmp/x.log"},
		ShutdownTimeout: 5 * time.Second,
	}
	cfg.Lock.Buckets = 4
	cfg.Telemetry.SampleRate = 0.25

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected normalized WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "/tmp/x.log" {
		t.Errorf("Explicit logging values overwritten: %+v", cfg.Logging)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Lock.Buckets != 4 {
		t.Errorf("Expected 4 buckets, got %d", cfg.Lock.Buckets)
	}
	if cfg.Telemetry.SampleRate != 0.25 {
		t.Errorf("Expected sample rate 0.25, got %v", cfg.Telemetry.SampleRate)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if !cfg.Lock.Throttling {
		t.Error("Expected throttling on by default")
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API enabled by default")
	}
}
