package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

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

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000 // out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_ZeroMTU(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.MTU = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero MTU")
	}
}

func TestValidate_UnknownFeatureName(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Features = []string{"not-a-real-feature"}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unrecognized feature name")
	}
}

func TestValidate_EmptyFeatureList(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Features = nil

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for empty feature list")
	}
}

func TestValidate_SampleRateOutOfRange(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_BackoffBaseMustExceedOne(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Retransmission.BackoffBase = 1.0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for backoff_base <= 1")
	}
}

func TestValidate_LogLevelAcceptsCaseVariants(t *testing.T) {
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
