package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

session:
  mtu: 900
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Session.MTU != 900 {
		t.Errorf("Expected explicit MTU 900, got %d", cfg.Session.MTU)
	}
	if cfg.Manager.StartRetries != 3 {
		t.Errorf("Expected default start_retries 3, got %d", cfg.Manager.StartRetries)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Session.MTU != 466 {
		t.Errorf("Expected default MTU 466, got %d", cfg.Session.MTU)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Manager.StartTimeout != 3*time.Second {
		t.Errorf("Expected default start_timeout 3s, got %v", cfg.Manager.StartTimeout)
	}
	if cfg.Session.OutboundWindow != 64 {
		t.Errorf("Expected default outbound_window 64, got %d", cfg.Session.OutboundWindow)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "hoprsessiond" {
		t.Errorf("Expected directory name 'hoprsessiond', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	_ = os.Setenv("HOPRSESSION_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("HOPRSESSION_SESSION_MTU", "1200")
	defer func() {
		_ = os.Unsetenv("HOPRSESSION_LOGGING_LEVEL")
		_ = os.Unsetenv("HOPRSESSION_SESSION_MTU")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

session:
  mtu: 466
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Session.MTU != 1200 {
		t.Errorf("Expected MTU 1200 from env var, got %d", cfg.Session.MTU)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after SaveConfig failed: %v", err)
	}
	if loaded.Logging.Level != "WARN" {
		t.Errorf("Expected persisted log level WARN, got %q", loaded.Logging.Level)
	}
}

func TestToSessionConfig_ParsesFeatures(t *testing.T) {
	cfg := GetDefaultConfig()
	sessCfg, err := cfg.ToSessionConfig()
	if err != nil {
		t.Fatalf("ToSessionConfig failed: %v", err)
	}
	if sessCfg.MTU != cfg.Session.MTU {
		t.Errorf("Expected translated MTU %d, got %d", cfg.Session.MTU, sessCfg.MTU)
	}
}

func TestToSessionConfig_RejectsUnknownFeature(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Features = []string{"not-a-real-feature"}

	if _, err := cfg.ToSessionConfig(); err == nil {
		t.Fatal("Expected an error for an unknown feature name")
	}
}

func TestToManagerConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	mgrCfg, err := cfg.ToManagerConfig()
	if err != nil {
		t.Fatalf("ToManagerConfig failed: %v", err)
	}
	if mgrCfg.StartTimeout != cfg.Manager.StartTimeout {
		t.Errorf("Expected translated StartTimeout %v, got %v", cfg.Manager.StartTimeout, mgrCfg.StartTimeout)
	}
}
