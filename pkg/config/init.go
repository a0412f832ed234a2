package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultConfigTemplate is the annotated YAML written by InitConfig /
// InitConfigToPath. It documents every section while leaving values at
// their defaults, so ApplyDefaults still backstops anything a user removes.
const defaultConfigTemplate = `# HOPR Session Transport Core configuration file
logging:
  level: INFO
  format: text
  output: stdout

telemetry:
  enabled: false
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: "http://localhost:4040"

shutdown_timeout: 30s

metrics:
  enabled: false
  port: 9090

manager:
  start_timeout: 3s
  start_retries: 3
  accept_queue_size: 16
  shutdown_grace: 5s

session:
  mtu: 466
  features:
    - segmentation
    - acknowledge_frames
    - request_incomplete_frames
    - retransmit_frames
  idle_timeout: 30s
  close_grace_timeout: 5s
  outbound_window: 64
  retransmission:
    initial_rto: 200ms
    backoff_base: 2.0
    max_rto: 10s
    max_retries: 5
  segmenter:
    frame_size: 4096
    no_delay: false
    flush_interval: 20ms
  reassembler:
    capacity: 64
    max_age: 30s
  sequencer:
    skip_queue_capacity: 64
    gap_timeout: 2s
  surb:
    enabled: false
`

// InitConfig writes the default configuration template to the default
// config path, creating parent directories as needed, and returns the path
// written. It refuses to overwrite an existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration template to path,
// refusing to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
