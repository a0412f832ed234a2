// Package config loads and validates the static configuration for a HOPR
// session transport node: logging, telemetry, metrics, and the tunables that
// feed pkg/session.Config and pkg/session/manager.Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hoprnet/hopr-session-go/internal/bytesize"
)

// Config is the complete static configuration for a session transport node.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (HOPRSESSION_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// When no configuration file is found, Load returns GetDefaultConfig() and
// does not read environment variables.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds how long the node waits for Manager.Shutdown
	// to drain existing sessions before the process exits.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Manager configures the session manager's start handshake and
	// lifecycle behavior.
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`

	// Session carries the per-session defaults offered during negotiation
	// and applied once a session is established.
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// ManagerConfig configures pkg/session/manager.Manager.
type ManagerConfig struct {
	// StartTimeout bounds how long an initiator waits for START_ACC or
	// START_REJ before retrying.
	StartTimeout time.Duration `mapstructure:"start_timeout" validate:"required,gt=0" yaml:"start_timeout"`

	// StartRetries is how many additional START_REQ attempts are made
	// before the initiator gives up with SessionError.StartTimeout.
	StartRetries int `mapstructure:"start_retries" validate:"gte=0" yaml:"start_retries"`

	// AcceptQueueSize bounds the channel returned by Manager.Listen.
	AcceptQueueSize int `mapstructure:"accept_queue_size" validate:"required,gt=0" yaml:"accept_queue_size"`

	// ShutdownGrace bounds how long Manager.Shutdown waits for sessions to
	// close cleanly before abandoning them.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"required,gt=0" yaml:"shutdown_grace"`
}

// SessionConfig carries the per-session tunables: the capabilities offered
// during negotiation, and the segmenter/reassembler/sequencer/retransmission/
// SURB parameters applied once a session is running.
type SessionConfig struct {
	// MTU is the carrier's fixed packet payload size, in bytes.
	MTU int `mapstructure:"mtu" validate:"required,gt=0" yaml:"mtu"`

	// Features lists the capabilities this node offers during negotiation.
	// Valid values: segmentation, acknowledge_frames,
	// request_incomplete_frames, retransmit_frames, no_delay.
	Features []string `mapstructure:"features" validate:"required,min=1,dive,oneof=segmentation acknowledge_frames request_incomplete_frames retransmit_frames no_delay" yaml:"features"`

	// UserDuplexCapacity is defaulted (16 * MTU) and validated but not
	// passed to sessions: a session's read buffer has no size bound and a
	// slow reader applies no backpressure.
	UserDuplexCapacity bytesize.ByteSize `mapstructure:"user_duplex_capacity" yaml:"user_duplex_capacity"`

	// IdleTimeout closes a session that has exchanged no frames for this
	// long, after first attempting a keepalive round trip.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"required,gt=0" yaml:"idle_timeout"`

	// CloseGraceTimeout bounds how long a local Close() waits for the
	// peer's CLOSE acknowledgement before finalizing anyway.
	CloseGraceTimeout time.Duration `mapstructure:"close_grace_timeout" validate:"required,gt=0" yaml:"close_grace_timeout"`

	// OutboundWindow bounds how many frames may be unacknowledged at once
	// when AcknowledgeFrames is negotiated.
	OutboundWindow int `mapstructure:"outbound_window" validate:"required,gt=0" yaml:"outbound_window"`

	Retransmission RetransmissionConfig `mapstructure:"retransmission" yaml:"retransmission"`
	Segmenter      SegmenterConfig      `mapstructure:"segmenter" yaml:"segmenter"`
	Reassembler    ReassemblerConfig    `mapstructure:"reassembler" yaml:"reassembler"`
	Sequencer      SequencerConfig      `mapstructure:"sequencer" yaml:"sequencer"`

	// Surb configures the SURB balancer. With Enabled false no balancer is
	// attached to sessions, whatever the other fields hold.
	Surb SurbConfig `mapstructure:"surb" yaml:"surb"`
}

// RetransmissionConfig mirrors pkg/session.RetransmissionConfig.
type RetransmissionConfig struct {
	InitialRTO  time.Duration `mapstructure:"initial_rto" validate:"required,gt=0" yaml:"initial_rto"`
	BackoffBase float64       `mapstructure:"backoff_base" validate:"gt=1" yaml:"backoff_base"`
	MaxRTO      time.Duration `mapstructure:"max_rto" validate:"required,gt=0" yaml:"max_rto"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"required,gt=0" yaml:"max_retries"`
}

// SegmenterConfig mirrors pkg/session/frame.SegmenterConfig.
type SegmenterConfig struct {
	FrameSize     int           `mapstructure:"frame_size" validate:"gte=0" yaml:"frame_size"`
	NoDelay       bool          `mapstructure:"no_delay" yaml:"no_delay"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0" yaml:"flush_interval"`
}

// ReassemblerConfig mirrors pkg/session/frame.ReassemblerConfig.
type ReassemblerConfig struct {
	Capacity int           `mapstructure:"capacity" validate:"required,gt=0" yaml:"capacity"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"required,gt=0" yaml:"max_age"`
}

// SequencerConfig mirrors pkg/session/frame.SequencerConfig.
type SequencerConfig struct {
	SkipQueueCapacity int           `mapstructure:"skip_queue_capacity" validate:"gte=0" yaml:"skip_queue_capacity"`
	GapTimeout        time.Duration `mapstructure:"gap_timeout" validate:"required,gt=0" yaml:"gap_timeout"`
}

// SurbConfig mirrors pkg/session/surb.Config.
type SurbConfig struct {
	// Enabled controls whether a SURB balancer is attached to each
	// session at all; when false, Session.Config.Surb is left nil.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Target            int           `mapstructure:"target" validate:"omitempty,gt=0" yaml:"target"`
	LowWatermark      int           `mapstructure:"low_watermark" validate:"omitempty,gt=0" yaml:"low_watermark"`
	RefillBatch       int           `mapstructure:"refill_batch" validate:"omitempty,gt=0" yaml:"refill_batch"`
	MeasurementWindow time.Duration `mapstructure:"measurement_window" validate:"omitempty,gt=0" yaml:"measurement_window"`
	LeadTime          time.Duration `mapstructure:"lead_time" validate:"omitempty,gt=0" yaml:"lead_time"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server are
	// active (zero overhead when false).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when no config
// file can be found.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  hoprsessiond init\n\n"+
				"Or specify a custom config file:\n"+
				"  hoprsessiond serve --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over the configuration.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("HOPRSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, honoring
// XDG_CONFIG_HOME and falling back to ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hoprsessiond")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hoprsessiond")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
