package config

import (
	"strings"
	"time"

	"github.com/hoprnet/hopr-session-go/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	applyManagerDefaults(&cfg.Manager)
	applySessionDefaults(&cfg.Session)
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
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyManagerDefaults sets session manager defaults, matching
// manager.Config.withDefaults.
func applyManagerDefaults(cfg *ManagerConfig) {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 3 * time.Second
	}
	if cfg.StartRetries <= 0 {
		cfg.StartRetries = 3
	}
	if cfg.AcceptQueueSize <= 0 {
		cfg.AcceptQueueSize = 16
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
}

// applySessionDefaults sets per-session defaults. IdleTimeout,
// CloseGraceTimeout, OutboundWindow and the retransmission defaults equal
// those of session.Config.withDefaults and RetransmissionConfig.withDefaults;
// the segmenter, reassembler, sequencer and SURB defaults set here differ
// from (or have no counterpart in) the fallbacks of pkg/session/frame and
// pkg/session/surb.
func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MTU == 0 {
		cfg.MTU = 466 // HOPR's default packet payload size, minus session framing overhead
	}
	if len(cfg.Features) == 0 {
		cfg.Features = []string{
			"segmentation",
			"acknowledge_frames",
			"request_incomplete_frames",
			"retransmit_frames",
		}
	}
	if cfg.UserDuplexCapacity == 0 {
		cfg.UserDuplexCapacity = bytesize.ByteSize(16 * cfg.MTU)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.CloseGraceTimeout <= 0 {
		cfg.CloseGraceTimeout = 5 * time.Second
	}
	if cfg.OutboundWindow <= 0 {
		cfg.OutboundWindow = 64
	}

	applyRetransmissionDefaults(&cfg.Retransmission)
	applySegmenterDefaults(&cfg.Segmenter)
	applyReassemblerDefaults(&cfg.Reassembler)
	applySequencerDefaults(&cfg.Sequencer)
	applySurbDefaults(&cfg.Surb)
}

func applyRetransmissionDefaults(cfg *RetransmissionConfig) {
	if cfg.InitialRTO <= 0 {
		cfg.InitialRTO = 200 * time.Millisecond
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = 2.0
	}
	if cfg.MaxRTO <= 0 {
		cfg.MaxRTO = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
}

func applySegmenterDefaults(cfg *SegmenterConfig) {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 20 * time.Millisecond
	}
}

func applyReassemblerDefaults(cfg *ReassemblerConfig) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
}

func applySequencerDefaults(cfg *SequencerConfig) {
	if cfg.SkipQueueCapacity <= 0 {
		cfg.SkipQueueCapacity = 64
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = 2 * time.Second
	}
}

func applySurbDefaults(cfg *SurbConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Target <= 0 {
		cfg.Target = 100
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = cfg.Target / 4
	}
	if cfg.RefillBatch <= 0 {
		cfg.RefillBatch = cfg.Target / 2
	}
	if cfg.MeasurementWindow <= 0 {
		cfg.MeasurementWindow = time.Second
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = 500 * time.Millisecond
	}
}

// GetDefaultConfig returns a complete Config populated entirely by defaults,
// used when no config file is present.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
