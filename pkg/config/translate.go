package config

import (
	"fmt"

	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/frame"
	"github.com/hoprnet/hopr-session-go/pkg/session/manager"
	"github.com/hoprnet/hopr-session-go/pkg/session/surb"
)

// featureBits maps the config file's feature names to session.FeatureSet
// bits. Kept here rather than exported from pkg/session, since it is a
// config-layer concern only: runtime code works with the bitset directly.
var featureBits = map[string]session.FeatureSet{
	"segmentation":              session.Segmentation,
	"acknowledge_frames":        session.AcknowledgeFrames,
	"request_incomplete_frames": session.RequestIncompleteFrames,
	"retransmit_frames":         session.RetransmitFrames,
	"no_delay":                  session.NoDelay,
}

// ParseFeatures converts the configured feature names into a FeatureSet,
// rejecting anything not recognized by featureBits.
func ParseFeatures(names []string) (session.FeatureSet, error) {
	var fs session.FeatureSet
	for _, name := range names {
		bit, ok := featureBits[name]
		if !ok {
			return 0, fmt.Errorf("config: unknown feature %q", name)
		}
		fs |= bit
	}
	return fs, nil
}

// ToSessionConfig translates the static SessionConfig into the runtime
// session.Config consumed by session.New and manager.Config.Session.
func (c *Config) ToSessionConfig() (session.Config, error) {
	features, err := ParseFeatures(c.Session.Features)
	if err != nil {
		return session.Config{}, err
	}

	cfg := session.Config{
		MTU:      c.Session.MTU,
		Features: features,
		Retransmission: session.RetransmissionConfig{
			InitialRTO:  c.Session.Retransmission.InitialRTO,
			BackoffBase: c.Session.Retransmission.BackoffBase,
			MaxRTO:      c.Session.Retransmission.MaxRTO,
			MaxRetries:  c.Session.Retransmission.MaxRetries,
		},
		Reassembler: frame.ReassemblerConfig{
			Capacity: c.Session.Reassembler.Capacity,
			MaxAge:   c.Session.Reassembler.MaxAge,
		},
		Sequencer: frame.SequencerConfig{
			SkipQueueCapacity: c.Session.Sequencer.SkipQueueCapacity,
			GapTimeout:        c.Session.Sequencer.GapTimeout,
		},
		Segmenter: frame.SegmenterConfig{
			MTU:           c.Session.MTU,
			FrameSize:     c.Session.Segmenter.FrameSize,
			NoDelay:       c.Session.Segmenter.NoDelay,
			FlushInterval: c.Session.Segmenter.FlushInterval,
		},
		IdleTimeout:       c.Session.IdleTimeout,
		CloseGraceTimeout: c.Session.CloseGraceTimeout,
		OutboundWindow:    c.Session.OutboundWindow,
	}

	if c.Session.Surb.Enabled {
		cfg.Surb = &surb.Config{
			Target:            c.Session.Surb.Target,
			LowWatermark:      c.Session.Surb.LowWatermark,
			RefillBatch:       c.Session.Surb.RefillBatch,
			MeasurementWindow: c.Session.Surb.MeasurementWindow,
			LeadTime:          c.Session.Surb.LeadTime,
		}
	}

	return cfg, nil
}

// ToManagerConfig translates the static configuration into the runtime
// manager.Config consumed by manager.New.
func (c *Config) ToManagerConfig() (manager.Config, error) {
	sessionCfg, err := c.ToSessionConfig()
	if err != nil {
		return manager.Config{}, err
	}

	return manager.Config{
		StartTimeout:    c.Manager.StartTimeout,
		StartRetries:    c.Manager.StartRetries,
		AcceptQueueSize: c.Manager.AcceptQueueSize,
		ShutdownGrace:   c.Manager.ShutdownGrace,
		Session:         sessionCfg,
	}, nil
}
