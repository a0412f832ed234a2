package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hoprnet/hopr-session-go/internal/faultynet"
	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/internal/telemetry"
	"github.com/hoprnet/hopr-session-go/pkg/config"
	"github.com/hoprnet/hopr-session-go/pkg/metrics"
	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/manager"
)

// echoTarget is the Listen target the serving side of the loopback link
// answers on. No real mix-network carrier is in scope for this module (see
// pkg/session.Carrier's doc comment); serve instead runs a self-contained
// pair of managers joined by internal/faultynet so the full pipeline -
// negotiation, segmentation, retransmission, metrics - runs continuously
// against a real (if local) carrier.
const echoTarget = "echo"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session transport node",
	Long: `Run the session transport node: a listening endpoint and a
self-dialing client joined by an in-process carrier, exercising the full
segmentation/retransmission/SURB pipeline continuously while serving
Prometheus metrics.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/hoprsessiond/config.yaml.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "hoprsessiond",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "hoprsessiond",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics disabled")
	}

	managerCfg, err := cfg.ToManagerConfig()
	if err != nil {
		return fmt.Errorf("invalid session configuration: %w", err)
	}

	listener := manager.NewPseudonym()
	dialer := manager.NewPseudonym()
	carrierListener, carrierDialer := faultynet.NewPair(listener, dialer, faultynet.Reliable(), faultynet.Reliable())
	defer carrierListener.Close()
	defer carrierDialer.Close()

	mgrListener := manager.New(carrierListener, manager.AllowAll{}, managerCfg)
	mgrDialer := manager.New(carrierDialer, manager.AllowAll{}, managerCfg)
	go mgrListener.Run(ctx)
	go mgrDialer.Run(ctx)

	accepted, err := mgrListener.Listen(echoTarget)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go acceptEchoLoop(ctx, accepted)
	go dialLoop(ctx, mgrDialer, listener, cfg.Manager.StartTimeout)

	logger.Info("hoprsessiond node is running", "mtu", cfg.Session.MTU, "features", cfg.Session.Features)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, initiating graceful shutdown")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := mgrDialer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dialer manager shutdown error", "error", err)
	}
	if err := mgrListener.Shutdown(shutdownCtx); err != nil {
		logger.Warn("listener manager shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("node stopped")
	return nil
}

// acceptEchoLoop accepts every session the listener receives and echoes
// back whatever bytes it reads, so the retransmission/reassembly pipeline
// stays exercised for as long as serve runs.
func acceptEchoLoop(ctx context.Context, accepted <-chan *session.Session) {
	for {
		select {
		case sess, ok := <-accepted:
			if !ok {
				return
			}
			go echo(ctx, sess)
		case <-ctx.Done():
			return
		}
	}
}

func echo(ctx context.Context, sess *session.Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.Read(ctx, buf)
		if n > 0 {
			if _, werr := sess.Write(buf[:n]); werr != nil {
				logger.Debug("echo write failed", "session_id", sess.ID(), "error", werr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dialLoop periodically opens a session against listener and sends a small
// keepalive payload, keeping the loopback link alive as a continuous
// end-to-end smoke test of the pipeline the node is running.
func dialLoop(ctx context.Context, mgr *manager.Manager, peer session.Pseudonym, startTimeout time.Duration) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	dial := func() {
		dialCtx, cancel := context.WithTimeout(ctx, startTimeout*2)
		defer cancel()

		sess, err := mgr.Dial(dialCtx, peer, echoTarget, session.DefaultSupportedFeatures)
		if err != nil {
			logger.Warn("loopback dial failed", "error", err)
			return
		}
		defer func() { _ = sess.Close(ctx) }()

		if _, err := sess.Write([]byte("hoprsessiond-keepalive")); err != nil {
			logger.Warn("loopback write failed", "error", err)
			return
		}
		buf := make([]byte, 64)
		readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
		defer readCancel()
		if _, err := sess.Read(readCtx, buf); err != nil {
			logger.Warn("loopback read failed", "error", err)
		}
	}

	dial()
	for {
		select {
		case <-ticker.C:
			dial()
		case <-ctx.Done():
			return
		}
	}
}
