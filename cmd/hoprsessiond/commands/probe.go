package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoprnet/hopr-session-go/internal/cli/output"
	"github.com/hoprnet/hopr-session-go/internal/faultynet"
	"github.com/hoprnet/hopr-session-go/pkg/config"
	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/manager"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a single round trip through the session pipeline and report timing",
	Long: `probe loads the configuration, establishes one session over an
in-process loopback carrier, writes a payload, reads it back, and reports
the round trip latency and the session's lifecycle state. It exits after
one round trip; use "serve" to run the node continuously.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "overall deadline for the probe")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	managerCfg, err := cfg.ToManagerConfig()
	if err != nil {
		return fmt.Errorf("invalid session configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	listener := manager.NewPseudonym()
	dialer := manager.NewPseudonym()
	carrierListener, carrierDialer := faultynet.NewPair(listener, dialer, faultynet.Reliable(), faultynet.Reliable())
	defer carrierListener.Close()
	defer carrierDialer.Close()

	mgrListener := manager.New(carrierListener, manager.AllowAll{}, managerCfg)
	mgrDialer := manager.New(carrierDialer, manager.AllowAll{}, managerCfg)
	go mgrListener.Run(ctx)
	go mgrDialer.Run(ctx)
	defer func() { _ = mgrListener.Shutdown(context.Background()) }()
	defer func() { _ = mgrDialer.Shutdown(context.Background()) }()

	accepted, err := mgrListener.Listen(echoTarget)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	payload := []byte("hoprsessiond-probe")
	start := time.Now()

	clientSess, err := mgrDialer.Dial(ctx, listener, echoTarget, session.DefaultSupportedFeatures)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() { _ = clientSess.Close(context.Background()) }()

	var serverSess *session.Session
	select {
	case serverSess = <-accepted:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the peer to accept")
	}
	go echo(ctx, serverSess)

	if _, err := clientSess.Write(payload); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	buf := make([]byte, len(payload))
	n, err := clientSess.Read(ctx, buf)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	roundTrip := time.Since(start)

	result := probeResult{
		SessionID:    fmt.Sprintf("%d", clientSess.ID()),
		BytesEchoed:  n,
		RoundTrip:    roundTrip.String(),
		FeaturesUsed: clientSess.State().String(),
	}

	return printProbeResult(result)
}

type probeResult struct {
	SessionID    string `json:"session_id" yaml:"session_id"`
	BytesEchoed  int    `json:"bytes_echoed" yaml:"bytes_echoed"`
	RoundTrip    string `json:"round_trip" yaml:"round_trip"`
	FeaturesUsed string `json:"state" yaml:"state"`
}

func (r probeResult) Headers() []string { return []string{"Session ID", "Bytes Echoed", "Round Trip", "State"} }

func (r probeResult) Rows() [][]string {
	return [][]string{{r.SessionID, fmt.Sprintf("%d", r.BytesEchoed), r.RoundTrip, r.FeaturesUsed}}
}

func printProbeResult(result probeResult) error {
	format, err := GetOutputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, result)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, result)
	default:
		return output.PrintTable(os.Stdout, result)
	}
}
