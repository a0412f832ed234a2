package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/internal/faultynet"
	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/frame"
	"github.com/hoprnet/hopr-session-go/pkg/session/manager"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

func testSessionConfig() session.Config {
	return session.Config{
		MTU:      466,
		Features: session.DefaultSupportedFeatures,
		Segmenter: frame.SegmenterConfig{
			MTU:     466,
			NoDelay: true,
		},
		Reassembler: frame.ReassemblerConfig{
			Capacity: 64,
			MaxAge:   2 * time.Second,
		},
		Sequencer: frame.SequencerConfig{
			SkipQueueCapacity: 64,
			GapTimeout:        2 * time.Second,
		},
		IdleTimeout:       2 * time.Second,
		CloseGraceTimeout: time.Second,
	}
}

func startManagers(t *testing.T, cfgA, cfgB faultynet.Config) (*manager.Manager, *manager.Manager, session.Pseudonym, session.Pseudonym, func()) {
	t.Helper()

	alice := manager.NewPseudonym()
	bob := manager.NewPseudonym()

	carrierA, carrierB := faultynet.NewPair(alice, bob, cfgA, cfgB)

	mgrA := manager.New(carrierA, manager.AllowAll{}, manager.Config{
		StartTimeout: 500 * time.Millisecond,
		StartRetries: 5,
		Session:      testSessionConfig(),
	})
	mgrB := manager.New(carrierB, manager.AllowAll{}, manager.Config{
		StartTimeout: 500 * time.Millisecond,
		StartRetries: 5,
		Session:      testSessionConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	cleanup := func() {
		cancel()
		carrierA.Close()
		carrierB.Close()
	}
	return mgrA, mgrB, alice, bob, cleanup
}

func TestDialAndAcceptEstablishesSession(t *testing.T) {
	mgrA, mgrB, _, bob, cleanup := startManagers(t, faultynet.Reliable(), faultynet.Reliable())
	defer cleanup()

	accepted, err := mgrB.Listen("echo")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientSess, err := mgrA.Dial(ctx, bob, "echo", session.DefaultSupportedFeatures)
	require.NoError(t, err)
	require.NotNil(t, clientSess)

	select {
	case serverSess := <-accepted:
		require.NotNil(t, serverSess)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the accepted session")
	}
}

func TestDialRejectedWithoutListener(t *testing.T) {
	mgrA, _, _, bob, cleanup := startManagers(t, faultynet.Reliable(), faultynet.Reliable())
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := mgrA.Dial(ctx, bob, "nobody-home", session.DefaultSupportedFeatures)
	require.Error(t, err)

	var sessErr *session.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, session.KindStartRejected, sessErr.Kind)
	require.Equal(t, segment.RejectNoListener, sessErr.Reason)
}

func TestReliableRoundTripDeliversBytesInOrder(t *testing.T) {
	mgrA, mgrB, _, bob, cleanup := startManagers(t, faultynet.Reliable(), faultynet.Reliable())
	defer cleanup()

	accepted, err := mgrB.Listen("echo")
	require.NoError(t, err)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDial()

	clientSess, err := mgrA.Dial(dialCtx, bob, "echo", session.DefaultSupportedFeatures)
	require.NoError(t, err)

	var serverSess *session.Session
	select {
	case serverSess = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := clientSess.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	readCtx, cancelRead := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelRead()

	buf := make([]byte, len(payload))
	got := 0
	for got < len(payload) {
		n, err := serverSess.Read(readCtx, buf[got:])
		require.NoError(t, err)
		if n == 0 {
			t.Fatal("session closed before delivering all bytes")
		}
		got += n
	}
	require.Equal(t, payload, buf)
}

func TestLossyLinkStillDeliversUnderRetransmission(t *testing.T) {
	lossy := faultynet.Config{DropProbability: 0.1}
	mgrA, mgrB, _, bob, cleanup := startManagers(t, lossy, lossy)
	defer cleanup()

	accepted, err := mgrB.Listen("echo")
	require.NoError(t, err)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDial()

	clientSess, err := mgrA.Dial(dialCtx, bob, "echo", session.DefaultSupportedFeatures)
	require.NoError(t, err)

	var serverSess *session.Session
	select {
	case serverSess = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted")
	}

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := clientSess.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	readCtx, cancelRead := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelRead()

	buf := make([]byte, len(payload))
	got := 0
	for got < len(payload) {
		n, err := serverSess.Read(readCtx, buf[got:])
		require.NoError(t, err)
		if n == 0 {
			t.Fatal("session closed before delivering all bytes")
		}
		got += n
	}
	require.Equal(t, payload, buf)
}
