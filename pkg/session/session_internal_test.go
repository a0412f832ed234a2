package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/pkg/session/frame"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// capturingCarrier records every segment handed to Send, for assertions
// against what a session actually put on the wire.
type capturingCarrier struct {
	mu   sync.Mutex
	sent []segment.Segment
}

func (c *capturingCarrier) Send(_ context.Context, _ DestinationRouting, data ApplicationData) error {
	seg, err := segment.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, seg)
	c.mu.Unlock()
	return nil
}

func (c *capturingCarrier) Recv(ctx context.Context) (ApplicationDataIn, error) {
	<-ctx.Done()
	return ApplicationDataIn{}, ctx.Err()
}

func (c *capturingCarrier) last() (segment.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return segment.Segment{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func testConfig() Config {
	return Config{
		MTU:      466,
		Features: DefaultSupportedFeatures,
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
	}
}

func TestIssueSurbsSendsControlSegment(t *testing.T) {
	carrier := &capturingCarrier{}
	s := New(1, Pseudonym{1}, nil, carrier, testConfig(), nil)

	require.NoError(t, s.issueSurbs(4))

	seg, ok := carrier.last()
	require.True(t, ok)
	require.True(t, seg.IsControl())
	require.Equal(t, segment.ControlSurbRequest, seg.ControlKind())

	payload, err := segment.DecodeSurbRequest(seg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(4), payload.Count)
}

func TestIssueSurbsNoopForNonPositiveCount(t *testing.T) {
	carrier := &capturingCarrier{}
	s := New(1, Pseudonym{1}, nil, carrier, testConfig(), nil)

	require.NoError(t, s.issueSurbs(0))
	_, ok := carrier.last()
	require.False(t, ok)
}

func TestHandleDataEscalatesToProtocolErrorAfterInconsistentThreshold(t *testing.T) {
	carrier := &capturingCarrier{}
	var failCause error
	s := New(1, Pseudonym{1}, nil, carrier, testConfig(), func(_ SessionID, _ Pseudonym, cause error) {
		failCause = cause
	})

	first := segment.Segment{FrameID: 7, SegmentsInFrame: 2, SeqNo: 0, Payload: []byte("a")}
	s.handleData(context.Background(), first)

	for i := 0; i <= maxInconsistentSegments; i++ {
		conflicting := segment.Segment{FrameID: 7, SegmentsInFrame: 3, SeqNo: 0, Payload: []byte("a")}
		s.handleData(context.Background(), conflicting)
	}

	require.ErrorIs(t, s.Err(), ErrProtocolError)
	require.Error(t, failCause)
}
