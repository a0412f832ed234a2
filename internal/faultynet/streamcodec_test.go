package faultynet_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/internal/faultynet"
	"github.com/hoprnet/hopr-session-go/pkg/session"
)

func TestFixedLengthCodecDecodesOnlyOnceEnoughBytesBuffered(t *testing.T) {
	codec := faultynet.NewFixedLengthCodec(10)

	codec.Push(make([]byte, 9))
	_, ok := codec.Decode()
	require.False(t, ok)

	codec.Push([]byte{1})
	pkt, ok := codec.Decode()
	require.True(t, ok)
	require.Len(t, pkt, 10)

	_, ok = codec.Decode()
	require.False(t, ok)
}

func TestFixedLengthCodecSplitsSurplusBytesIntoTheNextPacket(t *testing.T) {
	codec := faultynet.NewFixedLengthCodec(10)

	codec.Push(make([]byte, 11))
	pkt, ok := codec.Decode()
	require.True(t, ok)
	require.Len(t, pkt, 10)

	_, ok = codec.Decode()
	require.False(t, ok)

	codec.Push(make([]byte, 9))
	pkt, ok = codec.Decode()
	require.True(t, ok)
	require.Len(t, pkt, 10)
}

func TestStreamCarrierRoundTripsOverAPipe(t *testing.T) {
	connA, connB := net.Pipe()
	a := faultynet.NewStreamCarrier(connA, session.Pseudonym{1}, 16)
	b := faultynet.NewStreamCarrier(connB, session.Pseudonym{2}, 16)
	defer a.Close()
	defer b.Close()

	payload := make(session.ApplicationData, 16)
	copy(payload, []byte("stream-framed!!!"))
	require.NoError(t, a.Send(context.Background(), nil, payload))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pkt, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte(payload), []byte(pkt.Data))
}

func TestStreamCarrierRejectsWrongSizedPackets(t *testing.T) {
	connA, connB := net.Pipe()
	a := faultynet.NewStreamCarrier(connA, session.Pseudonym{1}, 16)
	defer a.Close()
	defer connB.Close()

	err := a.Send(context.Background(), nil, session.ApplicationData("too short"))
	require.Error(t, err)
}

func TestStreamCarrierCloseUnblocksRecv(t *testing.T) {
	connA, connB := net.Pipe()
	a := faultynet.NewStreamCarrier(connA, session.Pseudonym{1}, 16)
	b := faultynet.NewStreamCarrier(connB, session.Pseudonym{2}, 16)
	defer connA.Close()
	defer connB.Close()

	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := b.Recv(ctx)
	require.Error(t, err)
}
