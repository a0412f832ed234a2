package faultynet_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/internal/faultynet"
	"github.com/hoprnet/hopr-session-go/pkg/session"
)

func TestReliableLinkDeliversExactlyOnce(t *testing.T) {
	a, b := faultynet.NewPair(session.Pseudonym{1}, session.Pseudonym{2}, faultynet.Reliable(), faultynet.Reliable())
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(context.Background(), nil, []byte("hello")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pkt, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), []byte(pkt.Data))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = b.Recv(ctx2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAlwaysDropDeliversNothing(t *testing.T) {
	a, b := faultynet.NewPair(session.Pseudonym{1}, session.Pseudonym{2}, faultynet.Config{DropProbability: 1}, faultynet.Reliable())
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(context.Background(), nil, []byte("lost")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAlwaysDuplicateDeliversTwice(t *testing.T) {
	cfg := faultynet.Config{DuplicateProbability: 1, Rand: rand.New(rand.NewSource(1))}
	a, b := faultynet.NewPair(session.Pseudonym{1}, session.Pseudonym{2}, cfg, faultynet.Reliable())
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(context.Background(), nil, []byte("twice")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("twice"), []byte(first.Data))

	second, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("twice"), []byte(second.Data))
}

func TestCloseUnblocksRecv(t *testing.T) {
	a, b := faultynet.NewPair(session.Pseudonym{1}, session.Pseudonym{2}, faultynet.Reliable(), faultynet.Reliable())
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}
