package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

func TestSequencerInOrderDeliversImmediately(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: time.Second})
	now := time.Now()

	out := s.Accept(OrderedFrame{ID: 0, Data: []byte("a")}, now)
	require.Equal(t, [][]byte{[]byte("a")}, out)

	out = s.Accept(OrderedFrame{ID: 1, Data: []byte("b")}, now)
	require.Equal(t, [][]byte{[]byte("b")}, out)

	assert.Equal(t, segment.FrameID(2), s.NextID())
}

func TestSequencerBuffersFutureFrames(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: time.Second})
	now := time.Now()

	out := s.Accept(OrderedFrame{ID: 2, Data: []byte("c")}, now)
	assert.Nil(t, out)
	assert.Equal(t, 1, s.Pending())

	out = s.Accept(OrderedFrame{ID: 1, Data: []byte("b")}, now)
	assert.Nil(t, out)
	assert.Equal(t, 2, s.Pending())

	out = s.Accept(OrderedFrame{ID: 0, Data: []byte("a")}, now)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, out)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, segment.FrameID(3), s.NextID())
}

func TestSequencerDiscardsStaleDuplicates(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: time.Second})
	now := time.Now()

	s.Accept(OrderedFrame{ID: 0, Data: []byte("a")}, now)
	out := s.Accept(OrderedFrame{ID: 0, Data: []byte("a-again")}, now)
	assert.Nil(t, out)
	assert.Equal(t, segment.FrameID(1), s.NextID())
}

func TestSequencerFrameIDWraparound(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: time.Second})
	s.nextID = 0xFFFFFFFF
	now := time.Now()

	out := s.Accept(OrderedFrame{ID: 0xFFFFFFFF, Data: []byte("last")}, now)
	require.Equal(t, [][]byte{[]byte("last")}, out)
	assert.Equal(t, segment.FrameID(0), s.NextID())

	out = s.Accept(OrderedFrame{ID: 0, Data: []byte("wrapped")}, now)
	require.Equal(t, [][]byte{[]byte("wrapped")}, out)
}

func TestSequencerTickNoGapIsNoop(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: time.Second})
	serr, drained := s.Tick(time.Now())
	assert.Nil(t, serr)
	assert.Nil(t, drained)
}

func TestSequencerTickTimesOutGapAndAdvances(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 8, GapTimeout: 10 * time.Millisecond})
	start := time.Now()

	out := s.Accept(OrderedFrame{ID: 3, Data: []byte("future")}, start)
	assert.Nil(t, out)

	serr, drained := s.Tick(start.Add(5 * time.Millisecond))
	assert.Nil(t, serr)
	assert.Nil(t, drained)

	serr, drained = s.Tick(start.Add(50 * time.Millisecond))
	require.NotNil(t, serr)
	assert.Equal(t, segment.FrameID(0), serr.From)
	assert.Equal(t, segment.FrameID(3), serr.To)
	require.Equal(t, [][]byte{[]byte("future")}, drained)
	assert.Equal(t, segment.FrameID(4), s.NextID())
}

func TestSequencerTickCapacityTriggersGapAdvance(t *testing.T) {
	s := NewSequencer(SequencerConfig{SkipQueueCapacity: 2, GapTimeout: time.Hour})
	now := time.Now()

	s.Accept(OrderedFrame{ID: 5, Data: []byte("five")}, now)
	s.Accept(OrderedFrame{ID: 3, Data: []byte("three")}, now)
	assert.Equal(t, 2, s.Pending())

	serr, drained := s.Tick(now)
	require.NotNil(t, serr)
	assert.Equal(t, segment.FrameID(0), serr.From)
	assert.Equal(t, segment.FrameID(3), serr.To)
	assert.Equal(t, [][]byte{[]byte("three")}, drained)
	assert.Equal(t, segment.FrameID(4), s.NextID())
	assert.Equal(t, 1, s.Pending())
}
