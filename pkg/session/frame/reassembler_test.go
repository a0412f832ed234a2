package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

func TestReassemblerCompletesInOrder(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: time.Minute})
	now := time.Now()

	segs := SegmentFrame(1, []byte("hello world"), 466)
	var last *OrderedFrame
	for _, s := range segs {
		frame, ferr := r.Accept(s, now)
		assert.Nil(t, ferr)
		if frame != nil {
			last = frame
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, segment.FrameID(1), last.ID)
	assert.Equal(t, []byte("hello world"), last.Data)
}

func TestReassemblerCompletesOutOfOrder(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: time.Minute})
	now := time.Now()

	segs := SegmentFrame(1, []byte("0123456789abcdefghij"), 12)
	require.True(t, len(segs) > 1)

	for i := len(segs) - 1; i >= 0; i-- {
		frame, ferr := r.Accept(segs[i], now)
		assert.Nil(t, ferr)
		if i == 0 {
			require.NotNil(t, frame)
			assert.Equal(t, []byte("0123456789abcdefghij"), frame.Data)
		} else {
			assert.Nil(t, frame)
		}
	}
}

func TestReassemblerDuplicateSegmentIsIdempotent(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: time.Minute})
	now := time.Now()

	segs := SegmentFrame(1, []byte("abcdefghijklmno"), 12)
	require.True(t, len(segs) > 1)

	_, ferr := r.Accept(segs[0], now)
	assert.Nil(t, ferr)

	_, ferr = r.Accept(segs[0], now)
	assert.Nil(t, ferr)
}

func TestReassemblerInconsistentSegmentsInFrame(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: time.Minute})
	now := time.Now()

	first := segment.Segment{FrameID: 9, SeqNo: 0, SegmentsInFrame: 3, Payload: []byte("a")}
	_, ferr := r.Accept(first, now)
	assert.Nil(t, ferr)

	conflicting := segment.Segment{FrameID: 9, SeqNo: 1, SegmentsInFrame: 5, Payload: []byte("b")}
	_, ferr = r.Accept(conflicting, now)
	require.NotNil(t, ferr)
	assert.Equal(t, ErrInconsistent, ferr.Kind)
}

func TestReassemblerCapacityEviction(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 2, MaxAge: time.Minute})
	now := time.Now()

	mkPartial := func(id segment.FrameID) segment.Segment {
		return segment.Segment{FrameID: id, SeqNo: 0, SegmentsInFrame: 2, Payload: []byte("x")}
	}

	_, ferr := r.Accept(mkPartial(1), now)
	assert.Nil(t, ferr)
	_, ferr = r.Accept(mkPartial(2), now)
	assert.Nil(t, ferr)
	assert.Equal(t, 2, r.Pending())

	// Third incomplete frame evicts FrameID 1, the oldest.
	_, ferr = r.Accept(mkPartial(3), now)
	require.NotNil(t, ferr)
	assert.Equal(t, ErrDiscarded, ferr.Kind)
	assert.Equal(t, segment.FrameID(1), ferr.FrameID)
	assert.Equal(t, 2, r.Pending())
}

func TestReassemblerTickExpiresStaleFrames(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: 10 * time.Millisecond})
	start := time.Now()

	partial := segment.Segment{FrameID: 1, SeqNo: 0, SegmentsInFrame: 2, Payload: []byte("x")}
	_, ferr := r.Accept(partial, start)
	assert.Nil(t, ferr)

	expired := r.Tick(start.Add(5 * time.Millisecond))
	assert.Empty(t, expired)

	expired = r.Tick(start.Add(50 * time.Millisecond))
	require.Len(t, expired, 1)
	assert.Equal(t, ErrIncomplete, expired[0].Kind)
	assert.Equal(t, segment.FrameID(1), expired[0].FrameID)
	assert.True(t, expired[0].Missing.IsSet(1))
	assert.Equal(t, 0, r.Pending())
}

func TestReassemblerTickLeavesFreshFramesAlone(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{Capacity: 4, MaxAge: 50 * time.Millisecond})
	start := time.Now()

	old := segment.Segment{FrameID: 1, SeqNo: 0, SegmentsInFrame: 2, Payload: []byte("x")}
	_, ferr := r.Accept(old, start)
	assert.Nil(t, ferr)

	fresh := segment.Segment{FrameID: 2, SeqNo: 0, SegmentsInFrame: 2, Payload: []byte("y")}
	_, ferr = r.Accept(fresh, start.Add(40*time.Millisecond))
	assert.Nil(t, ferr)

	expired := r.Tick(start.Add(60 * time.Millisecond))
	require.Len(t, expired, 1)
	assert.Equal(t, segment.FrameID(1), expired[0].FrameID)
	assert.Equal(t, 1, r.Pending())
}
