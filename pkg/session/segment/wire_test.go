package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Segment{
		FrameID:         42,
		SeqNo:           2,
		SegmentsInFrame: 4,
		Flags:           FlagLastSegment,
		Payload:         []byte("hello"),
	}

	wire := Encode(s)
	require.Len(t, wire, HeaderSize+len("hello"))

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, s.FrameID, got.FrameID)
	assert.Equal(t, s.SeqNo, got.SeqNo)
	assert.Equal(t, s.SegmentsInFrame, got.SegmentsInFrame)
	assert.Equal(t, s.Flags, got.Flags)
	assert.Equal(t, s.Payload, got.Payload)
	assert.True(t, got.IsLast())
	assert.False(t, got.IsControl())
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestControlKindRoundTrip(t *testing.T) {
	s := Segment{FrameID: 1}
	s = WithControlKind(s, ControlAck)

	assert.True(t, s.IsControl())
	assert.Equal(t, ControlAck, s.ControlKind())

	wire := Encode(s)
	got, err := Decode(wire)
	require.NoError(t, err)
	assert.True(t, got.IsControl())
	assert.Equal(t, ControlAck, got.ControlKind())
}

func TestFrameIDWraparound(t *testing.T) {
	var max FrameID = 0xFFFFFFFF
	assert.True(t, max.Less(0))
	assert.Equal(t, FrameID(0), max.Next())
	assert.False(t, FrameID(0).Less(max))
}

func TestMaxPayload(t *testing.T) {
	assert.Equal(t, 466-HeaderSize, MaxPayload(466))
	assert.Equal(t, 0, MaxPayload(4))
}

func TestMissingBitmap(t *testing.T) {
	b := NewMissingBitmap(10)
	b.Set(0)
	b.Set(9)

	assert.True(t, b.IsSet(0))
	assert.True(t, b.IsSet(9))
	assert.False(t, b.IsSet(5))
}

func TestAckPayloadRoundTrip(t *testing.T) {
	wire := EncodeAck(AckPayload{FrameID: 7})
	got, err := DecodeAck(wire)
	require.NoError(t, err)
	assert.Equal(t, FrameID(7), got.FrameID)
}

func TestReqIncompletePayloadRoundTrip(t *testing.T) {
	bm := NewMissingBitmap(4)
	bm.Set(1)
	bm.Set(3)

	wire := EncodeReqIncomplete(ReqIncompletePayload{FrameID: 99, Missing: bm})
	got, err := DecodeReqIncomplete(wire)
	require.NoError(t, err)
	assert.Equal(t, FrameID(99), got.FrameID)
	assert.True(t, got.Missing.IsSet(1))
	assert.True(t, got.Missing.IsSet(3))
	assert.False(t, got.Missing.IsSet(2))
}

func TestStartRequestCBORRoundTrip(t *testing.T) {
	req := StartRequest{SessionIDHint: 123, ProposedFeatures: 0b0101, Target: "echo"}
	wire, err := EncodeStartRequest(req)
	require.NoError(t, err)

	got, err := DecodeStartRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}
