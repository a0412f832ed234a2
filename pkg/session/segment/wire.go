// Package segment implements the bit-exact wire format of a single segment:
// the smallest unit carried by one mix-network packet.
package segment

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of a segment header.
const HeaderSize = 8

// Flags is a bitset carried in byte 6 of the header.
type Flags uint8

const (
	// FlagLastSegment marks the final segment of a frame.
	FlagLastSegment Flags = 1 << 0
	// FlagControl marks the payload as a control message rather than frame data.
	// When set, the low 4 bits of the reserved byte carry a ControlKind.
	FlagControl Flags = 1 << 1
	// FlagAckBearer marks that the first 4 bytes of payload piggyback an ACK
	// for some unrelated frame id.
	FlagAckBearer Flags = 1 << 2
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ControlKind identifies the kind of control message carried by a segment
// whose FlagControl bit is set. It occupies the low 4 bits of the reserved byte.
type ControlKind uint8

const (
	ControlData           ControlKind = 0 // unused when FlagControl is set
	ControlAck            ControlKind = 1
	ControlNack           ControlKind = 2
	ControlReqIncomplete  ControlKind = 3
	ControlKeepalive      ControlKind = 4
	ControlClose          ControlKind = 5
	ControlStartRequest   ControlKind = 6
	ControlStartAccept    ControlKind = 7
	ControlStartReject    ControlKind = 8
	ControlSurbRequest    ControlKind = 9
	controlKindMask       ControlKind = 0x0F
)

func (k ControlKind) String() string {
	switch k {
	case ControlData:
		return "DATA"
	case ControlAck:
		return "ACK"
	case ControlNack:
		return "NACK"
	case ControlReqIncomplete:
		return "REQ_INCOMPLETE"
	case ControlKeepalive:
		return "KEEPALIVE"
	case ControlClose:
		return "CLOSE"
	case ControlStartRequest:
		return "START_REQ"
	case ControlStartAccept:
		return "START_ACC"
	case ControlStartReject:
		return "START_REJ"
	case ControlSurbRequest:
		return "SURB_REQ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// FrameID is the monotonically increasing, u32-wrapping identifier of a
// frame within one session.
type FrameID uint32

// Next returns the FrameID that follows this one, wrapping modulo 2^32.
func (f FrameID) Next() FrameID { return f + 1 }

// Less reports whether f precedes other under modular sequence-number
// comparison (RFC 1982 style), so wraparound at 2^32-1 -> 0 is handled
// as an ordered advance rather than going backwards.
func (f FrameID) Less(other FrameID) bool {
	return int32(other-f) > 0 && f != other
}

// Segment is a single wire record: one fragment of one frame.
type Segment struct {
	FrameID         FrameID
	SeqNo           uint8
	SegmentsInFrame uint8
	Flags           Flags
	// Reserved carries the ControlKind in its low 4 bits when FlagControl is
	// set; the remaining bits are unused and must round-trip as zero.
	Reserved uint8
	Payload  []byte
}

// ControlKind extracts the control kind from Reserved. Only meaningful when
// Flags.Has(FlagControl) is true.
func (s Segment) ControlKind() ControlKind {
	return ControlKind(s.Reserved) & controlKindMask
}

// WithControlKind returns a copy of s with Reserved's low 4 bits set to kind.
func WithControlKind(s Segment, kind ControlKind) Segment {
	s.Flags |= FlagControl
	s.Reserved = (s.Reserved &^ uint8(controlKindMask)) | uint8(kind&controlKindMask)
	return s
}

// IsLast reports whether this is the final segment of its frame.
func (s Segment) IsLast() bool { return s.Flags.Has(FlagLastSegment) }

// IsControl reports whether this segment carries a control message.
func (s Segment) IsControl() bool { return s.Flags.Has(FlagControl) }

// WireSize returns the total encoded size of s, header plus payload.
func (s Segment) WireSize() int { return HeaderSize + len(s.Payload) }

// Encode serializes s into its big-endian wire representation. The returned
// slice's length must not exceed the carrier MTU; callers are responsible
// for choosing payload sizes that respect MTU-HeaderSize.
func Encode(s Segment) []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.FrameID))
	buf[4] = s.SeqNo
	buf[5] = s.SegmentsInFrame
	buf[6] = uint8(s.Flags)
	buf[7] = s.Reserved
	copy(buf[HeaderSize:], s.Payload)
	return buf
}

// ErrShortBuffer is returned by Decode when the input is smaller than HeaderSize.
var ErrShortBuffer = fmt.Errorf("segment: buffer shorter than header size (%d bytes)", HeaderSize)

// Decode parses a wire-format segment out of buf. The returned Segment's
// Payload aliases buf; callers that retain buf beyond the call must copy it.
func Decode(buf []byte) (Segment, error) {
	if len(buf) < HeaderSize {
		return Segment{}, ErrShortBuffer
	}
	s := Segment{
		FrameID:         FrameID(binary.BigEndian.Uint32(buf[0:4])),
		SeqNo:           buf[4],
		SegmentsInFrame: buf[5],
		Flags:           Flags(buf[6]),
		Reserved:        buf[7],
	}
	if len(buf) > HeaderSize {
		s.Payload = buf[HeaderSize:]
	}
	return s, nil
}

// MaxPayload returns the largest payload a segment can carry under the given
// carrier MTU.
func MaxPayload(mtu int) int {
	if mtu <= HeaderSize {
		return 0
	}
	return mtu - HeaderSize
}
