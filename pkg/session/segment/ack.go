package segment

import "encoding/binary"

// AckPayload is the fixed 4-byte payload of an ACK or NACK control segment:
// the big-endian FrameID being acknowledged or negatively acknowledged.
type AckPayload struct {
	FrameID FrameID
}

// EncodeAck packs an AckPayload into its 4-byte wire form.
func EncodeAck(p AckPayload) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(p.FrameID))
	return buf
}

// DecodeAck unpacks a 4-byte ACK/NACK payload.
func DecodeAck(buf []byte) (AckPayload, error) {
	if len(buf) < 4 {
		return AckPayload{}, ErrShortBuffer
	}
	return AckPayload{FrameID: FrameID(binary.BigEndian.Uint32(buf[0:4]))}, nil
}

// MissingBitmap tracks which segment slots of a frame are still absent, one
// bit per SegmentSeqNo. It is the payload of a REQ_INCOMPLETE control segment,
// following the 4-byte FrameID.
type MissingBitmap []byte

// NewMissingBitmap allocates a bitmap wide enough for segmentsInFrame slots.
func NewMissingBitmap(segmentsInFrame uint8) MissingBitmap {
	return make(MissingBitmap, (int(segmentsInFrame)+7)/8)
}

// Set marks seqNo as missing.
func (b MissingBitmap) Set(seqNo uint8) {
	b[seqNo/8] |= 1 << (seqNo % 8)
}

// IsSet reports whether seqNo is marked missing.
func (b MissingBitmap) IsSet(seqNo uint8) bool {
	if int(seqNo/8) >= len(b) {
		return false
	}
	return b[seqNo/8]&(1<<(seqNo%8)) != 0
}

// ReqIncompletePayload is the payload of a REQ_INCOMPLETE control segment.
type ReqIncompletePayload struct {
	FrameID FrameID
	Missing MissingBitmap
}

// EncodeReqIncomplete packs a ReqIncompletePayload: 4-byte FrameID followed
// by the missing-slot bitmap.
func EncodeReqIncomplete(p ReqIncompletePayload) []byte {
	buf := make([]byte, 4+len(p.Missing))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.FrameID))
	copy(buf[4:], p.Missing)
	return buf
}

// DecodeReqIncomplete unpacks a REQ_INCOMPLETE payload.
func DecodeReqIncomplete(buf []byte) (ReqIncompletePayload, error) {
	if len(buf) < 4 {
		return ReqIncompletePayload{}, ErrShortBuffer
	}
	return ReqIncompletePayload{
		FrameID: FrameID(binary.BigEndian.Uint32(buf[0:4])),
		Missing: MissingBitmap(buf[4:]),
	}, nil
}

// SurbRequestPayload is the fixed 4-byte payload of a SURB_REQ control
// segment: the number of additional SURBs the sender is asking the
// responder to mint for the reverse channel.
type SurbRequestPayload struct {
	Count uint32
}

// EncodeSurbRequest packs a SurbRequestPayload into its 4-byte wire form.
func EncodeSurbRequest(p SurbRequestPayload) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.Count)
	return buf
}

// DecodeSurbRequest unpacks a 4-byte SURB_REQ payload.
func DecodeSurbRequest(buf []byte) (SurbRequestPayload, error) {
	if len(buf) < 4 {
		return SurbRequestPayload{}, ErrShortBuffer
	}
	return SurbRequestPayload{Count: binary.BigEndian.Uint32(buf[0:4])}, nil
}
