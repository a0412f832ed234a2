package segment

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Control payloads for START_REQ/START_ACC/START_REJ are structured records
// without an MTU-exact layout requirement (unlike the frame header), so they
// are CBOR-encoded rather than hand-packed. ACK/NACK/REQ_INCOMPLETE payloads
// stay hand-packed (see ack.go) since they are fixed-shape and sit on the
// hot path of every acknowledged frame.

// StartRequest is sent by the initiator to open a session.
type StartRequest struct {
	SessionIDHint    uint64   `cbor:"1,keyasint"`
	ProposedFeatures uint8    `cbor:"2,keyasint"`
	Target           string   `cbor:"3,keyasint"`
}

// StartAccept is sent by the responder to accept a session.
type StartAccept struct {
	AssignedSessionID uint64 `cbor:"1,keyasint"`
	AgreedFeatures    uint8  `cbor:"2,keyasint"`
}

// StartRejectReason enumerates why a responder refused a START_REQ.
type StartRejectReason uint8

const (
	RejectNoListener StartRejectReason = iota
	RejectDenied
	RejectSessionIDCollision
)

func (r StartRejectReason) String() string {
	switch r {
	case RejectNoListener:
		return "NoListener"
	case RejectDenied:
		return "Denied"
	case RejectSessionIDCollision:
		return "SessionIDCollision"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// StartReject is sent by the responder to refuse a START_REQ.
type StartReject struct {
	Reason StartRejectReason `cbor:"1,keyasint"`
}

var ctrlEncMode, _ = cbor.CanonicalEncOptions().EncMode()

// EncodeStartRequest CBOR-encodes a StartRequest for use as a control segment payload.
func EncodeStartRequest(r StartRequest) ([]byte, error) { return ctrlEncMode.Marshal(r) }

// DecodeStartRequest decodes a StartRequest control payload.
func DecodeStartRequest(b []byte) (StartRequest, error) {
	var r StartRequest
	err := cbor.Unmarshal(b, &r)
	return r, err
}

// EncodeStartAccept CBOR-encodes a StartAccept for use as a control segment payload.
func EncodeStartAccept(a StartAccept) ([]byte, error) { return ctrlEncMode.Marshal(a) }

// DecodeStartAccept decodes a StartAccept control payload.
func DecodeStartAccept(b []byte) (StartAccept, error) {
	var a StartAccept
	err := cbor.Unmarshal(b, &a)
	return a, err
}

// EncodeStartReject CBOR-encodes a StartReject for use as a control segment payload.
func EncodeStartReject(r StartReject) ([]byte, error) { return ctrlEncMode.Marshal(r) }

// DecodeStartReject decodes a StartReject control payload.
func DecodeStartReject(b []byte) (StartReject, error) {
	var r StartReject
	err := cbor.Unmarshal(b, &r)
	return r, err
}
