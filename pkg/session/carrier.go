package session

import (
	"context"
	"encoding/hex"
)

// Pseudonym is an opaque 32-byte identifier the carrier uses for return
// routing. It has no meaning inside this package beyond identity and
// equality.
type Pseudonym [32]byte

// String returns the hex encoding of the pseudonym, for logging and
// tracing only.
func (p Pseudonym) String() string { return hex.EncodeToString(p[:]) }

// SessionID is a locally unique 64-bit identifier for a session, assigned
// by the responder (or by the initiator as a hint) during the start
// handshake.
type SessionID uint64

// DestinationRouting is an opaque route descriptor handed to the carrier's
// egress sink; this package never inspects its contents.
type DestinationRouting []byte

// ApplicationData is one fixed-size encrypted packet's payload as exchanged
// with the carrier, before this package's segment framing is parsed out of
// or packed into it.
type ApplicationData []byte

// PacketInfo describes the provenance of one inbound ApplicationData item:
// who sent it and whether it consumed one of the initiator's SURBs.
type PacketInfo struct {
	Sender     Pseudonym
	SurbsUsed  int
	ReceivedAt int64 // unix nanos; stamped by the carrier, not this package
}

// ApplicationDataIn pairs one inbound packet with its provenance.
type ApplicationDataIn struct {
	Data ApplicationData
	Info PacketInfo
}

// CarrierErrorKind classifies a failure reported by the carrier's egress
// sink.
type CarrierErrorKind int

const (
	// CarrierErrRouting: the DestinationRouting could not be resolved to a
	// live route. Typically transient; retried below this package.
	CarrierErrRouting CarrierErrorKind = iota
	// CarrierErrEncoding: the carrier rejected the packet as malformed.
	CarrierErrEncoding
	// CarrierErrShutdown: the carrier has been closed; permanent.
	CarrierErrShutdown
)

func (k CarrierErrorKind) String() string {
	switch k {
	case CarrierErrRouting:
		return "Routing"
	case CarrierErrEncoding:
		return "Encoding"
	case CarrierErrShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// CarrierError wraps a carrier egress failure.
type CarrierError struct {
	Kind CarrierErrorKind
	Err  error
}

func (e *CarrierError) Error() string {
	if e.Err != nil {
		return "carrier: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "carrier: " + e.Kind.String()
}

func (e *CarrierError) Unwrap() error { return e.Err }

// Permanent reports whether this error should be treated as session-fatal
// rather than retried at the carrier layer.
func (e *CarrierError) Permanent() bool { return e.Kind == CarrierErrShutdown }

// Carrier is the abstract bidirectional channel injected into a session: a
// sink of outbound (DestinationRouting, ApplicationData) pairs and a stream
// of inbound ApplicationDataIn values. One session owns one logical pair of
// halves. Implementations must be safe for concurrent Send/Recv from
// separate goroutines; a single session only ever calls each from its own
// task, but the manager's dispatch loop shares the ingress side across all
// sessions multiplexed on one carrier.
type Carrier interface {
	// Send transmits one packet toward route, blocking until the carrier
	// accepts it, ctx is done, or a CarrierError occurs.
	Send(ctx context.Context, route DestinationRouting, data ApplicationData) error
	// Recv blocks until the next inbound packet arrives, ctx is done, or
	// the carrier is shut down.
	Recv(ctx context.Context) (ApplicationDataIn, error)
}
