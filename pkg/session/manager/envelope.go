package manager

import (
	"context"
	"encoding/binary"

	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// The carrier's tag/port addressing that would normally let a pseudonym
// multiplex several sessions is opaque to this core (see the carrier
// interface), so the manager prefixes every wire segment with an explicit
// 8-byte session id of its own before handing it to the real carrier. This
// keeps dispatch self-contained without assuming anything about how the
// carrier's application-tag space is partitioned. START_REQ, which precedes
// the id the responder has not assigned yet, and its START_ACC or START_REJ
// reply carry the initiator's session id hint instead; the dispatcher
// recognises them by control kind, not by id.
const envelopeHeaderSize = 8

func decodeEnvelope(data []byte) (session.SessionID, segment.Segment, error) {
	if len(data) < envelopeHeaderSize {
		return 0, segment.Segment{}, segment.ErrShortBuffer
	}
	id := session.SessionID(binary.BigEndian.Uint64(data[:envelopeHeaderSize]))
	seg, err := segment.Decode(data[envelopeHeaderSize:])
	return id, seg, err
}

// sessionCarrier is the per-session view of the manager's single shared
// Carrier: it stamps every outbound packet with the owning session's id and
// forwards it to the real carrier. Concurrency model: egress still funnels
// through one shared Carrier instance, as required (owned exclusively by the
// manager); Recv is never called, since inbound delivery to a session goes
// through Session.Deliver from the manager's dispatch loop instead.
type sessionCarrier struct {
	id      session.SessionID
	carrier session.Carrier
}

func (c *sessionCarrier) Send(ctx context.Context, route session.DestinationRouting, data session.ApplicationData) error {
	buf := make([]byte, envelopeHeaderSize+len(data))
	binary.BigEndian.PutUint64(buf[:envelopeHeaderSize], uint64(c.id))
	copy(buf[envelopeHeaderSize:], data)
	return c.carrier.Send(ctx, route, buf)
}

func (c *sessionCarrier) Recv(ctx context.Context) (session.ApplicationDataIn, error) {
	<-ctx.Done()
	return session.ApplicationDataIn{}, ctx.Err()
}
