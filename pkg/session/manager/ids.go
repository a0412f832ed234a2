package manager

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/hoprnet/hopr-session-go/pkg/session"
)

// newSessionIDHint derives a random SessionID from a fresh UUIDv4's first
// eight bytes. It serves both as the initiator's session_id_hint proposal
// and as the responder's allocated id; the UUID's collision properties are
// more than sufficient for a value only a registry lookup needs to be
// locally unique.
func newSessionIDHint() session.SessionID {
	id := uuid.New()
	return session.SessionID(binary.BigEndian.Uint64(id[:8]))
}

// NewPseudonym derives a Pseudonym from a fresh UUIDv4, left-padded into the
// 32-byte identifier space; real deployments receive their Pseudonym from
// the carrier instead, but tests and standalone clients need a way to mint
// one.
func NewPseudonym() session.Pseudonym {
	var p session.Pseudonym
	a, b := uuid.New(), uuid.New()
	copy(p[:16], a[:])
	copy(p[16:], b[:])
	return p
}
