package manager

import (
	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// Decision is the result of a host policy's permit check.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// HostPolicy is consulted by the manager on every inbound START_REQ and
// notified after every server-side session is registered. Permit is called
// synchronously from the dispatch loop, so implementations must not block.
type HostPolicy interface {
	// Permit decides whether target may be served, and why not when denied.
	// Reason is only meaningful when the Decision is Deny.
	Permit(target string) (Decision, segment.StartRejectReason)
	// Accept is called once a server-side session has been inserted into
	// the registry, after the START_ACC has been sent.
	Accept(s *session.Session)
}

// AllowAll is a HostPolicy that permits every target and ignores Accept;
// useful for tests and for clients that never act as a responder.
type AllowAll struct{}

func (AllowAll) Permit(string) (Decision, segment.StartRejectReason) { return Allow, 0 }
func (AllowAll) Accept(*session.Session)                             {}
