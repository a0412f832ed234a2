package session

import (
	"errors"
	"fmt"

	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// ErrorKind classifies a SessionError by the taxonomy in the session
// design: the kind drives propagation policy (which errors are session-fatal
// versus recoverable) independent of the specific Go error value.
type ErrorKind int

const (
	// KindProtocolError: malformed segment, inconsistent segment counts, or
	// an unknown control kind. Session-fatal; emits CLOSE (the CLOSE segment
	// carries no reason code).
	KindProtocolError ErrorKind = iota
	// KindPeerUnresponsive: the retry budget for a frame was exhausted.
	// Session-fatal.
	KindPeerUnresponsive
	// KindIdle: inactivity exceeded idle_timeout*2 with no keepalive
	// response. Session-fatal, clean close.
	KindIdle
	// KindStartTimeout: the start handshake's START_ACC never arrived
	// within start_timeout across all retries.
	KindStartTimeout
	// KindStartRejected: the responder replied START_REJ.
	KindStartRejected
	// KindCarrierError: wraps an egress failure from the carrier. Permanent
	// carrier errors are session-fatal; transient ones are retried below
	// this layer.
	KindCarrierError
	// KindBackpressureTimeout: a user Write blocked past its configured
	// timeout. Surfaced to the caller; the session remains open.
	KindBackpressureTimeout
	// KindFrameLoss: best-effort, out-of-band notification of data loss,
	// only ever raised when no reliability features were negotiated.
	KindFrameLoss
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolError:
		return "ProtocolError"
	case KindPeerUnresponsive:
		return "PeerUnresponsive"
	case KindIdle:
		return "Idle"
	case KindStartTimeout:
		return "StartTimeout"
	case KindStartRejected:
		return "StartRejected"
	case KindCarrierError:
		return "CarrierError"
	case KindBackpressureTimeout:
		return "BackpressureTimeout"
	case KindFrameLoss:
		return "FrameLoss"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this kind terminate the session.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindBackpressureTimeout, KindFrameLoss:
		return false
	default:
		return true
	}
}

// SessionError is the error type surfaced to callers of Session's public
// operations and to the manager's lifecycle bookkeeping.
type SessionError struct {
	Kind   ErrorKind
	Reason segment.StartRejectReason // populated only for KindStartRejected
	Err    error                     // wrapped cause, if any (e.g. a carrier error)
}

func (e *SessionError) Error() string {
	switch {
	case e.Kind == KindStartRejected:
		return fmt.Sprintf("session: start rejected: %s", e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("session: %s", e.Kind)
	}
}

func (e *SessionError) Unwrap() error { return e.Err }

func newSessionError(kind ErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

// ErrProtocolError, etc. are sentinel SessionErrors without a wrapped cause,
// for use with errors.Is at call sites that don't need the Reason/Err detail.
var (
	ErrProtocolError       = &SessionError{Kind: KindProtocolError}
	ErrPeerUnresponsive    = &SessionError{Kind: KindPeerUnresponsive}
	ErrIdle                = &SessionError{Kind: KindIdle}
	ErrStartTimeout        = &SessionError{Kind: KindStartTimeout}
	ErrBackpressureTimeout = &SessionError{Kind: KindBackpressureTimeout}
	ErrClosed              = errors.New("session: closed")
)

// Is implements errors.Is matching by Kind alone, so a wrapped SessionError
// with extra context still matches its bare sentinel.
func (e *SessionError) Is(target error) bool {
	other, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
