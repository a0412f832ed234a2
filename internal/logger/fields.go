package logger

import (
	"log/slog"

	"github.com/rs/xid"
)

// Standard field keys for structured logging across the session transport
// core. Use these keys consistently across all log statements for log
// aggregation and querying.
const (
	KeyTraceID = "trace_id" // correlation ID for one session's log lines, see NewTraceID

	KeySessionID = "session_id" // wire session ID; unique only per peer pseudonym
	KeyFrameID   = "frame_id"   // frame identifier within a session
	KeyCause     = "cause"      // low-cardinality reason a session/handshake ended

	KeyError = "error"
)

// NewTraceID returns a compact, lexically sortable ID for correlating the
// log lines of one session's lifetime, independent of the wire SessionID
// (which is only unique per pseudonym, not globally).
func NewTraceID() string { return xid.New().String() }

// TraceID returns a slog.Attr for the correlation ID returned by NewTraceID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SessionID returns a slog.Attr for a session identifier.
func SessionID(id uint64) slog.Attr { return slog.Uint64(KeySessionID, id) }

// FrameID returns a slog.Attr for a frame identifier.
func FrameID(id uint32) slog.Attr { return slog.Uint64(KeyFrameID, uint64(id)) }

// Cause returns a slog.Attr for the low-cardinality reason a session ended.
func Cause(cause string) slog.Attr { return slog.String(KeyCause, cause) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
