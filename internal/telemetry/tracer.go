package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for session transport spans and events.
const (
	AttrSessionID    = "session.id"
	AttrPeer         = "session.peer"
	AttrTarget       = "session.target"
	AttrFrameID      = "session.frame_id"
	AttrSegmentCount = "session.segment_count"
	AttrCause        = "session.cause"
	AttrFeatures     = "session.features"
	AttrSurbBatch    = "session.surb_batch"
)

// Span names for transport-layer operations.
const (
	SpanSessionStart     = "session.start"
	SpanSessionHandshake = "session.handshake"
	SpanSessionClose     = "session.close"
	SpanFrameSend        = "frame.send"
	SpanFrameRecv        = "frame.recv"
	SpanSurbTopUp        = "surb.topup"
)

// SessionID returns an attribute for the wire session identifier.
func SessionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSessionID, int64(id))
}

// Peer returns an attribute for the remote pseudonym.
func Peer(peer string) attribute.KeyValue {
	return attribute.String(AttrPeer, peer)
}

// Target returns an attribute for the dialed target string.
func Target(target string) attribute.KeyValue {
	return attribute.String(AttrTarget, target)
}

// FrameID returns an attribute for a frame identifier.
func FrameID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrFrameID, int64(id))
}

// SegmentCount returns an attribute for the number of segments in a frame.
func SegmentCount(n int) attribute.KeyValue {
	return attribute.Int(AttrSegmentCount, n)
}

// Cause returns an attribute for the low-cardinality reason a session ended.
func Cause(cause string) attribute.KeyValue {
	return attribute.String(AttrCause, cause)
}

// Features returns an attribute for the negotiated capability set.
func Features(features string) attribute.KeyValue {
	return attribute.String(AttrFeatures, features)
}

// SurbBatch returns an attribute for a SURB top-up batch size.
func SurbBatch(n int) attribute.KeyValue {
	return attribute.Int(AttrSurbBatch, n)
}

// StartSessionSpan starts a span covering a session's full lifetime,
// tagged with its session ID and peer pseudonym.
func StartSessionSpan(ctx context.Context, id uint64, peer string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{SessionID(id), Peer(peer)}, attrs...)
	return StartSpan(ctx, SpanSessionStart, trace.WithAttributes(allAttrs...))
}

// StartFrameSpan starts a span for sending or receiving one frame.
func StartFrameSpan(ctx context.Context, name string, sessionID uint64, frameID uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{SessionID(sessionID), FrameID(frameID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
