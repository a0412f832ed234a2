package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hoprnet/hopr-session-go/pkg/session"
)

// SessionMetrics aggregates counters across every session a Manager runs.
// It is nil-safe: every method is a no-op on a nil receiver, so callers can
// hold a possibly-nil *SessionMetrics without branching.
type SessionMetrics struct {
	active        prometheus.Gauge
	started       prometheus.Counter
	closed        *prometheus.CounterVec
	startRejected *prometheus.CounterVec
	packetsOut    prometheus.Counter
	packetsIn     prometheus.Counter
	bytesOut      prometheus.Counter
	bytesIn       prometheus.Counter
}

// NewSessionMetrics returns a *SessionMetrics backed by Prometheus, or nil
// if metrics are not enabled.
func NewSessionMetrics() *SessionMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()
	return &SessionMetrics{
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hopr_session_active",
			Help: "Number of sessions currently registered with the manager.",
		}),
		started: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_started_total",
			Help: "Total number of sessions established, as initiator or responder.",
		}),
		closed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hopr_session_closed_total",
			Help: "Total number of sessions removed from the registry, by cause.",
		}, []string{"cause"}),
		startRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hopr_session_start_rejected_total",
			Help: "Total number of inbound START_REQ handshakes rejected, by reason.",
		}, []string{"reason"}),
		packetsOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_packets_sent_total",
			Help: "Total number of wire segments sent across all sessions.",
		}),
		packetsIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_packets_received_total",
			Help: "Total number of wire segments received across all sessions.",
		}),
		bytesOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_bytes_sent_total",
			Help: "Total number of wire bytes sent across all sessions.",
		}),
		bytesIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_bytes_received_total",
			Help: "Total number of wire bytes received across all sessions.",
		}),
	}
}

// RecordStarted marks a session as established and increments the active
// gauge.
func (m *SessionMetrics) RecordStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

// RecordClosed marks a session as removed from the registry under the given
// cause (e.g. "local_close", "peer_close", "peer_unresponsive", "idle").
func (m *SessionMetrics) RecordClosed(cause string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.closed.WithLabelValues(cause).Inc()
}

// RecordStartRejected counts an inbound START_REQ rejected for the given
// reason (a segment.StartRejectReason's String()).
func (m *SessionMetrics) RecordStartRejected(reason string) {
	if m == nil {
		return
	}
	m.startRejected.WithLabelValues(reason).Inc()
}

// recordedStats is a per-session cursor over the last reported
// PacketStatsSnapshot, used to turn its cumulative counters into the deltas
// Prometheus counters expect.
type recordedStats struct {
	metrics *SessionMetrics
	last    session.PacketStatsSnapshot
}

// NewRecorder returns a cursor that reports deltas of a single session's
// PacketStatsSnapshot into m on each call to Report. Safe to use with a nil
// *SessionMetrics.
func (m *SessionMetrics) NewRecorder() *recordedStats {
	return &recordedStats{metrics: m}
}

// Report adds the delta between snap and the previously reported snapshot
// to the aggregate counters.
func (r *recordedStats) Report(snap session.PacketStatsSnapshot) {
	if r.metrics == nil {
		r.last = snap
		return
	}

	if d := snap.PacketsOut - r.last.PacketsOut; d > 0 {
		r.metrics.packetsOut.Add(float64(d))
	}
	if d := snap.PacketsIn - r.last.PacketsIn; d > 0 {
		r.metrics.packetsIn.Add(float64(d))
	}
	if d := snap.BytesOut - r.last.BytesOut; d > 0 {
		r.metrics.bytesOut.Add(float64(d))
	}
	if d := snap.BytesIn - r.last.BytesIn; d > 0 {
		r.metrics.bytesIn.Add(float64(d))
	}
	r.last = snap
}
