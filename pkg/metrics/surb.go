package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hoprnet/hopr-session-go/pkg/session/surb"
)

// surbMetrics is the Prometheus-backed implementation of surb.Metrics.
type surbMetrics struct {
	rate      prometheus.Gauge
	remaining prometheus.Gauge
	refills   prometheus.Counter
	stalls    prometheus.Counter
}

// NewSurbMetrics returns a surb.Metrics backed by Prometheus, or nil if
// metrics are not enabled. A nil surb.Metrics is accepted by
// surb.New and results in zero overhead.
func NewSurbMetrics() surb.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()
	return &surbMetrics{
		rate: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hopr_session_surb_consumption_rate",
			Help: "Smoothed rate of SURB consumption, in SURBs per second.",
		}),
		remaining: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hopr_session_surb_remaining",
			Help: "Estimated number of SURBs currently outstanding at the peer.",
		}),
		refills: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_surb_refills_total",
			Help: "Total number of SURBs issued across all refills.",
		}),
		stalls: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hopr_session_surb_stalls_total",
			Help: "Total number of times the SURB balancer detected prolonged silence.",
		}),
	}
}

func (m *surbMetrics) ObserveRate(perSecond float64) {
	if m == nil {
		return
	}
	m.rate.Set(perSecond)
}

func (m *surbMetrics) ObserveRemaining(remaining int) {
	if m == nil {
		return
	}
	m.remaining.Set(float64(remaining))
}

func (m *surbMetrics) RecordRefill(n int) {
	if m == nil {
		return
	}
	m.refills.Add(float64(n))
}

func (m *surbMetrics) RecordStall() {
	if m == nil {
		return
	}
	m.stalls.Inc()
}
