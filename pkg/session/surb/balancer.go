// Package surb implements the SURB (Single-Use Reply Block) balancer: a
// background watcher that keeps the reverse channel of a session supplied
// with enough reply credentials that the responder never stalls waiting
// for one.
package surb

import (
	"sync"
	"time"

	"github.com/hoprnet/hopr-session-go/internal/logger"
)

// Config configures a Balancer.
type Config struct {
	// Target is the maximum number of SURBs that may be outstanding at once.
	Target int
	// LowWatermark triggers a refill when the estimated remaining count
	// drops below it.
	LowWatermark int
	// RefillBatch is how many SURBs are issued per refill.
	RefillBatch int
	// MeasurementWindow is the smoothing window for the consumption-rate
	// estimate, and the base unit for stall detection (stalled after
	// 2*MeasurementWindow of silence).
	MeasurementWindow time.Duration
	// LeadTime additionally triggers a refill when the estimated time to
	// exhaustion (remaining/rate) drops below it.
	LeadTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Target <= 0 {
		c.Target = 100
	}
	if c.LowWatermark <= 0 {
		c.LowWatermark = c.Target / 5
	}
	if c.RefillBatch <= 0 {
		c.RefillBatch = c.Target / 4
	}
	if c.MeasurementWindow <= 0 {
		c.MeasurementWindow = 10 * time.Second
	}
	if c.LeadTime <= 0 {
		c.LeadTime = c.MeasurementWindow
	}
	return c
}

// IssueFunc is invoked by the balancer to emit a batch of n freshly minted
// SURBs as dedicated control packets toward the responder.
type IssueFunc func(n int) error

// Metrics is an optional sink for balancer observability. A nil Metrics is
// always valid and costs nothing: every call site on this package checks
// for nil before dereferencing.
type Metrics interface {
	ObserveRate(perSecond float64)
	ObserveRemaining(remaining int)
	RecordRefill(n int)
	RecordStall()
}

// Balancer tracks SURB consumption and proactively issues refills before
// the remote's supply runs out.
type Balancer struct {
	cfg     Config
	issue   IssueFunc
	metrics Metrics

	mu           sync.Mutex
	issued       int64
	used         int64
	rate         float64
	lastUsedAt   time.Time
	haveLastUsed bool
	stalled      bool

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New creates a Balancer. issue is called (from the balancer's own
// goroutine) whenever a refill batch should be sent; metrics may be nil.
func New(cfg Config, issue IssueFunc, metrics Metrics) *Balancer {
	cfg = cfg.withDefaults()
	return &Balancer{
		cfg:     cfg,
		issue:   issue,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background watcher. Idempotent.
func (b *Balancer) Start() {
	b.once.Do(func() {
		go b.watch()
	})
}

// Stop halts the background watcher and waits for it to exit.
func (b *Balancer) Stop() {
	select {
	case <-b.stopCh:
		return
	default:
	}
	close(b.stopCh)
	<-b.doneCh
}

// NotifyIssued records that n additional SURBs have been minted and handed
// off (by this balancer's own refill, or an initial grant).
func (b *Balancer) NotifyIssued(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued += int64(n)
}

// NotifyUsed records an observation that the responder consumed n SURBs.
// Call this from the carrier's SURB-usage accounting path.
func (b *Balancer) NotifyUsed(n int, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used += int64(n)
	b.stalled = false

	if b.haveLastUsed {
		dt := now.Sub(b.lastUsedAt).Seconds()
		if dt > 0 {
			instant := float64(n) / dt
			alpha := windowAlpha(dt, b.cfg.MeasurementWindow)
			b.rate = alpha*instant + (1-alpha)*b.rate
		}
	}
	b.lastUsedAt = now
	b.haveLastUsed = true

	if b.metrics != nil {
		b.metrics.ObserveRate(b.rate)
		b.metrics.ObserveRemaining(int(b.issued - b.used))
	}
}

// windowAlpha derives an EMA smoothing factor from the elapsed interval dt
// relative to the configured measurement window: shorter windows react
// faster, longer ones smooth harder.
func windowAlpha(dt float64, window time.Duration) float64 {
	w := window.Seconds()
	if w <= 0 {
		return 1
	}
	alpha := dt / w
	if alpha > 1 {
		alpha = 1
	}
	return alpha
}

// Remaining returns the current estimate of outstanding, unconsumed SURBs.
func (b *Balancer) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.issued - b.used)
}

// Stalled reports whether the balancer has stopped issuing because no
// usage observation has arrived for 2*MeasurementWindow.
func (b *Balancer) Stalled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stalled
}

func (b *Balancer) watch() {
	defer close(b.doneCh)

	tick := b.cfg.MeasurementWindow / 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case now := <-ticker.C:
			b.check(now)
		}
	}
}

func (b *Balancer) check(now time.Time) {
	b.mu.Lock()

	if b.haveLastUsed && now.Sub(b.lastUsedAt) > 2*b.cfg.MeasurementWindow {
		if !b.stalled {
			b.stalled = true
			logger.Warn("surb balancer stalled, no usage observed", "silence", now.Sub(b.lastUsedAt))
			if b.metrics != nil {
				b.metrics.RecordStall()
			}
		}
		b.mu.Unlock()
		return
	}

	remaining := b.issued - b.used
	rate := b.rate

	needsRefill := remaining < int64(b.cfg.LowWatermark)
	if !needsRefill && rate > 0 {
		timeToExhaustion := time.Duration(float64(remaining)/rate) * time.Second
		needsRefill = timeToExhaustion < b.cfg.LeadTime
	}

	if !needsRefill {
		b.mu.Unlock()
		return
	}

	batch := b.cfg.RefillBatch
	if int64(b.cfg.Target)-remaining < int64(batch) {
		batch = int(int64(b.cfg.Target) - remaining)
	}
	b.mu.Unlock()

	if batch <= 0 {
		return
	}

	if err := b.issue(batch); err != nil {
		logger.Error("surb balancer failed to issue refill", "error", err, "batch", batch)
		return
	}

	b.NotifyIssued(batch)
	logger.Debug("surb balancer issued refill", "batch", batch, "remaining", remaining)
	if b.metrics != nil {
		b.metrics.RecordRefill(batch)
	}
}
