// Package faultynet provides an in-memory Carrier test double with
// configurable packet loss, duplication, and reordering, for exercising the
// session package's reliability machinery without a real mix network.
package faultynet

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hoprnet/hopr-session-go/pkg/session"
)

// Config tunes one direction of a Link's fault injection.
type Config struct {
	// DropProbability is the chance, per packet, that it is silently lost.
	DropProbability float64
	// DuplicateProbability is the chance, per packet, that it is delivered
	// twice.
	DuplicateProbability float64
	// MinLatency/MaxLatency bound a uniformly random delivery delay per
	// packet; varying delay across packets is what produces reordering,
	// rather than a dedicated shuffle step.
	MinLatency time.Duration
	MaxLatency time.Duration
	// Rand, if non-nil, is used instead of a package-local source. Inject a
	// seeded *rand.Rand for deterministic tests.
	Rand *rand.Rand
}

func (c Config) rng() *rand.Rand {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Reliable returns a Config with no fault injection at all.
func Reliable() Config { return Config{} }

// Carrier is one endpoint of a faulty in-memory link: it implements
// session.Carrier, injecting its own Config's faults on every Send and
// delivering into its peer's inbound queue.
type Carrier struct {
	self session.Pseudonym
	cfg  Config
	rng  *rand.Rand
	mu   sync.Mutex // guards rng, which math/rand.Rand does not protect itself

	peer   *Carrier
	inbox  chan session.ApplicationDataIn
	closed chan struct{}
	once   sync.Once
}

// NewPair wires two Carriers together: packets sent on a are delivered
// (subject to cfgA's faults) to b's inbox tagged with sender a, and vice
// versa with cfgB.
func NewPair(a, b session.Pseudonym, cfgA, cfgB Config) (*Carrier, *Carrier) {
	ca := &Carrier{self: a, cfg: cfgA, rng: cfgA.rng(), inbox: make(chan session.ApplicationDataIn, 256), closed: make(chan struct{})}
	cb := &Carrier{self: b, cfg: cfgB, rng: cfgB.rng(), inbox: make(chan session.ApplicationDataIn, 256), closed: make(chan struct{})}
	ca.peer = cb
	cb.peer = ca
	return ca, cb
}

// Send delivers data to the peer carrier's inbox, subject to this carrier's
// own fault configuration (the sender's link characteristics, not the
// receiver's).
func (c *Carrier) Send(ctx context.Context, _ session.DestinationRouting, data session.ApplicationData) error {
	select {
	case <-c.closed:
		return &session.CarrierError{Kind: session.CarrierErrShutdown}
	default:
	}

	c.mu.Lock()
	drop := c.rng.Float64() < c.cfg.DropProbability
	dup := c.rng.Float64() < c.cfg.DuplicateProbability
	delay := c.latency()
	c.mu.Unlock()

	if drop {
		return nil
	}

	pkt := session.ApplicationDataIn{
		Data: append(session.ApplicationData(nil), data...),
		Info: session.PacketInfo{Sender: c.self, ReceivedAt: time.Now().UnixNano()},
	}

	c.deliver(pkt, delay)
	if dup {
		c.deliver(pkt, delay+c.extraJitter())
	}
	return nil
}

func (c *Carrier) deliver(pkt session.ApplicationDataIn, delay time.Duration) {
	peer := c.peer
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		select {
		case peer.inbox <- pkt:
		case <-peer.closed:
		}
	}()
}

func (c *Carrier) latency() time.Duration {
	if c.cfg.MaxLatency <= c.cfg.MinLatency {
		return c.cfg.MinLatency
	}
	span := c.cfg.MaxLatency - c.cfg.MinLatency
	return c.cfg.MinLatency + time.Duration(c.rng.Int63n(int64(span)))
}

func (c *Carrier) extraJitter() time.Duration {
	return time.Duration(c.rng.Int63n(int64(time.Millisecond) + 1))
}

// Recv blocks until a packet arrives, ctx is cancelled, or the carrier closes.
func (c *Carrier) Recv(ctx context.Context) (session.ApplicationDataIn, error) {
	select {
	case pkt := <-c.inbox:
		return pkt, nil
	case <-c.closed:
		return session.ApplicationDataIn{}, &session.CarrierError{Kind: session.CarrierErrShutdown}
	case <-ctx.Done():
		return session.ApplicationDataIn{}, ctx.Err()
	}
}

// Close shuts the carrier down; pending and future Recv calls return a
// CarrierErrShutdown.
func (c *Carrier) Close() {
	c.once.Do(func() { close(c.closed) })
}
