package manager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/pkg/metrics"
	"github.com/hoprnet/hopr-session-go/pkg/session"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// Config bundles the manager's own tunables plus the defaults handed to
// every session it creates.
type Config struct {
	// StartTimeout bounds how long the initiator waits for a START_ACC or
	// START_REJ before retrying.
	StartTimeout time.Duration
	// StartRetries is how many additional START_REQ attempts are made
	// after the first, before failing with SessionError{Kind: StartTimeout}.
	StartRetries int
	// AcceptQueueSize bounds the channel returned by Listen.
	AcceptQueueSize int
	// ShutdownGrace bounds how long Shutdown waits for sessions to close
	// cleanly before abandoning them.
	ShutdownGrace time.Duration
	// Session carries the defaults applied to every new session; its
	// Features field is the locally supported set offered during
	// negotiation, not the agreed set (which is computed per session).
	Session session.Config
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 3 * time.Second
	}
	if c.StartRetries <= 0 {
		c.StartRetries = 3
	}
	if c.AcceptQueueSize <= 0 {
		c.AcceptQueueSize = 16
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	return c
}

type pendingKey struct {
	pseudonym session.Pseudonym
	hint      session.SessionID
}

type startResult struct {
	accept *segment.StartAccept
	reject *segment.StartReject
}

// cachedStartReply is the control segment sent in response to one START_REQ,
// kept around briefly so a retransmitted START_REQ (the peer never saw our
// first reply) gets the same reply resent instead of re-running accept
// policy and minting a second session.
type cachedStartReply struct {
	kind    segment.ControlKind
	payload []byte
}

// startReplyWindow bounds how long a completed START_REQ's reply is kept
// for retransmission dedup; several multiples of a typical StartTimeout so a
// retried request always lands inside the window.
const startReplyWindow = 10 * time.Second

// Manager owns the registry, the 3-way start handshake, and the dispatch
// loop that demultiplexes one shared Carrier's inbound stream across every
// session it has registered.
type Manager struct {
	carrier session.Carrier
	policy  HostPolicy
	cfg     Config

	registry *Registry
	metrics  *metrics.SessionMetrics

	acceptMu  sync.Mutex
	acceptors map[string]chan *session.Session

	pendingMu sync.Mutex
	pending   map[pendingKey]chan startResult

	startReplies *ristretto.Cache[pendingKey, cachedStartReply]

	wg     sync.WaitGroup
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Manager. Call Run to start its dispatch loop.
func New(carrier session.Carrier, policy HostPolicy, cfg Config) *Manager {
	if policy == nil {
		policy = AllowAll{}
	}

	startReplies, err := ristretto.NewCache(&ristretto.Config[pendingKey, cachedStartReply]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// Only returns an error on invalid config constants above, never at
		// runtime; a nil cache degrades to "never dedup" rather than panic.
		logger.Error("manager failed to create start-reply cache", logger.Err(err))
	}

	return &Manager{
		carrier:      carrier,
		policy:       policy,
		cfg:          cfg.withDefaults(),
		registry:     NewRegistry(),
		metrics:      metrics.NewSessionMetrics(),
		acceptors:    make(map[string]chan *session.Session),
		pending:      make(map[pendingKey]chan startResult),
		startReplies: startReplies,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Listen registers target as an acceptable destination for inbound START_REQ
// and returns the channel newly established sessions for it arrive on.
func (m *Manager) Listen(target string) (<-chan *session.Session, error) {
	m.acceptMu.Lock()
	defer m.acceptMu.Unlock()
	if _, exists := m.acceptors[target]; exists {
		return nil, fmt.Errorf("manager: %q already has a listener", target)
	}
	ch := make(chan *session.Session, m.cfg.AcceptQueueSize)
	m.acceptors[target] = ch
	return ch, nil
}

// StopListening withdraws a prior Listen registration, closing its channel.
func (m *Manager) StopListening(target string) {
	m.acceptMu.Lock()
	defer m.acceptMu.Unlock()
	if ch, ok := m.acceptors[target]; ok {
		delete(m.acceptors, target)
		close(ch)
	}
}

// Done returns a channel closed once Run's dispatch loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.doneCh }

// Run drives the dispatch loop until ctx is cancelled or Shutdown is called.
// Callers orchestrating shutdown should cancel ctx (or close the underlying
// Carrier) alongside calling Shutdown, since a Carrier blocked in Recv can
// only be woken by one of those two.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)
	for {
		pkt, err := m.carrier.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			default:
			}
			logger.Warn("manager carrier recv failed", "error", err)
			continue
		}
		m.dispatch(ctx, pkt)
	}
}

func (m *Manager) dispatch(ctx context.Context, pkt session.ApplicationDataIn) {
	id, seg, err := decodeEnvelope(pkt.Data)
	if err != nil {
		logger.Debug("manager dropping malformed packet", "error", err)
		return
	}

	if !seg.IsControl() {
		m.forward(pkt.Info.Sender, id, seg)
		return
	}

	switch seg.ControlKind() {
	case segment.ControlStartRequest:
		m.handleStartRequest(ctx, pkt.Info.Sender, id, seg)
	case segment.ControlStartAccept:
		m.handleStartResponse(pkt.Info.Sender, id, seg, nil)
	case segment.ControlStartReject:
		m.handleStartResponse(pkt.Info.Sender, id, nil, &seg)
	default:
		m.forward(pkt.Info.Sender, id, seg)
	}
}

func (m *Manager) forward(sender session.Pseudonym, id session.SessionID, seg segment.Segment) {
	s, ok := m.registry.Get(Key{Pseudonym: sender, SessionID: id})
	if !ok {
		logger.Debug("manager dispatch: unknown session", "session_id", uint64(id))
		return
	}
	s.Deliver(seg)
}

func routingFor(p session.Pseudonym) session.DestinationRouting {
	return session.DestinationRouting(append([]byte(nil), p[:]...))
}

// allocateSessionID picks a session id disjoint from every id currently
// registered for pseudonym.
func (m *Manager) allocateSessionID(pseudonym session.Pseudonym) session.SessionID {
	for {
		id := newSessionIDHint()
		if !m.registry.HasSessionID(pseudonym, id) {
			return id
		}
	}
}

func (m *Manager) sendControl(ctx context.Context, routing session.DestinationRouting, envelopeID session.SessionID, kind segment.ControlKind, payload []byte) error {
	seg := segment.Segment{SegmentsInFrame: 1, Flags: segment.FlagLastSegment, Payload: payload}
	seg = segment.WithControlKind(seg, kind)
	wire := segment.Encode(seg)

	buf := make([]byte, envelopeHeaderSize+len(wire))
	binary.BigEndian.PutUint64(buf[:envelopeHeaderSize], uint64(envelopeID))
	copy(buf[envelopeHeaderSize:], wire)

	return m.carrier.Send(ctx, routing, buf)
}

// Dial performs the initiator side of the 3-way start handshake and, on
// success, installs and starts the resulting session.
func (m *Manager) Dial(ctx context.Context, pseudonym session.Pseudonym, target string, desired session.FeatureSet) (*session.Session, error) {
	routing := routingFor(pseudonym)
	hint := newSessionIDHint()

	payload, err := segment.EncodeStartRequest(segment.StartRequest{
		SessionIDHint:    uint64(hint),
		ProposedFeatures: uint8(desired),
		Target:           target,
	})
	if err != nil {
		return nil, err
	}

	key := pendingKey{pseudonym: pseudonym, hint: hint}
	pending := make(chan startResult, 1)
	m.pendingMu.Lock()
	m.pending[key] = pending
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, key)
		m.pendingMu.Unlock()
	}()

	for attempt := 0; attempt <= m.cfg.StartRetries; attempt++ {
		if err := m.sendControl(ctx, routing, hint, segment.ControlStartRequest, payload); err != nil {
			return nil, &session.SessionError{Kind: session.KindCarrierError, Err: err}
		}

		select {
		case res := <-pending:
			if res.reject != nil {
				return nil, &session.SessionError{Kind: session.KindStartRejected, Reason: res.reject.Reason}
			}
			agreed := session.FeatureSet(res.accept.AgreedFeatures)
			return m.install(session.SessionID(res.accept.AssignedSessionID), pseudonym, routing, agreed)

		case <-time.After(m.cfg.StartTimeout):
			logger.Debug("manager start handshake timed out, retrying", "attempt", attempt)
			continue

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, session.ErrStartTimeout
}

func (m *Manager) handleStartRequest(ctx context.Context, pseudonym session.Pseudonym, hint session.SessionID, seg segment.Segment) {
	req, err := segment.DecodeStartRequest(seg.Payload)
	if err != nil {
		logger.Debug("manager dropping malformed START_REQ", "error", err)
		return
	}
	routing := routingFor(pseudonym)
	key := pendingKey{pseudonym: pseudonym, hint: hint}

	if m.startReplies != nil {
		if cached, ok := m.startReplies.Get(key); ok {
			logger.Debug("manager resending cached reply for retransmitted START_REQ", logger.SessionID(uint64(hint)))
			if err := m.sendControl(ctx, routing, hint, cached.kind, cached.payload); err != nil {
				logger.Warn("manager failed to resend cached start reply", logger.Err(err))
			}
			return
		}
	}

	if decision, reason := m.policy.Permit(req.Target); decision == Deny {
		m.replyReject(ctx, routing, key, reason)
		return
	}

	m.acceptMu.Lock()
	ch, ok := m.acceptors[req.Target]
	m.acceptMu.Unlock()
	if !ok {
		m.replyReject(ctx, routing, key, segment.RejectNoListener)
		return
	}

	id := m.allocateSessionID(pseudonym)
	agreed := session.FeatureSet(req.ProposedFeatures).Intersect(m.cfg.Session.Features)

	s, err := m.install(id, pseudonym, routing, agreed)
	if err != nil {
		m.replyReject(ctx, routing, key, segment.RejectSessionIDCollision)
		return
	}

	payload, err := segment.EncodeStartAccept(segment.StartAccept{
		AssignedSessionID: uint64(id),
		AgreedFeatures:    uint8(agreed),
	})
	if err != nil {
		logger.Error("manager failed to encode START_ACC", "error", err)
		return
	}
	if err := m.sendControl(ctx, routing, hint, segment.ControlStartAccept, payload); err != nil {
		logger.Warn("manager failed to send START_ACC", "error", err)
	}
	if m.startReplies != nil {
		m.startReplies.SetWithTTL(key, cachedStartReply{kind: segment.ControlStartAccept, payload: payload}, int64(len(payload)), startReplyWindow)
	}

	m.policy.Accept(s)

	select {
	case ch <- s:
	default:
		logger.Warn("manager acceptor queue full, dropping session", "target", req.Target)
	}
}

func (m *Manager) replyReject(ctx context.Context, routing session.DestinationRouting, key pendingKey, reason segment.StartRejectReason) {
	m.metrics.RecordStartRejected(reason.String())

	payload, err := segment.EncodeStartReject(segment.StartReject{Reason: reason})
	if err != nil {
		logger.Error("manager failed to encode START_REJ", "error", err)
		return
	}
	if err := m.sendControl(ctx, routing, key.hint, segment.ControlStartReject, payload); err != nil {
		logger.Warn("manager failed to send START_REJ", "error", err)
	}
	if m.startReplies != nil {
		m.startReplies.SetWithTTL(key, cachedStartReply{kind: segment.ControlStartReject, payload: payload}, int64(len(payload)), startReplyWindow)
	}
}

func (m *Manager) handleStartResponse(pseudonym session.Pseudonym, hint session.SessionID, accept *segment.Segment, reject *segment.Segment) {
	m.pendingMu.Lock()
	pending, ok := m.pending[pendingKey{pseudonym: pseudonym, hint: hint}]
	m.pendingMu.Unlock()
	if !ok {
		return
	}

	var res startResult
	switch {
	case accept != nil:
		a, err := segment.DecodeStartAccept(accept.Payload)
		if err != nil {
			return
		}
		res.accept = &a
	case reject != nil:
		r, err := segment.DecodeStartReject(reject.Payload)
		if err != nil {
			return
		}
		res.reject = &r
	default:
		return
	}

	select {
	case pending <- res:
	default:
	}
}

func (m *Manager) install(id session.SessionID, pseudonym session.Pseudonym, routing session.DestinationRouting, agreed session.FeatureSet) (*session.Session, error) {
	cfg := m.cfg.Session
	cfg.Features = agreed
	if cfg.Surb != nil {
		cfg.SurbMetrics = metrics.NewSurbMetrics()
	}

	carrier := &sessionCarrier{id: id, carrier: m.carrier}
	traceID := logger.NewTraceID()

	key := Key{Pseudonym: pseudonym, SessionID: id}
	var s *session.Session
	s = session.New(id, pseudonym, routing, carrier, cfg, func(id session.SessionID, pseudonym session.Pseudonym, cause error) {
		m.registry.Remove(Key{Pseudonym: pseudonym, SessionID: id})
		m.metrics.RecordClosed(closeCause(cause))
		if cause != nil {
			logger.Info("session terminated", logger.SessionID(uint64(id)), logger.TraceID(traceID), logger.Cause(closeCause(cause)), logger.Err(cause))
		}
	})

	if err := m.registry.Register(key, s); err != nil {
		return nil, err
	}
	m.metrics.RecordStarted()
	logger.Debug("session established", logger.SessionID(uint64(id)), logger.TraceID(traceID))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(context.Background())
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reportStats(s)
	}()

	return s, nil
}

// reportStats polls s.Stats() until it closes or terminates, feeding the
// deltas into the manager's packet counters.
func (m *Manager) reportStats(s *session.Session) {
	recorder := m.metrics.NewRecorder()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recorder.Report(s.Stats())
		case <-s.Done():
			recorder.Report(s.Stats())
			return
		}
	}
}

// closeCause maps a session's terminal error to a low-cardinality label for
// the closed-sessions counter.
func closeCause(err error) string {
	if err == nil {
		return "local_close"
	}
	var sessErr *session.SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind.String()
	}
	return "error"
}

// Shutdown initiates a graceful Close on every registered session and waits
// up to ShutdownGrace for them to finish, then stops the dispatch loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopCh)

	grace, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range m.registry.List() {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			_ = s.Close(grace)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-grace.Done():
	}

	m.wg.Wait()
	if m.startReplies != nil {
		m.startReplies.Close()
	}
	return nil
}
