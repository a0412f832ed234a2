// Package session implements the session state machine and socket: the
// Opening/Open/Closing/Closed lifecycle, the user-facing read/write/close
// operations, and the cooperative event loop that ties the segmenter,
// reassembler, sequencer, retry queue and (optionally) the SURB balancer
// together around one Carrier.
package session

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/internal/telemetry"
	"github.com/hoprnet/hopr-session-go/pkg/session/frame"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
	"github.com/hoprnet/hopr-session-go/pkg/session/surb"
)

// State is a position in the session lifecycle.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrBackpressured is returned by Write when the outbound unacked window is
// full; the caller should retry once space frees up.
var ErrBackpressured = backpressureError{}

type backpressureError struct{}

func (backpressureError) Error() string { return "session: backpressured" }

// Config bundles the tunables for one session's pipeline and timers.
type Config struct {
	MTU               int
	Features          FeatureSet
	Retransmission    RetransmissionConfig
	Reassembler       frame.ReassemblerConfig
	Sequencer         frame.SequencerConfig
	Segmenter         frame.SegmenterConfig
	Surb              *surb.Config // nil: no SURB balancer on this session
	SurbMetrics       surb.Metrics // optional; nil is accepted by surb.New
	IdleTimeout       time.Duration
	CloseGraceTimeout time.Duration
	// OutboundWindow bounds how many frames may be unacknowledged at once
	// when AcknowledgeFrames is negotiated. Ignored otherwise.
	OutboundWindow int
	tick           time.Duration // overridable by tests; defaults below
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.CloseGraceTimeout <= 0 {
		c.CloseGraceTimeout = 5 * time.Second
	}
	if c.OutboundWindow <= 0 {
		c.OutboundWindow = 64
	}
	if c.tick <= 0 {
		c.tick = 50 * time.Millisecond
	}
	return c
}

// TerminateFunc is invoked exactly once when a session's event loop exits,
// regardless of cause; the manager uses it to remove the session from its
// registry.
type TerminateFunc func(id SessionID, pseudonym Pseudonym, cause error)

// Session owns one logical end of a session: the segmenter/reassembler/
// sequencer pipeline, the retry queue, an optional SURB balancer, and the
// cooperative goroutine that drives them all against one Carrier.
//
// A Session is created already past the start handshake (the manager
// performs that before constructing one), so New starts it in StateOpen;
// a Session never reports StateOpening.
type Session struct {
	id        SessionID
	pseudonym Pseudonym
	routing   DestinationRouting
	carrier   Carrier
	cfg       Config

	mu    sync.Mutex
	state State

	seg    *frame.Segmenter
	reasm  *frame.Reassembler
	seq    *frame.Sequencer
	retryQ *RetryQueue
	surbB  *surb.Balancer

	stats PacketStats

	segOut  chan []segment.Segment
	ingress chan segment.Segment

	outboxMu sync.Mutex
	outbox   map[segment.FrameID][]segment.Segment

	readMu    sync.Mutex
	readBuf   bytes.Buffer
	readReady chan struct{}

	lastRecvNano atomic.Int64
	lastSendNano atomic.Int64
	awaitingPong atomic.Bool

	onTerminate TerminateFunc

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	fatalMu  sync.Mutex
	fatalErr error

	inconsistentSegs atomic.Int64
}

// maxInconsistentSegments bounds how many ErrInconsistent reassembly errors
// (spec.md §7: "absorbed and counted... unless they persist beyond a
// threshold") a session tolerates before it treats the peer as sending a
// malformed stream and fails with ErrProtocolError. spec.md leaves the exact
// threshold to the implementation; chosen here (Open Question decision, see
// DESIGN.md) to tolerate a handful of stray/duplicate segments with
// disagreeing bytes without flapping on a single bad segment.
const maxInconsistentSegments = 16

// New creates a Session past the start handshake, ready to Run.
func New(id SessionID, pseudonym Pseudonym, routing DestinationRouting, carrier Carrier, cfg Config, onTerminate TerminateFunc) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		id:          id,
		pseudonym:   pseudonym,
		routing:     routing,
		carrier:     carrier,
		cfg:         cfg,
		state:       StateOpen,
		reasm:       frame.NewReassembler(cfg.Reassembler),
		seq:         frame.NewSequencer(cfg.Sequencer),
		segOut:      make(chan []segment.Segment, cfg.OutboundWindow),
		ingress:     make(chan segment.Segment, 256),
		outbox:      make(map[segment.FrameID][]segment.Segment),
		readReady:   make(chan struct{}, 1),
		onTerminate: onTerminate,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	s.seg = frame.NewSegmenter(cfg.Segmenter, s.segOut)

	if cfg.Features.Has(AcknowledgeFrames) {
		s.retryQ = NewRetryQueue(cfg.Retransmission)
	}
	if cfg.Surb != nil {
		s.surbB = surb.New(*cfg.Surb, s.issueSurbs, cfg.SurbMetrics)
	}

	now := time.Now()
	s.lastRecvNano.Store(now.UnixNano())
	s.lastSendNano.Store(now.UnixNano())

	return s
}

// ID returns the session's locally unique identifier.
func (s *Session) ID() SessionID { return s.id }

// PeerPseudonym returns the remote carrier identity this session talks to.
func (s *Session) PeerPseudonym() Pseudonym { return s.pseudonym }

// Stats returns a snapshot of this session's packet counters.
func (s *Session) Stats() PacketStatsSnapshot { return s.stats.Snapshot() }

// Done returns a channel closed once Run has returned, for callers that
// need to stop polling this session (e.g. periodic stats reporting)
// without holding their own reference to ctx.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Deliver hands one inbound segment (already parsed from the carrier's
// ApplicationData by the session manager's dispatcher) to this session's
// ingress queue. Non-blocking: a full queue drops the segment, the same as
// a lossy carrier would, and relies on the retransmission/REQ_INCOMPLETE
// protocol to recover it.
func (s *Session) Deliver(seg segment.Segment) {
	select {
	case s.ingress <- seg:
	default:
		logger.Warn("session ingress queue full, dropping segment", logger.SessionID(uint64(s.id)), logger.FrameID(uint32(seg.FrameID)))
	}
}

// Write enqueues bytes into the segmenter. It returns the number of bytes
// accepted; under AcknowledgeFrames with a full outbound window it returns
// (0, ErrBackpressured) instead of blocking.
func (s *Session) Write(p []byte) (int, error) {
	if s.State() != StateOpen {
		return 0, ErrClosed
	}
	if s.retryQ != nil && s.retryQ.Len() >= s.cfg.OutboundWindow {
		return 0, ErrBackpressured
	}
	return s.seg.Write(p)
}

// Read drains bytes the sequencer has delivered in order, blocking until at
// least one byte is available, ctx is done, or the session closes. Returns
// (0, nil) once the session has closed, for any cause, with nothing left
// buffered; Err reports the cause of a fatal close.
func (s *Session) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		s.readMu.Lock()
		if s.readBuf.Len() > 0 {
			n, _ := s.readBuf.Read(buf)
			s.readMu.Unlock()
			return n, nil
		}
		s.readMu.Unlock()

		if s.State() == StateClosed {
			return 0, nil
		}

		select {
		case <-s.readReady:
			continue
		case <-s.doneCh:
			s.readMu.Lock()
			n := 0
			if s.readBuf.Len() > 0 {
				n, _ = s.readBuf.Read(buf)
			}
			s.readMu.Unlock()
			if n > 0 {
				return n, nil
			}
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close transitions the session to Closing, emits a CLOSE control segment,
// and continues draining inbound traffic until the peer acknowledges or
// CloseGraceTimeout elapses.
func (s *Session) Close(ctx context.Context) error {
	if s.State() == StateClosed {
		return nil
	}
	s.setState(StateClosing)
	s.sendControl(ctx, segment.ControlClose, nil)

	select {
	case <-s.doneCh:
		return nil
	case <-time.After(s.cfg.CloseGraceTimeout):
		s.terminate(nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session's event loop until ctx is cancelled, the session
// closes, or a fatal error occurs. It is meant to be called once, from a
// goroutine owned by the session manager.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneCh)

	ctx, span := telemetry.StartSessionSpan(ctx, uint64(s.id), s.pseudonym.String())
	defer span.End()

	ticker := time.NewTicker(s.cfg.tick)
	defer ticker.Stop()

	if s.surbB != nil {
		s.surbB.Start()
		defer s.surbB.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			s.terminate(ctx.Err())
			return

		case <-s.stopCh:
			s.terminate(nil)
			return

		case segs, ok := <-s.segOut:
			if !ok {
				continue
			}
			s.sendFrame(ctx, segs)

		case seg := <-s.ingress:
			s.handleInbound(ctx, seg)

		case now := <-ticker.C:
			if s.tick(ctx, now) {
				return
			}
		}
	}
}

// tick runs all periodic bookkeeping; it returns true if the session
// terminated as a result (idle timeout or peer-unresponsive escalation).
func (s *Session) tick(ctx context.Context, now time.Time) bool {
	for _, ferr := range s.reasm.Tick(now) {
		logger.Debug("session frame error", logger.SessionID(uint64(s.id)), logger.Err(ferr))
		s.maybeRequestIncomplete(ctx, ferr)
	}

	if serr, drained := s.seq.Tick(now); serr != nil {
		logger.Warn("session sequencer gap", logger.SessionID(uint64(s.id)), logger.Err(serr))
		s.deliverUserBytes(drained)
	}

	if s.retryQ != nil {
		resend, exhausted := s.retryQ.Due(now)
		for _, id := range resend {
			s.resendFrame(ctx, id)
		}
		if len(exhausted) > 0 {
			s.fail(newSessionError(KindPeerUnresponsive, nil))
			return true
		}
	}

	if s.idleExceeded(now) {
		s.fail(newSessionError(KindIdle, nil))
		return true
	}
	if s.shouldKeepalive(now) {
		s.sendControl(ctx, segment.ControlKeepalive, nil)
	}

	return false
}

func (s *Session) idleExceeded(now time.Time) bool {
	if s.cfg.Features.Has(NoDelay) {
		return false
	}
	last := time.Unix(0, s.lastRecvNano.Load())
	return s.awaitingPong.Load() && now.Sub(last) > 2*s.cfg.IdleTimeout
}

func (s *Session) shouldKeepalive(now time.Time) bool {
	if s.cfg.Features.Has(NoDelay) || s.awaitingPong.Load() {
		return false
	}
	lastSend := time.Unix(0, s.lastSendNano.Load())
	lastRecv := time.Unix(0, s.lastRecvNano.Load())
	idle := now.Sub(lastSend) > s.cfg.IdleTimeout && now.Sub(lastRecv) > s.cfg.IdleTimeout
	if idle {
		s.awaitingPong.Store(true)
	}
	return idle
}

func (s *Session) sendFrame(ctx context.Context, segs []segment.Segment) {
	if len(segs) == 0 {
		return
	}
	id := segs[0].FrameID

	if s.retryQ != nil {
		s.outboxMu.Lock()
		s.outbox[id] = segs
		s.outboxMu.Unlock()
		s.retryQ.Track(id, time.Now())
	}

	for _, seg := range segs {
		s.transmit(ctx, seg)
	}
}

func (s *Session) resendFrame(ctx context.Context, id segment.FrameID) {
	s.outboxMu.Lock()
	segs, ok := s.outbox[id]
	s.outboxMu.Unlock()
	if !ok {
		return
	}
	logger.Debug("session resending frame", logger.SessionID(uint64(s.id)), logger.FrameID(uint32(id)))
	for _, seg := range segs {
		s.transmit(ctx, seg)
	}
}

func (s *Session) transmit(ctx context.Context, seg segment.Segment) {
	wire := segment.Encode(seg)
	if err := s.carrier.Send(ctx, s.routing, wire); err != nil {
		logger.Error("session carrier send failed", logger.SessionID(uint64(s.id)), logger.Err(err))
		s.fail(newSessionError(KindCarrierError, err))
		return
	}
	s.stats.RecordOut(len(wire))
	s.lastSendNano.Store(time.Now().UnixNano())
}

func (s *Session) sendControl(ctx context.Context, kind segment.ControlKind, payload []byte) {
	seg := segment.Segment{FrameID: 0, SegmentsInFrame: 1, Flags: segment.FlagLastSegment, Payload: payload}
	seg = segment.WithControlKind(seg, kind)
	s.transmit(ctx, seg)
}

func (s *Session) handleInbound(ctx context.Context, seg segment.Segment) {
	wire := segment.Encode(seg)
	s.stats.RecordIn(len(wire))
	s.lastRecvNano.Store(time.Now().UnixNano())
	s.awaitingPong.Store(false)

	if !seg.IsControl() {
		s.handleData(ctx, seg)
		return
	}

	switch seg.ControlKind() {
	case segment.ControlAck:
		ack, err := segment.DecodeAck(seg.Payload)
		if err != nil {
			return
		}
		if s.retryQ != nil {
			s.retryQ.Ack(ack.FrameID)
		}
		s.outboxMu.Lock()
		delete(s.outbox, ack.FrameID)
		s.outboxMu.Unlock()

	case segment.ControlReqIncomplete:
		req, err := segment.DecodeReqIncomplete(seg.Payload)
		if err != nil {
			return
		}
		s.resendMissing(ctx, req)

	case segment.ControlKeepalive:
		// lastRecvNano/awaitingPong already updated above; nothing else to do.

	case segment.ControlClose:
		s.handlePeerClose(ctx)

	case segment.ControlSurbRequest:
		// Minting SURBs is a carrier/mix-network primitive outside this
		// package's scope (SPEC_FULL.md §1); this session's job is only to
		// surface the request, not service it.
		req, err := segment.DecodeSurbRequest(seg.Payload)
		if err != nil {
			return
		}
		logger.Debug("session received surb request", logger.SessionID(uint64(s.id)), "count", req.Count)

	default:
		logger.Debug("session ignoring control segment", logger.SessionID(uint64(s.id)), "kind", seg.ControlKind())
	}
}

func (s *Session) handleData(ctx context.Context, seg segment.Segment) {
	ordered, ferr := s.reasm.Accept(seg, time.Now())
	if ferr != nil {
		if ferr.Kind == frame.ErrInconsistent {
			if s.inconsistentSegs.Add(1) > maxInconsistentSegments {
				s.fail(newSessionError(KindProtocolError, ferr))
				return
			}
		} else {
			s.maybeRequestIncomplete(ctx, ferr)
		}
	}
	if ordered == nil {
		return
	}

	if s.cfg.Features.Has(AcknowledgeFrames) {
		s.sendControl(ctx, segment.ControlAck, segment.EncodeAck(segment.AckPayload{FrameID: ordered.ID}))
	}

	delivered := s.seq.Accept(frame.OrderedFrame{ID: ordered.ID, Data: ordered.Data}, time.Now())
	s.deliverUserBytes(delivered)
}

func (s *Session) deliverUserBytes(chunks [][]byte) {
	if len(chunks) == 0 {
		return
	}
	s.readMu.Lock()
	for _, c := range chunks {
		s.readBuf.Write(c)
	}
	s.readMu.Unlock()

	select {
	case s.readReady <- struct{}{}:
	default:
	}
}

func (s *Session) maybeRequestIncomplete(ctx context.Context, ferr *frame.FrameError) {
	if ferr.Kind != frame.ErrIncomplete || !s.cfg.Features.Has(RequestIncompleteFrames) {
		return
	}
	payload := segment.EncodeReqIncomplete(segment.ReqIncompletePayload{FrameID: ferr.FrameID, Missing: ferr.Missing})
	s.sendControl(ctx, segment.ControlReqIncomplete, payload)
}

func (s *Session) resendMissing(ctx context.Context, req segment.ReqIncompletePayload) {
	s.outboxMu.Lock()
	segs, ok := s.outbox[req.FrameID]
	s.outboxMu.Unlock()
	if !ok {
		return
	}
	for _, seg := range segs {
		if req.Missing.IsSet(seg.SeqNo) {
			s.transmit(ctx, seg)
		}
	}
}

func (s *Session) handlePeerClose(ctx context.Context) {
	switch s.State() {
	case StateClosing:
		s.terminate(nil)
	default:
		s.setState(StateClosing)
		s.sendControl(ctx, segment.ControlClose, nil)
		s.terminate(nil)
	}
}

func (s *Session) issueSurbs(n int) error {
	if n <= 0 {
		return nil
	}
	logger.Debug("session surb batch requested", logger.SessionID(uint64(s.id)), "batch", n)
	payload := segment.EncodeSurbRequest(segment.SurbRequestPayload{Count: uint32(n)})
	s.sendControl(context.Background(), segment.ControlSurbRequest, payload)
	return nil
}

func (s *Session) fail(err *SessionError) {
	s.fatalMu.Lock()
	first := s.fatalErr == nil
	if first {
		s.fatalErr = err
	}
	s.fatalMu.Unlock()
	// Tell the peer before tearing down; a failed carrier cannot carry it.
	if first && err.Kind != KindCarrierError && s.State() != StateClosed {
		s.sendControl(context.Background(), segment.ControlClose, nil)
	}
	s.terminate(err)
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatalErr
}

func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.seg.Close()
		close(s.stopCh)
		if s.onTerminate != nil {
			s.onTerminate(s.id, s.pseudonym, cause)
		}
		select {
		case s.readReady <- struct{}{}:
		default:
		}
	})
}
