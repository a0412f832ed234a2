package frame

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// SequencerConfig configures a Sequencer.
type SequencerConfig struct {
	// SkipQueueCapacity bounds how many out-of-order frames may be held
	// awaiting a gap fill. Zero means unbounded (timeout-only eviction).
	SkipQueueCapacity int
	// GapTimeout is how long a frame may sit at the head of the skip queue
	// before the gap ahead of it is declared lost.
	GapTimeout time.Duration
}

type skipEntry struct {
	data    []byte
	arrived time.Time
}

// Sequencer reorders completed frames back into strictly increasing FrameID
// order before handing their bytes to the application.
type Sequencer struct {
	cfg       SequencerConfig
	nextID    segment.FrameID
	skipQueue *orderedmap.OrderedMap[segment.FrameID, skipEntry]

	stuckSince    time.Time
	hasStuckSince bool
}

// NewSequencer creates a Sequencer starting at FrameID 0.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	return &Sequencer{
		cfg:       cfg,
		skipQueue: orderedmap.New[segment.FrameID, skipEntry](),
	}
}

// Accept feeds one completed frame into the sequencer, in any arrival order.
// It returns the byte payloads that became deliverable as a result, in
// order; nil if f was buffered (future) or discarded (stale duplicate).
func (s *Sequencer) Accept(f OrderedFrame, now time.Time) [][]byte {
	switch {
	case f.ID == s.nextID:
		out := [][]byte{f.Data}
		s.nextID = s.nextID.Next()
		out = append(out, s.drain()...)
		return out

	case s.nextID.Less(f.ID):
		if _, exists := s.skipQueue.Get(f.ID); exists {
			return nil
		}
		s.skipQueue.Set(f.ID, skipEntry{data: f.Data, arrived: now})
		if !s.hasStuckSince {
			s.hasStuckSince = true
			s.stuckSince = now
		}
		return nil

	default:
		// f.ID < nextID under modular order: duplicate or late arrival.
		logger.Debug("sequencer discarding stale frame", "frame_id", uint32(f.ID), "next_id", uint32(s.nextID))
		return nil
	}
}

// drain delivers the contiguous run of frames starting at nextID that are
// already sitting in the skip queue, advancing nextID past each.
func (s *Sequencer) drain() [][]byte {
	var out [][]byte
	for {
		entry, ok := s.skipQueue.Get(s.nextID)
		if !ok {
			break
		}
		out = append(out, entry.data)
		s.skipQueue.Delete(s.nextID)
		s.nextID = s.nextID.Next()
	}
	if s.skipQueue.Len() == 0 {
		s.hasStuckSince = false
	}
	return out
}

// earliestHeld returns the FrameID in the skip queue closest to (ahead of)
// nextID under modular distance, i.e. the frame that would resolve the
// current gap first.
func (s *Sequencer) earliestHeld() (segment.FrameID, bool) {
	var best segment.FrameID
	var bestDist uint32
	found := false
	for pair := s.skipQueue.Oldest(); pair != nil; pair = pair.Next() {
		dist := uint32(pair.Key - s.nextID)
		if !found || dist < bestDist {
			found, bestDist, best = true, dist, pair.Key
		}
	}
	return best, found
}

// Tick checks whether the current gap has overstayed its welcome — either
// the skip queue is at capacity, or the head of the gap has waited longer
// than GapTimeout — and if so, reports it once and advances nextID past the
// gap, returning any frames that become deliverable as a result.
func (s *Sequencer) Tick(now time.Time) (*SequencerError, [][]byte) {
	if s.skipQueue.Len() == 0 {
		return nil, nil
	}

	atCapacity := s.cfg.SkipQueueCapacity > 0 && s.skipQueue.Len() >= s.cfg.SkipQueueCapacity
	timedOut := s.hasStuckSince && now.Sub(s.stuckSince) >= s.cfg.GapTimeout
	if !atCapacity && !timedOut {
		return nil, nil
	}

	earliest, ok := s.earliestHeld()
	if !ok {
		return nil, nil
	}

	from := s.nextID
	s.nextID = earliest
	drained := s.drain()

	if s.skipQueue.Len() > 0 {
		s.hasStuckSince = true
		s.stuckSince = now
	}

	logger.Warn("sequencer gap timed out, advancing past it", "from", uint32(from), "to", uint32(earliest))
	return &SequencerError{From: from, To: earliest}, drained
}

// NextID returns the FrameID the sequencer next expects to deliver.
func (s *Sequencer) NextID() segment.FrameID { return s.nextID }

// Pending returns the number of out-of-order frames currently buffered.
func (s *Sequencer) Pending() int { return s.skipQueue.Len() }
