package frame

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// OrderedFrame is a completed frame: all of its segments' payloads
// concatenated in sequence order.
type OrderedFrame struct {
	ID   segment.FrameID
	Data []byte
}

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	// Capacity bounds how many incomplete frames may be in flight at once;
	// a frame's entry is dropped as soon as it completes. When full, admitting a new FrameID
	// evicts the oldest entry by first-seen timestamp.
	Capacity int
	// MaxAge expires an incomplete frame entry, reporting ErrIncomplete.
	MaxAge time.Duration
}

type frameEntry struct {
	segmentsInFrame uint8
	slots           [][]byte
	received        []bool
	remaining       int
	firstSeen       time.Time
}

func newFrameEntry(segmentsInFrame uint8, now time.Time) *frameEntry {
	return &frameEntry{
		segmentsInFrame: segmentsInFrame,
		slots:           make([][]byte, segmentsInFrame),
		received:        make([]bool, segmentsInFrame),
		remaining:       int(segmentsInFrame),
		firstSeen:       now,
	}
}

func (e *frameEntry) missing() segment.MissingBitmap {
	bm := segment.NewMissingBitmap(e.segmentsInFrame)
	for i, got := range e.received {
		if !got {
			bm.Set(uint8(i))
		}
	}
	return bm
}

func (e *frameEntry) concat() []byte {
	total := 0
	for _, s := range e.slots {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range e.slots {
		out = append(out, s...)
	}
	return out
}

// Reassembler consumes segments and reconstructs the frames they belong to.
type Reassembler struct {
	cfg     ReassemblerConfig
	entries *orderedmap.OrderedMap[segment.FrameID, *frameEntry]
}

// NewReassembler creates a Reassembler with the given configuration.
func NewReassembler(cfg ReassemblerConfig) *Reassembler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	return &Reassembler{
		cfg:     cfg,
		entries: orderedmap.New[segment.FrameID, *frameEntry](),
	}
}

// Accept feeds one segment into the reassembler. It returns a completed
// OrderedFrame when seg was the last missing piece of its frame, a
// FrameError if seg is invalid or caused an eviction, or (nil, nil) when
// seg was accepted but its frame is still incomplete.
func (r *Reassembler) Accept(seg segment.Segment, now time.Time) (*OrderedFrame, *FrameError) {
	var evicted *FrameError

	entry, ok := r.entries.Get(seg.FrameID)
	if !ok {
		if r.entries.Len() >= r.cfg.Capacity {
			evicted = r.evictOldestLocked()
		}
		entry = newFrameEntry(seg.SegmentsInFrame, now)
		r.entries.Set(seg.FrameID, entry)
	} else if entry.segmentsInFrame != seg.SegmentsInFrame {
		return nil, &FrameError{Kind: ErrInconsistent, FrameID: seg.FrameID}
	}

	if int(seg.SeqNo) >= len(entry.slots) {
		return nil, &FrameError{Kind: ErrInconsistent, FrameID: seg.FrameID}
	}

	if entry.received[seg.SeqNo] {
		if string(entry.slots[seg.SeqNo]) != string(seg.Payload) {
			return nil, &FrameError{Kind: ErrInconsistent, FrameID: seg.FrameID}
		}
		// Duplicate with identical bytes: silently discard.
		if evicted != nil {
			return nil, evicted
		}
		return nil, nil
	}

	entry.slots[seg.SeqNo] = seg.Payload
	entry.received[seg.SeqNo] = true
	entry.remaining--

	if entry.remaining == 0 {
		data := entry.concat()
		r.entries.Delete(seg.FrameID)
		logger.Debug("reassembler completed frame", "frame_id", uint32(seg.FrameID), "bytes", len(data))
		return &OrderedFrame{ID: seg.FrameID, Data: data}, evicted
	}

	return nil, evicted
}

func (r *Reassembler) evictOldestLocked() *FrameError {
	oldest := r.entries.Oldest()
	if oldest == nil {
		return nil
	}
	id := oldest.Key
	r.entries.Delete(id)
	logger.Warn("reassembler at capacity, evicting oldest frame", "frame_id", uint32(id))
	return &FrameError{Kind: ErrDiscarded, FrameID: id}
}

// Tick expires any incomplete frame entry older than MaxAge, returning one
// FrameError per expired frame. Call this periodically from the owning
// session's timer loop.
func (r *Reassembler) Tick(now time.Time) []*FrameError {
	var expired []*FrameError
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if now.Sub(pair.Value.firstSeen) < r.cfg.MaxAge {
			// Entries are ordered oldest-first by insertion time, so once
			// one is within its age budget, every later entry is too.
			break
		}
		expired = append(expired, &FrameError{
			Kind:    ErrIncomplete,
			FrameID: pair.Key,
			Missing: pair.Value.missing(),
		})
	}
	for _, e := range expired {
		r.entries.Delete(e.FrameID)
	}
	return expired
}

// Pending returns the number of frames currently in flight.
func (r *Reassembler) Pending() int { return r.entries.Len() }
