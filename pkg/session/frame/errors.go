package frame

import (
	"fmt"

	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// ErrorKind classifies a FrameError or SequencerError.
type ErrorKind int

const (
	// ErrInconsistent: a segment disagreed with the SegmentsInFrame already
	// recorded for its FrameID, or supplied different bytes for a slot
	// already filled. Fatal for that frame only.
	ErrInconsistent ErrorKind = iota
	// ErrIncomplete: a frame's max_age elapsed before all segments arrived.
	ErrIncomplete
	// ErrDiscarded: the reassembler was at capacity and evicted the oldest
	// incomplete frame to admit a new one.
	ErrDiscarded
	// ErrGap: the sequencer's skip-queue held a gap that did not fill
	// within gap_timeout; next_id was advanced past it.
	ErrGap
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInconsistent:
		return "Inconsistent"
	case ErrIncomplete:
		return "Incomplete"
	case ErrDiscarded:
		return "Discarded"
	case ErrGap:
		return "Gap"
	default:
		return "Unknown"
	}
}

// FrameError reports a reassembly failure for a single FrameID.
type FrameError struct {
	Kind    ErrorKind
	FrameID segment.FrameID
	// Missing is populated for ErrIncomplete: the bitmap of segment slots
	// that never arrived.
	Missing segment.MissingBitmap
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case ErrIncomplete:
		return fmt.Sprintf("frame %d: incomplete before max_age elapsed", uint32(e.FrameID))
	case ErrDiscarded:
		return fmt.Sprintf("frame %d: discarded, reassembler at capacity", uint32(e.FrameID))
	default:
		return fmt.Sprintf("frame %d: %s", uint32(e.FrameID), e.Kind)
	}
}

// SequencerError reports a gap in the delivered FrameID sequence that timed
// out before it could be filled.
type SequencerError struct {
	From, To segment.FrameID
}

func (e *SequencerError) Error() string {
	return fmt.Sprintf("sequencer: gap from %d to %d timed out", uint32(e.From), uint32(e.To))
}
