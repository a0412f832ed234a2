// Package frame implements the segmenter/reassembler/sequencer pipeline:
// chopping a byte stream into MTU-sized segments, reassembling segments back
// into frames, and delivering frames to the application in order.
package frame

import (
	"sync"
	"time"

	"github.com/hoprnet/hopr-session-go/internal/logger"
	"github.com/hoprnet/hopr-session-go/pkg/bufpool"
	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// SegmenterConfig configures a Segmenter.
type SegmenterConfig struct {
	// MTU is the carrier's fixed packet payload size.
	MTU int
	// FrameSize is the target number of bytes to accumulate before cutting
	// a frame, when NoDelay is false.
	FrameSize int
	// NoDelay, when true, emits whatever is buffered immediately on every
	// Write instead of waiting for FrameSize bytes or FlushInterval.
	NoDelay bool
	// FlushInterval bounds how long a partial frame waits before being cut,
	// when NoDelay is false. Zero disables the timer (only FrameSize or an
	// explicit Flush cuts a frame).
	FlushInterval time.Duration
}

// SegmentFrame splits a single frame's bytes into the wire segments that
// carry it under the given MTU. Returns nil for a zero-length frame.
func SegmentFrame(id segment.FrameID, data []byte, mtu int) []segment.Segment {
	if len(data) == 0 {
		return nil
	}

	maxPayload := segment.MaxPayload(mtu)
	count := (len(data) + maxPayload - 1) / maxPayload
	segs := make([]segment.Segment, 0, count)

	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(data) {
			end = len(data)
		}

		payload := bufpool.Get(end - start)
		copy(payload, data[start:end])

		s := segment.Segment{
			FrameID:         id,
			SeqNo:           uint8(i),
			SegmentsInFrame: uint8(count),
			Payload:         payload,
		}
		if i == count-1 {
			s.Flags |= segment.FlagLastSegment
		}
		segs = append(segs, s)
	}
	return segs
}

// Segmenter accumulates written bytes into frames and emits each frame's
// segments on Out once the frame is cut (by size, timer, or explicit Flush).
type Segmenter struct {
	cfg SegmenterConfig
	out chan<- []segment.Segment

	mu     sync.Mutex
	buf    []byte
	nextID segment.FrameID
	timer  *time.Timer
	closed bool
}

// NewSegmenter creates a Segmenter that writes completed frames' segments to out.
func NewSegmenter(cfg SegmenterConfig, out chan<- []segment.Segment) *Segmenter {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = segment.MaxPayload(cfg.MTU)
	}
	return &Segmenter{cfg: cfg, out: out}
}

// Write appends p to the pending frame buffer, cutting and emitting complete
// frames as FrameSize is reached. A zero-length write is a no-op and emits
// nothing. Write never blocks on the output channel being full for longer
// than necessary to preserve ordering; callers own backpressure via Out's
// buffering.
func (s *Segmenter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSegmenterClosed
	}

	s.buf = append(s.buf, p...)
	for len(s.buf) >= s.cfg.FrameSize {
		s.cutLocked(s.buf[:s.cfg.FrameSize])
		s.buf = append([]byte(nil), s.buf[s.cfg.FrameSize:]...)
	}

	switch {
	case s.cfg.NoDelay && len(s.buf) > 0:
		s.cutLocked(s.buf)
		s.buf = s.buf[:0]
	case len(s.buf) > 0 && s.cfg.FlushInterval > 0:
		s.resetTimerLocked()
	}

	return len(p), nil
}

// Flush cuts whatever is currently buffered into a frame immediately, even
// if it is smaller than FrameSize.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return
	}
	s.cutLocked(s.buf)
	s.buf = s.buf[:0]
}

// Close stops the flush timer and prevents further writes.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Segmenter) cutLocked(data []byte) {
	id := s.nextID
	s.nextID = s.nextID.Next()

	segs := SegmentFrame(id, data, s.cfg.MTU)
	logger.Debug("segmenter cut frame", "frame_id", uint32(id), "segments", len(segs), "bytes", len(data))
	s.out <- segs
}

func (s *Segmenter) resetTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.FlushInterval, s.Flush)
}

// ErrSegmenterClosed is returned by Write after Close.
var ErrSegmenterClosed = segmenterClosedError{}

type segmenterClosedError struct{}

func (segmenterClosedError) Error() string { return "frame: segmenter is closed" }
