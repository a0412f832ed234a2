package session

import "sync/atomic"

// PacketStats holds atomic, lock-free counters of a session's traffic.
// Safe for concurrent use; snapshot with Snapshot() for a consistent,
// non-atomic copy suitable for reporting.
type PacketStats struct {
	packetsOut atomic.Uint64
	packetsIn  atomic.Uint64
	bytesOut   atomic.Uint64
	bytesIn    atomic.Uint64
}

// RecordOut records one outgoing packet of the given size.
func (s *PacketStats) RecordOut(bytes int) {
	s.packetsOut.Add(1)
	s.bytesOut.Add(uint64(bytes))
}

// RecordIn records one incoming packet of the given size.
func (s *PacketStats) RecordIn(bytes int) {
	s.packetsIn.Add(1)
	s.bytesIn.Add(uint64(bytes))
}

// PacketStatsSnapshot is a point-in-time, non-atomic copy of PacketStats.
type PacketStatsSnapshot struct {
	PacketsOut uint64
	PacketsIn  uint64
	BytesOut   uint64
	BytesIn    uint64
}

// Snapshot returns a consistent-enough point-in-time copy of the counters.
func (s *PacketStats) Snapshot() PacketStatsSnapshot {
	return PacketStatsSnapshot{
		PacketsOut: s.packetsOut.Load(),
		PacketsIn:  s.packetsIn.Load(),
		BytesOut:   s.bytesOut.Load(),
		BytesIn:    s.bytesIn.Load(),
	}
}
