package faultynet

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hoprnet/hopr-session-go/pkg/session"
)

// FixedLengthCodec frames a raw byte stream into fixed-size packets: an item
// is decoded only once size bytes are buffered, otherwise decoding is
// skipped until more arrive. Mirrors
// original_source/transport/protocol/src/codec.rs's FixedLengthCodec, the
// tokio_util Decoder/Encoder pair the production transport uses to frame a
// byte-stream socket into discrete mix-network packets.
type FixedLengthCodec struct {
	size int
	buf  []byte
}

// NewFixedLengthCodec creates a codec framing a byte stream into size-byte
// packets.
func NewFixedLengthCodec(size int) *FixedLengthCodec {
	return &FixedLengthCodec{size: size}
}

// Encode returns pkt unchanged: both ends agree on size out of band, so
// there is nothing to length-prefix or pad.
func (c *FixedLengthCodec) Encode(pkt []byte) []byte { return pkt }

// Push appends newly read bytes to the codec's buffered, not yet decoded
// stream tail.
func (c *FixedLengthCodec) Push(b []byte) { c.buf = append(c.buf, b...) }

// Decode extracts the next full packet once size bytes are buffered. It
// reports false when fewer bytes are available, leaving them buffered for
// the next Push.
func (c *FixedLengthCodec) Decode() ([]byte, bool) {
	if len(c.buf) < c.size {
		return nil, false
	}
	pkt := append([]byte(nil), c.buf[:c.size]...)
	c.buf = append([]byte(nil), c.buf[c.size:]...)
	return pkt, true
}

// StreamCarrier adapts an io.ReadWriteCloser byte-stream — a TCP connection
// or anything else that does not already deliver discrete packets — into a
// session.Carrier, using FixedLengthCodec to recover packet boundaries.
// Every ApplicationData value sent or received is exactly PacketSize bytes;
// this is the byte-stream counterpart to the in-memory, already
// packet-shaped Carrier above.
type StreamCarrier struct {
	conn       io.ReadWriteCloser
	self       session.Pseudonym
	packetSize int

	inbox  chan session.ApplicationDataIn
	closed chan struct{}
	once   sync.Once
}

// NewStreamCarrier wraps conn and starts a background goroutine that reads
// and frames inbound bytes. Close shuts both the carrier and conn down.
func NewStreamCarrier(conn io.ReadWriteCloser, self session.Pseudonym, packetSize int) *StreamCarrier {
	sc := &StreamCarrier{
		conn:       conn,
		self:       self,
		packetSize: packetSize,
		inbox:      make(chan session.ApplicationDataIn, 256),
		closed:     make(chan struct{}),
	}
	go sc.readLoop()
	return sc
}

func (sc *StreamCarrier) readLoop() {
	codec := NewFixedLengthCodec(sc.packetSize)
	buf := make([]byte, sc.packetSize)
	for {
		n, err := sc.conn.Read(buf)
		if n > 0 {
			codec.Push(buf[:n])
			for {
				pkt, ok := codec.Decode()
				if !ok {
					break
				}
				item := session.ApplicationDataIn{
					Data: session.ApplicationData(pkt),
					Info: session.PacketInfo{Sender: sc.self, ReceivedAt: time.Now().UnixNano()},
				}
				select {
				case sc.inbox <- item:
				case <-sc.closed:
					return
				}
			}
		}
		if err != nil {
			sc.Close()
			return
		}
	}
}

// Send writes data to the underlying stream. data must be exactly
// packetSize bytes; a caller supplying anything else gets CarrierErrEncoding
// rather than a silently misframed stream.
func (sc *StreamCarrier) Send(ctx context.Context, _ session.DestinationRouting, data session.ApplicationData) error {
	select {
	case <-sc.closed:
		return &session.CarrierError{Kind: session.CarrierErrShutdown}
	default:
	}
	if len(data) != sc.packetSize {
		return &session.CarrierError{Kind: session.CarrierErrEncoding}
	}
	if _, err := sc.conn.Write(data); err != nil {
		return &session.CarrierError{Kind: session.CarrierErrRouting, Err: err}
	}
	return nil
}

// Recv blocks until the next full packet is framed out of the stream, ctx
// is done, or the carrier is shut down.
func (sc *StreamCarrier) Recv(ctx context.Context) (session.ApplicationDataIn, error) {
	select {
	case pkt := <-sc.inbox:
		return pkt, nil
	case <-sc.closed:
		return session.ApplicationDataIn{}, &session.CarrierError{Kind: session.CarrierErrShutdown}
	case <-ctx.Done():
		return session.ApplicationDataIn{}, ctx.Err()
	}
}

// Close shuts the carrier and its underlying connection down; pending and
// future Recv calls return CarrierErrShutdown.
func (sc *StreamCarrier) Close() {
	sc.once.Do(func() {
		close(sc.closed)
		sc.conn.Close()
	})
}
