// Package transport is the narrow façade the rest of this core uses to
// talk to QUIC: opening/closing data contexts, enqueueing and dequeueing
// frames, and surfacing connection-level events. Outside it, only
// cmd/moqrelayd (for the listener) and wire (for quicvarint) import
// quic-go.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/quic-go/quic-go"
)

// EnqueueFlags controls how a frame is placed on a data context.
type EnqueueFlags struct {
	UseReliable   bool // stream vs. datagram
	NewStream     bool // start a fresh stream for this context
	ClearTxQueue  bool // drop anything already queued before this frame
	UseReset      bool // close the current stream with STOP_SENDING/RESET_STREAM instead of FIN
}

// DataContext is one egress path on a connection: either a QUIC stream or
// the connection's shared datagram channel.
type DataContext struct {
	ID       uint64
	conn     quic.Connection
	stream   quic.SendStream
	reliable bool
}

// ErrNotConnected names the not-connected condition; no function in this
// package returns it.
var ErrNotConnected = errors.New("transport: not connected")

// Conn wraps one quic.Connection with the create/enqueue/dequeue/close
// contract spec §6.2 asks of a transport façade.
type Conn struct {
	conn quic.Connection

	nextCtxID uint64
}

// NewConn wraps an already-established quic.Connection.
func NewConn(c quic.Connection) *Conn {
	return &Conn{conn: c}
}

// Context returns the connection's background context, cancelled when
// the connection closes.
func (c *Conn) Context() context.Context {
	return c.conn.Context()
}

// OpenControlStream opens the bidirectional stream used for MoQT control
// messages. Only the client side calls this; the server side accepts it
// via AcceptControlStream.
func (c *Conn) OpenControlStream(ctx context.Context) (quic.Stream, error) {
	return c.conn.OpenStreamSync(ctx)
}

// AcceptControlStream accepts the peer-initiated control stream.
func (c *Conn) AcceptControlStream(ctx context.Context) (quic.Stream, error) {
	return c.conn.AcceptStream(ctx)
}

// CreateDataContext opens a new unidirectional send stream for a data
// context that will carry object frames reliably. Datagram-only contexts
// don't need one; callers send through SendDatagram directly.
func (c *Conn) CreateDataContext(ctx context.Context) (*DataContext, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	c.nextCtxID++
	return &DataContext{ID: c.nextCtxID, conn: c.conn, stream: s, reliable: true}, nil
}

// Enqueue writes frame to the data context, honoring flags. A
// reliable-stream context that's asked for a NewStream replaces its
// underlying stream; ClearTxQueue is a no-op here because quic-go's
// stream write buffer has no introspectable queue to clear — the caller
// (scheduler) is responsible for dropping superseded frames before they
// reach Enqueue.
func (dc *DataContext) Enqueue(ctx context.Context, frame []byte, flags EnqueueFlags) error {
	if flags.UseReset && dc.stream != nil {
		dc.stream.CancelWrite(0)
		return nil
	}
	if flags.NewStream {
		s, err := dc.conn.OpenUniStreamSync(ctx)
		if err != nil {
			return err
		}
		if dc.stream != nil {
			dc.stream.Close()
		}
		dc.stream = s
	}
	if !dc.reliable {
		return dc.conn.SendDatagram(frame)
	}
	_, err := dc.stream.Write(frame)
	return err
}

// Close ends the data context's current stream with a FIN.
func (dc *DataContext) Close() error {
	if dc.stream == nil {
		return nil
	}
	return dc.stream.Close()
}

// SendDatagram sends frame as a standalone QUIC datagram, bypassing any
// data context.
func (c *Conn) SendDatagram(frame []byte) error {
	return c.conn.SendDatagram(frame)
}

// ReceiveDatagram blocks for the next inbound datagram.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

// AcceptUniStream accepts the next peer-initiated unidirectional stream,
// i.e. an inbound data context.
func (c *Conn) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	return c.conn.AcceptUniStream(ctx)
}

// StreamRxContext exposes an inbound receive stream as a plain io.Reader
// for package reassembly.
func StreamRxContext(rs quic.ReceiveStream) io.Reader {
	return rs
}

// CloseWithError closes the connection, telling the peer why.
func (c *Conn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}
