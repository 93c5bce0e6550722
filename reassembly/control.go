// Package reassembly turns raw QUIC stream bytes into whole MoQT frames:
// one control message at a time off the control stream, and one object at
// a time off a data stream, without ever holding more than the QUIC
// runtime's own buffering would already cost.
package reassembly

import (
	"bufio"
	"io"

	"github.com/zsiec/moqrelay/wire"
)

// ControlFrame is one decoded type|payload control message.
type ControlFrame struct {
	Type    uint64
	Payload []byte
}

// ControlReassembler reads whole control frames off a control stream,
// buffering only as much as bufio.Reader needs to find a frame boundary.
type ControlReassembler struct {
	r *bufio.Reader
}

// NewControlReassembler wraps r (typically a quic.Stream) for framed
// reads.
func NewControlReassembler(r io.Reader) *ControlReassembler {
	return &ControlReassembler{r: bufio.NewReader(r)}
}

// Next blocks until one full control frame is available, or returns the
// underlying read error (io.EOF when the peer closed the stream).
func (c *ControlReassembler) Next() (ControlFrame, error) {
	msgType, payload, err := wire.ReadControlMsg(c.r)
	if err != nil {
		return ControlFrame{}, err
	}
	return ControlFrame{Type: msgType, Payload: payload}, nil
}
