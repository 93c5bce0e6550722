package reassembly

import (
	"bufio"
	"io"

	"github.com/zsiec/moqrelay/wire"
)

// readBudget bounds how many objects DataReassembler.Next will hand out
// per call before yielding back to its caller's scheduling loop, so one
// fast publisher's stream can't starve other work queued on the same
// goroutine.
const readBudget = 60

// ObjectFrame is one decoded object off a subgroup stream.
type ObjectFrame struct {
	Header     wire.SubgroupStreamHeader
	ObjectID   uint64
	Extensions []wire.Extension
	Status     uint64
	Payload    []byte
}

// DataReassembler decodes a single subgroup data stream: the stream-type
// and header are read once, then objects are read one at a time until the
// stream ends.
type DataReassembler struct {
	r        *bufio.Reader
	header   wire.SubgroupStreamHeader
	started  bool
	readInCall int
}

// NewDataReassembler wraps r (typically a quic.ReceiveStream).
func NewDataReassembler(r io.Reader) *DataReassembler {
	return &DataReassembler{r: bufio.NewReader(r)}
}

// Start reads the leading stream-type and subgroup header. It must be
// called once before Next. Callers that need to dispatch on stream type
// before committing to the subgroup path can call wire.ReadStreamType
// themselves on the same reader beforehand — Start assumes that has not
// happened yet.
func (d *DataReassembler) Start() (wire.SubgroupStreamHeader, error) {
	streamType, err := wire.ReadStreamType(d.r)
	if err != nil {
		return wire.SubgroupStreamHeader{}, err
	}
	if streamType != wire.StreamTypeSubgroup {
		return wire.SubgroupStreamHeader{}, &wire.ParseError{Field: "stream_type", Err: wire.ErrUnknownMessage}
	}
	h, err := wire.ReadSubgroupStreamHeader(d.r)
	if err != nil {
		return wire.SubgroupStreamHeader{}, err
	}
	d.header = h
	d.started = true
	return h, nil
}

// Next returns the next object on the stream. It returns io.EOF once the
// peer has closed the stream cleanly. ErrBudgetExhausted is returned
// after readBudget objects have been yielded in the current call series;
// the caller should requeue itself and call Next again on its next turn.
func (d *DataReassembler) Next() (ObjectFrame, error) {
	if !d.started {
		if _, err := d.Start(); err != nil {
			return ObjectFrame{}, err
		}
	}
	if d.readInCall >= readBudget {
		d.readInCall = 0
		return ObjectFrame{}, ErrBudgetExhausted
	}
	objectID, exts, status, payload, err := wire.ReadObject(d.r)
	if err != nil {
		return ObjectFrame{}, err
	}
	d.readInCall++
	return ObjectFrame{
		Header:     d.header,
		ObjectID:   objectID,
		Extensions: exts,
		Status:     status,
		Payload:    payload,
	}, nil
}

// ResetBudget clears the per-call read counter; callers invoke this at the
// top of each scheduling turn before resuming reads on a stream that
// previously returned ErrBudgetExhausted.
func (d *DataReassembler) ResetBudget() {
	d.readInCall = 0
}
