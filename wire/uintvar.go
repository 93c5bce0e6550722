package wire

import (
	"github.com/quic-go/quic-go/quicvarint"
)

// AppendVarint appends the QUIC variable-length encoding of v to buf.
func AppendVarint(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}

// VarintLen returns the number of bytes the variable-length encoding of v
// occupies.
func VarintLen(v uint64) int {
	return int(quicvarint.Len(v))
}

// ParseVarint reads a variable-length integer from the front of b and
// returns its value and the number of bytes consumed.
func ParseVarint(b []byte) (uint64, int, error) {
	v, n, err := quicvarint.Parse(b)
	if err != nil {
		return 0, 0, &ParseError{Field: "varint", Err: ErrShortBuffer}
	}
	return v, n, nil
}

// bufReader is a small cursor over a byte slice used while parsing control
// messages and object headers. readFixed returns sub-slices of the
// underlying slice; readVarIntBytes returns copies.
type bufReader struct {
	b   []byte
	pos int
}

func newBufReader(b []byte) *bufReader {
	return &bufReader{b: b}
}

func (r *bufReader) remaining() []byte {
	return r.b[r.pos:]
}

func (r *bufReader) readVarint() (uint64, error) {
	v, n, err := quicvarint.Parse(r.remaining())
	if err != nil {
		return 0, &ParseError{Field: "varint", Err: ErrShortBuffer}
	}
	r.pos += n
	return v, nil
}

func (r *bufReader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, &ParseError{Field: "byte", Err: ErrShortBuffer}
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *bufReader) readVarIntBytes() ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.pos)+n > uint64(len(r.b)) {
		return nil, &ParseError{Field: "bytes", Err: ErrShortBuffer}
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *bufReader) readFixed(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, &ParseError{Field: "fixed", Err: ErrShortBuffer}
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *bufReader) atEnd() bool {
	return r.pos >= len(r.b)
}

// appendVarIntBytes appends data as a varint-length-prefixed byte string.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}
