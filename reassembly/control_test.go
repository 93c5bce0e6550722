package reassembly

import (
	"bytes"
	"io"
	"testing"

	"github.com/zsiec/moqrelay/wire"
)

func TestControlReassemblerReadsConcatenatedFrames(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := wire.WriteControlMsg(&buf, wire.MsgAnnounce, []byte("ns1")); err != nil {
		t.Fatalf("WriteControlMsg: %v", err)
	}
	if err := wire.WriteControlMsg(&buf, wire.MsgSubscribe, []byte("sub1")); err != nil {
		t.Fatalf("WriteControlMsg: %v", err)
	}

	cr := NewControlReassembler(&buf)

	f1, err := cr.Next()
	if err != nil {
		t.Fatalf("Next #1: %v", err)
	}
	if f1.Type != wire.MsgAnnounce || string(f1.Payload) != "ns1" {
		t.Fatalf("got %+v", f1)
	}

	f2, err := cr.Next()
	if err != nil {
		t.Fatalf("Next #2: %v", err)
	}
	if f2.Type != wire.MsgSubscribe || string(f2.Payload) != "sub1" {
		t.Fatalf("got %+v", f2)
	}

	if _, err := cr.Next(); err == nil {
		t.Fatal("expected error/EOF reading past the last frame")
	}
}

func TestControlReassemblerPropagatesEOF(t *testing.T) {
	t.Parallel()
	cr := NewControlReassembler(bytes.NewReader(nil))
	_, err := cr.Next()
	if err == nil {
		t.Fatal("expected an error on an empty stream")
	}
	// the underlying failure is a read of the leading type varint hitting EOF
	if !bytesContainsEOFIndicator(err) {
		t.Fatalf("expected an EOF-flavored error, got %v", err)
	}
}

func bytesContainsEOFIndicator(err error) bool {
	for e := err; e != nil; {
		if e == io.EOF || e == io.ErrUnexpectedEOF {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
