package wire

import (
	"bytes"
	"testing"
)

func TestSubgroupStreamHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := SubgroupStreamHeader{TrackAlias: 55, GroupID: 3, SubgroupID: 1, Priority: 200}
	buf := AppendSubgroupStreamHeader(nil, h)

	streamType, n, err := ParseVarint(buf)
	if err != nil {
		t.Fatalf("ParseVarint(stream type): %v", err)
	}
	if streamType != StreamTypeSubgroup {
		t.Fatalf("got stream type %#x, want %#x", streamType, StreamTypeSubgroup)
	}

	r := newBufReader(buf[n:])
	got, err := ParseSubgroupStreamHeader(r)
	if err != nil {
		t.Fatalf("ParseSubgroupStreamHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestObjectRoundTripWithPayload(t *testing.T) {
	t.Parallel()
	exts := []Extension{{Tag: 0x0c, Value: 1500}, {Tag: 0x0d, Bytes: []byte("meta")}}
	buf := AppendObject(nil, 7, exts, ObjectStatusAvailable, []byte("framebytes"))

	r := newBufReader(buf)
	id, gotExts, status, payload, err := ParseObject(r)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if id != 7 || status != ObjectStatusAvailable || !bytes.Equal(payload, []byte("framebytes")) {
		t.Fatalf("got id=%d status=%d payload=%q", id, status, payload)
	}
	if len(gotExts) != 2 || gotExts[0].Value != 1500 || !bytes.Equal(gotExts[1].Bytes, []byte("meta")) {
		t.Fatalf("got extensions %+v", gotExts)
	}
}

func TestObjectRoundTripEmptyPayloadCarriesStatus(t *testing.T) {
	t.Parallel()
	buf := AppendObject(nil, 9, nil, ObjectStatusEndOfGroup, nil)
	r := newBufReader(buf)
	id, _, status, payload, err := ParseObject(r)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if id != 9 || status != ObjectStatusEndOfGroup || payload != nil {
		t.Fatalf("got id=%d status=%d payload=%v", id, status, payload)
	}
}

func TestObjectDatagramRoundTrip(t *testing.T) {
	t.Parallel()
	d := ObjectDatagram{TrackAlias: 1, GroupID: 2, ObjectID: 3, Priority: 5, Status: ObjectStatusAvailable, Payload: []byte("dgram")}
	buf := AppendObjectDatagram(nil, d)
	got, err := ParseObjectDatagram(buf)
	if err != nil {
		t.Fatalf("ParseObjectDatagram: %v", err)
	}
	if got.TrackAlias != d.TrackAlias || got.ObjectID != d.ObjectID || !bytes.Equal(got.Payload, d.Payload) {
		t.Fatalf("got %+v, want %+v", got, d)
	}
}

// TestStreamingDecodeMatchesBufferedDecode verifies the io.Reader-based
// Read* functions used by package reassembly agree with the buffered
// Parse* functions used everywhere else, since a subgroup stream is built
// once with AppendSubgroupStreamHeader/AppendObject and decoded live.
func TestStreamingDecodeMatchesBufferedDecode(t *testing.T) {
	t.Parallel()
	h := SubgroupStreamHeader{TrackAlias: 42, GroupID: 1, SubgroupID: 0, Priority: 10}
	buf := AppendSubgroupStreamHeader(nil, h)
	buf = AppendObject(buf, 0, []Extension{{Tag: 0x0c, Value: 33}}, ObjectStatusAvailable, []byte("abc"))
	buf = AppendObject(buf, 1, nil, ObjectStatusAvailable, []byte("def"))

	r := bytes.NewReader(buf)
	streamType, err := ReadStreamType(r)
	if err != nil || streamType != StreamTypeSubgroup {
		t.Fatalf("ReadStreamType: %v type=%d", err, streamType)
	}
	gotHeader, err := ReadSubgroupStreamHeader(r)
	if err != nil {
		t.Fatalf("ReadSubgroupStreamHeader: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("got header %+v, want %+v", gotHeader, h)
	}

	id0, exts0, status0, payload0, err := ReadObject(r)
	if err != nil {
		t.Fatalf("ReadObject #0: %v", err)
	}
	if id0 != 0 || status0 != ObjectStatusAvailable || !bytes.Equal(payload0, []byte("abc")) || exts0[0].Value != 33 {
		t.Fatalf("got id=%d status=%d payload=%q exts=%+v", id0, status0, payload0, exts0)
	}

	id1, _, status1, payload1, err := ReadObject(r)
	if err != nil {
		t.Fatalf("ReadObject #1: %v", err)
	}
	if id1 != 1 || status1 != ObjectStatusAvailable || !bytes.Equal(payload1, []byte("def")) {
		t.Fatalf("got id=%d status=%d payload=%q", id1, status1, payload1)
	}

	if _, _, _, _, err := ReadObject(r); err == nil {
		t.Fatal("expected an error reading past the end of the stream")
	}
}

// TestFetchObjectInheritanceRoundTrip builds a run of fetch objects that
// exercises every inheritance mode (explicit, prior, next, zero) at least
// once across the four fields and checks the streaming reader reproduces the same values the
// writer was given, not just the encoded deltas.
func TestFetchObjectInheritanceRoundTrip(t *testing.T) {
	t.Parallel()
	want := []FetchObject{
		{GroupID: 6, SubgroupID: 0, ObjectID: 1, Priority: 5, Payload: []byte("a")},
		{GroupID: 6, SubgroupID: 0, ObjectID: 2, Priority: 5, Payload: []byte("b")},           // object id advances by one ("next")
		{GroupID: 6, SubgroupID: 0, ObjectID: 0, Priority: 5, Payload: []byte("c")},           // object id resets ("zero")
		{GroupID: 7, SubgroupID: 0, ObjectID: 0, Priority: 5, Status: ObjectStatusEndOfGroup}, // group advances, empty payload carries status
	}

	var appendSt FetchObjectState
	buf := AppendFetchHeader(nil, FetchHeader{RequestID: 9})
	for _, o := range want {
		buf = AppendFetchObject(buf, &appendSt, o)
	}

	r := bytes.NewReader(buf)
	streamType, err := ReadStreamType(r)
	if err != nil || streamType != StreamTypeFetch {
		t.Fatalf("ReadStreamType: %v type=%d", err, streamType)
	}
	gotHeader, err := ReadFetchHeader(r)
	if err != nil {
		t.Fatalf("ReadFetchHeader: %v", err)
	}
	if gotHeader.RequestID != 9 {
		t.Fatalf("got %+v, want RequestID=9", gotHeader)
	}

	var readSt FetchObjectState
	for i, w := range want {
		got, err := ReadFetchObject(r, &readSt)
		if err != nil {
			t.Fatalf("ReadFetchObject #%d: %v", i, err)
		}
		if got.GroupID != w.GroupID || got.SubgroupID != w.SubgroupID || got.ObjectID != w.ObjectID ||
			got.Priority != w.Priority || got.Status != w.Status || !bytes.Equal(got.Payload, w.Payload) {
			t.Fatalf("entry #%d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestFetchObjectCarriesExtensions(t *testing.T) {
	t.Parallel()
	var st FetchObjectState
	buf := AppendFetchObject(nil, &st, FetchObject{
		GroupID:    1,
		ObjectID:   1,
		Priority:   3,
		Extensions: []Extension{{Tag: 0x0c, Value: 42}},
		Payload:    []byte("x"),
	})

	var readSt FetchObjectState
	got, err := ReadFetchObject(bytes.NewReader(buf), &readSt)
	if err != nil {
		t.Fatalf("ReadFetchObject: %v", err)
	}
	if len(got.Extensions) != 1 || got.Extensions[0].Value != 42 {
		t.Fatalf("got extensions %+v", got.Extensions)
	}
}
