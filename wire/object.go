package wire

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Data stream types, §9.
const (
	StreamTypeSubgroup uint64 = 0x0d
	StreamTypeFetch    uint64 = 0x05
)

// Object status, carried in place of the payload by an object with a
// zero-length payload, in a datagram or on a subgroup or fetch stream.
const (
	ObjectStatusAvailable    uint64 = 0x00
	ObjectStatusDoesNotExist uint64 = 0x01
	ObjectStatusEndOfGroup   uint64 = 0x03
	ObjectStatusEndOfTrack   uint64 = 0x04
)

// Extension tags used by this core. Even tags carry a varint value, odd
// tags carry a byte-string value — any tag not in this list is preserved
// verbatim by callers that only forward objects without interpreting
// their extensions.
const (
	ExtPriorToolTTL uint64 = 0x0c // even: varint milliseconds
)

// Extension is one entry of an object's extension map.
type Extension struct {
	Tag   uint64
	Value uint64 // used when Tag is even
	Bytes []byte // used when Tag is odd
}

func (e Extension) isVarint() bool { return e.Tag%2 == 0 }

// ObjectHeader describes one object carried on a subgroup stream or in a
// datagram.
type ObjectHeader struct {
	TrackAlias   uint64
	GroupID      uint64
	SubgroupID   uint64
	ObjectID     uint64
	Priority     byte
	Status       uint64
	Extensions   []Extension
	PayloadLen   uint64
	HasTTL       bool
	TTLMillis    uint64
}

// SubgroupStreamHeader is written once at the start of a subgroup stream,
// before any objects.
type SubgroupStreamHeader struct {
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   byte
}

// AppendSubgroupStreamHeader appends the leading stream-type and header
// fields of a subgroup stream.
func AppendSubgroupStreamHeader(buf []byte, h SubgroupStreamHeader) []byte {
	buf = quicvarint.Append(buf, StreamTypeSubgroup)
	buf = quicvarint.Append(buf, h.TrackAlias)
	buf = quicvarint.Append(buf, h.GroupID)
	buf = quicvarint.Append(buf, h.SubgroupID)
	buf = append(buf, h.Priority)
	return buf
}

// ParseSubgroupStreamHeader reads the header fields that follow the
// stream-type of a subgroup stream. The caller has already consumed
// StreamTypeSubgroup to decide which parser to invoke.
func ParseSubgroupStreamHeader(r *bufReader) (SubgroupStreamHeader, error) {
	var h SubgroupStreamHeader
	var err error
	if h.TrackAlias, err = r.readVarint(); err != nil {
		return h, &ParseError{Field: "track_alias", Err: err}
	}
	if h.GroupID, err = r.readVarint(); err != nil {
		return h, &ParseError{Field: "group_id", Err: err}
	}
	if h.SubgroupID, err = r.readVarint(); err != nil {
		return h, &ParseError{Field: "subgroup_id", Err: err}
	}
	if h.Priority, err = r.readByte(); err != nil {
		return h, &ParseError{Field: "priority", Err: err}
	}
	return h, nil
}

// AppendObject appends one object's framing (object id, extensions,
// payload length) and its payload to buf, for an object on a subgroup
// stream whose header fields were already written by
// AppendSubgroupStreamHeader.
func AppendObject(buf []byte, objectID uint64, exts []Extension, status uint64, payload []byte) []byte {
	buf = quicvarint.Append(buf, objectID)
	buf = appendExtensions(buf, exts)
	if len(payload) == 0 {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, status)
		return buf
	}
	buf = quicvarint.Append(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// ParseObject reads one object's framing and payload from a subgroup
// stream cursor. status is ObjectStatusAvailable unless the payload is
// empty.
func ParseObject(r *bufReader) (objectID uint64, exts []Extension, status uint64, payload []byte, err error) {
	if objectID, err = r.readVarint(); err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "object_id", Err: err}
	}
	if exts, err = parseExtensions(r); err != nil {
		return 0, nil, 0, nil, err
	}
	payloadLen, err := r.readVarint()
	if err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		status, err = r.readVarint()
		if err != nil {
			return 0, nil, 0, nil, &ParseError{Field: "object_status", Err: err}
		}
		return objectID, exts, status, nil, nil
	}
	payload, err = r.readFixed(int(payloadLen))
	if err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "payload", Err: err}
	}
	return objectID, exts, ObjectStatusAvailable, payload, nil
}

func appendExtensions(buf []byte, exts []Extension) []byte {
	buf = quicvarint.Append(buf, uint64(len(exts)))
	for _, e := range exts {
		buf = quicvarint.Append(buf, e.Tag)
		if e.isVarint() {
			buf = quicvarint.Append(buf, e.Value)
		} else {
			buf = appendVarIntBytes(buf, e.Bytes)
		}
	}
	return buf
}

func parseExtensions(r *bufReader) ([]Extension, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_extensions", Err: err}
	}
	exts := make([]Extension, 0, n)
	for i := uint64(0); i < n; i++ {
		tag, err := r.readVarint()
		if err != nil {
			return nil, &ParseError{Field: "extension_tag", Err: err}
		}
		e := Extension{Tag: tag}
		if tag%2 == 0 {
			if e.Value, err = r.readVarint(); err != nil {
				return nil, &ParseError{Field: "extension_value", Err: err}
			}
		} else {
			if e.Bytes, err = r.readVarIntBytes(); err != nil {
				return nil, &ParseError{Field: "extension_bytes", Err: err}
			}
		}
		exts = append(exts, e)
	}
	return exts, nil
}

// ObjectDatagram is a complete MoQT object carried in a single QUIC
// datagram.
type ObjectDatagram struct {
	TrackAlias uint64
	GroupID    uint64
	ObjectID   uint64
	Priority   byte
	Extensions []Extension
	Status     uint64
	Payload    []byte
}

func AppendObjectDatagram(buf []byte, d ObjectDatagram) []byte {
	buf = quicvarint.Append(buf, d.TrackAlias)
	buf = quicvarint.Append(buf, d.GroupID)
	buf = quicvarint.Append(buf, d.ObjectID)
	buf = append(buf, d.Priority)
	buf = appendExtensions(buf, d.Extensions)
	if len(d.Payload) == 0 {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, d.Status)
		return buf
	}
	buf = quicvarint.Append(buf, uint64(len(d.Payload)))
	buf = append(buf, d.Payload...)
	return buf
}

func ParseObjectDatagram(payload []byte) (*ObjectDatagram, error) {
	r := newBufReader(payload)
	d := &ObjectDatagram{}
	var err error
	if d.TrackAlias, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	if d.GroupID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "group_id", Err: err}
	}
	if d.ObjectID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "object_id", Err: err}
	}
	if d.Priority, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "priority", Err: err}
	}
	if d.Extensions, err = parseExtensions(r); err != nil {
		return nil, err
	}
	payloadLen, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		if d.Status, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "object_status", Err: err}
		}
		return d, nil
	}
	if d.Payload, err = r.readFixed(int(payloadLen)); err != nil {
		return nil, &ParseError{Field: "payload", Err: err}
	}
	d.Status = ObjectStatusAvailable
	return d, nil
}

// FetchHeader is written once at the start of a fetch stream, before any
// FetchObject entries.
type FetchHeader struct {
	RequestID uint64
}

// AppendFetchHeader appends the leading stream-type and request id of a
// fetch stream.
func AppendFetchHeader(buf []byte, h FetchHeader) []byte {
	buf = quicvarint.Append(buf, StreamTypeFetch)
	buf = quicvarint.Append(buf, h.RequestID)
	return buf
}

// ReadFetchHeader reads the header fields following the stream-type
// uintvar on a fetch stream. The caller has already consumed
// StreamTypeFetch to decide which parser to invoke.
func ReadFetchHeader(r io.Reader) (FetchHeader, error) {
	id, err := quicvarint.Read(bufio1(r))
	if err != nil {
		return FetchHeader{}, &ParseError{Field: "request_id", Err: err}
	}
	return FetchHeader{RequestID: id}, nil
}

// FetchObject is one object entry on a fetch stream.
type FetchObject struct {
	GroupID    uint64
	SubgroupID uint64
	ObjectID   uint64
	Priority   byte
	Extensions []Extension
	Status     uint64
	Payload    []byte
}

// fetchFieldMode encodes how one FetchObject field relates to the
// previous entry on the same fetch stream, so a run of objects that only
// advances by one group or object id doesn't repeat the full value.
type fetchFieldMode byte

const (
	fetchFieldExplicit fetchFieldMode = 0
	fetchFieldPrior    fetchFieldMode = 1
	fetchFieldNext     fetchFieldMode = 2
	fetchFieldZero     fetchFieldMode = 3
)

// FetchObjectState carries the previous entry's field values across
// AppendFetchObject/ReadFetchObject calls on one fetch stream.
type FetchObjectState struct {
	valid      bool
	groupID    uint64
	subgroupID uint64
	objectID   uint64
	priority   byte
}

func fetchMode(valid bool, prior, v uint64) fetchFieldMode {
	if v == 0 {
		return fetchFieldZero
	}
	if valid {
		if v == prior {
			return fetchFieldPrior
		}
		if v == prior+1 {
			return fetchFieldNext
		}
	}
	return fetchFieldExplicit
}

// AppendFetchObject appends one fetch-stream object entry, encoding its
// group/subgroup/object/priority fields against st and advancing st for
// the next call.
func AppendFetchObject(buf []byte, st *FetchObjectState, o FetchObject) []byte {
	groupMode := fetchMode(st.valid, st.groupID, o.GroupID)
	subgroupMode := fetchMode(st.valid, st.subgroupID, o.SubgroupID)
	objectMode := fetchMode(st.valid, st.objectID, o.ObjectID)
	priorityMode := fetchMode(st.valid, uint64(st.priority), uint64(o.Priority))

	flags := byte(groupMode) | byte(subgroupMode)<<2 | byte(objectMode)<<4 | byte(priorityMode)<<6
	buf = append(buf, flags)
	if groupMode == fetchFieldExplicit {
		buf = quicvarint.Append(buf, o.GroupID)
	}
	if subgroupMode == fetchFieldExplicit {
		buf = quicvarint.Append(buf, o.SubgroupID)
	}
	if objectMode == fetchFieldExplicit {
		buf = quicvarint.Append(buf, o.ObjectID)
	}
	if priorityMode == fetchFieldExplicit {
		buf = append(buf, o.Priority)
	}

	buf = appendExtensions(buf, o.Extensions)
	if len(o.Payload) == 0 {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, o.Status)
	} else {
		buf = quicvarint.Append(buf, uint64(len(o.Payload)))
		buf = append(buf, o.Payload...)
	}

	st.valid = true
	st.groupID, st.subgroupID, st.objectID, st.priority = o.GroupID, o.SubgroupID, o.ObjectID, o.Priority
	return buf
}

func resolveVarintField(br io.ByteReader, mode fetchFieldMode, prior uint64) (uint64, error) {
	switch mode {
	case fetchFieldZero:
		return 0, nil
	case fetchFieldPrior:
		return prior, nil
	case fetchFieldNext:
		return prior + 1, nil
	default:
		return quicvarint.Read(br)
	}
}

func resolvePriorityField(br io.ByteReader, mode fetchFieldMode, prior byte) (byte, error) {
	switch mode {
	case fetchFieldZero:
		return 0, nil
	case fetchFieldPrior:
		return prior, nil
	case fetchFieldNext:
		return prior + 1, nil
	default:
		return br.ReadByte()
	}
}

// ReadFetchObject reads one object entry from a live fetch stream,
// decoding its fields against st and advancing st for the next call.
func ReadFetchObject(r io.Reader, st *FetchObjectState) (FetchObject, error) {
	br := bufio1(r)
	flags, err := br.ReadByte()
	if err != nil {
		return FetchObject{}, &ParseError{Field: "fetch_object_flags", Err: err}
	}
	groupMode := fetchFieldMode(flags & 0x03)
	subgroupMode := fetchFieldMode((flags >> 2) & 0x03)
	objectMode := fetchFieldMode((flags >> 4) & 0x03)
	priorityMode := fetchFieldMode((flags >> 6) & 0x03)

	o := FetchObject{}
	if o.GroupID, err = resolveVarintField(br, groupMode, st.groupID); err != nil {
		return FetchObject{}, &ParseError{Field: "group_id", Err: err}
	}
	if o.SubgroupID, err = resolveVarintField(br, subgroupMode, st.subgroupID); err != nil {
		return FetchObject{}, &ParseError{Field: "subgroup_id", Err: err}
	}
	if o.ObjectID, err = resolveVarintField(br, objectMode, st.objectID); err != nil {
		return FetchObject{}, &ParseError{Field: "object_id", Err: err}
	}
	if o.Priority, err = resolvePriorityField(br, priorityMode, st.priority); err != nil {
		return FetchObject{}, &ParseError{Field: "priority", Err: err}
	}
	if o.Extensions, err = readExtensions(br); err != nil {
		return FetchObject{}, err
	}
	payloadLen, err := quicvarint.Read(br)
	if err != nil {
		return FetchObject{}, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		if o.Status, err = quicvarint.Read(br); err != nil {
			return FetchObject{}, &ParseError{Field: "object_status", Err: err}
		}
	} else {
		o.Payload = make([]byte, payloadLen)
		if _, err = io.ReadFull(r, o.Payload); err != nil {
			return FetchObject{}, &ParseError{Field: "payload", Err: err}
		}
		o.Status = ObjectStatusAvailable
	}

	st.valid = true
	st.groupID, st.subgroupID, st.objectID, st.priority = o.GroupID, o.SubgroupID, o.ObjectID, o.Priority
	return o, nil
}

// The Read* functions below mirror the Parse* functions above but read
// incrementally from a live stream (io.Reader) instead of a fully
// buffered byte slice, for package reassembly's data-stream decoder.

// ReadStreamType reads the leading stream-type uintvar of a data stream.
func ReadStreamType(r io.Reader) (uint64, error) {
	v, err := quicvarint.Read(bufio1(r))
	if err != nil {
		return 0, &ParseError{Field: "stream_type", Err: err}
	}
	return v, nil
}

// ReadSubgroupStreamHeader reads the header fields following the
// stream-type uintvar on a subgroup stream.
func ReadSubgroupStreamHeader(r io.Reader) (SubgroupStreamHeader, error) {
	br := bufio1(r)
	var h SubgroupStreamHeader
	var err error
	if h.TrackAlias, err = quicvarint.Read(br); err != nil {
		return h, &ParseError{Field: "track_alias", Err: err}
	}
	if h.GroupID, err = quicvarint.Read(br); err != nil {
		return h, &ParseError{Field: "group_id", Err: err}
	}
	if h.SubgroupID, err = quicvarint.Read(br); err != nil {
		return h, &ParseError{Field: "subgroup_id", Err: err}
	}
	pb, err := br.ReadByte()
	if err != nil {
		return h, &ParseError{Field: "priority", Err: err}
	}
	h.Priority = pb
	return h, nil
}

// ReadObject reads one object's framing and payload from a live subgroup
// stream.
func ReadObject(r io.Reader) (objectID uint64, exts []Extension, status uint64, payload []byte, err error) {
	br := bufio1(r)
	if objectID, err = quicvarint.Read(br); err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "object_id", Err: err}
	}
	if exts, err = readExtensions(br); err != nil {
		return 0, nil, 0, nil, err
	}
	payloadLen, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		status, err = quicvarint.Read(br)
		if err != nil {
			return 0, nil, 0, nil, &ParseError{Field: "object_status", Err: err}
		}
		return objectID, exts, status, nil, nil
	}
	payload = make([]byte, payloadLen)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, 0, nil, &ParseError{Field: "payload", Err: err}
	}
	return objectID, exts, ObjectStatusAvailable, payload, nil
}

func readExtensions(br io.ByteReader) ([]Extension, error) {
	n, err := quicvarint.Read(br)
	if err != nil {
		return nil, &ParseError{Field: "num_extensions", Err: err}
	}
	exts := make([]Extension, 0, n)
	for i := uint64(0); i < n; i++ {
		tag, err := quicvarint.Read(br)
		if err != nil {
			return nil, &ParseError{Field: "extension_tag", Err: err}
		}
		e := Extension{Tag: tag}
		if tag%2 == 0 {
			if e.Value, err = quicvarint.Read(br); err != nil {
				return nil, &ParseError{Field: "extension_value", Err: err}
			}
		} else {
			n, err := quicvarint.Read(br)
			if err != nil {
				return nil, &ParseError{Field: "extension_length", Err: err}
			}
			b := make([]byte, n)
			for i := range b {
				bb, err := br.ReadByte()
				if err != nil {
					return nil, &ParseError{Field: "extension_bytes", Err: err}
				}
				b[i] = bb
			}
			e.Bytes = b
		}
		exts = append(exts, e)
	}
	return exts, nil
}
