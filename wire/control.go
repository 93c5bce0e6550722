package wire

import (
	"encoding/binary"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Control message types, draft-ietf-moq-transport-15 §7.
const (
	MsgSubscribeUpdate       uint64 = 0x02
	MsgSubscribe             uint64 = 0x03
	MsgSubscribeOk           uint64 = 0x04
	MsgSubscribeError        uint64 = 0x05
	MsgAnnounce              uint64 = 0x06
	MsgAnnounceOk            uint64 = 0x07
	MsgAnnounceError         uint64 = 0x08
	MsgUnannounce            uint64 = 0x09
	MsgUnsubscribe           uint64 = 0x0a
	MsgSubscribeDone         uint64 = 0x0b
	MsgFetch                 uint64 = 0x16
	MsgFetchCancel           uint64 = 0x17
	MsgFetchOk               uint64 = 0x18
	MsgFetchError            uint64 = 0x19
	MsgSubscribeAnnounces    uint64 = 0x11
	MsgSubscribeAnnouncesOk  uint64 = 0x12
	MsgSubscribeAnnouncesErr uint64 = 0x13
	MsgTrackStatusRequest    uint64 = 0x0d
	MsgTrackStatus           uint64 = 0x0e
	MsgNewGroupRequest       uint64 = 0x0f
	MsgGoAway                uint64 = 0x10
	MsgMaxRequestID          uint64 = 0x15
	MsgClientSetup           uint64 = 0x20
	MsgServerSetup           uint64 = 0x21
)

// Version is the MoQT draft version this codec speaks.
const Version uint64 = 0xff00000f

// Setup parameter keys. Even keys carry a varint value, odd keys carry a
// byte-string value.
const (
	ParamPath         uint64 = 0x01
	ParamMaxRequestID uint64 = 0x02
)

// Subscribe filter types, §7.4.
const (
	FilterNextGroupStart uint64 = 0x01
	FilterLatestObject   uint64 = 0x02
	FilterAbsoluteStart  uint64 = 0x03
	FilterAbsoluteRange  uint64 = 0x04
)

// Group order, §7.4.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// ReadControlMsg reads one type|length|payload control frame from r.
func ReadControlMsg(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio1(r)
	}
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, &ParseError{Field: "type", Err: err}
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, &ParseError{Field: "length", Err: err}
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, &ParseError{Field: "payload", Err: err}
	}
	return msgType, payload, nil
}

// WriteControlMsg writes a type|length|payload control frame to w in one
// Write call so a partial write never interleaves with a concurrent
// message on the same stream.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > 0xffff {
		return &ParseError{Field: "length", Err: ErrParamLength}
	}
	buf := quicvarint.Append(nil, msgType)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// byteReaderAdapter lets ReadControlMsg accept any io.Reader, not just ones
// that already implement io.ByteReader (e.g. *bufio.Reader).
type byteReaderAdapter struct {
	r   io.Reader
	one [1]byte
}

func (b *byteReaderAdapter) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.one[:]); err != nil {
		return 0, err
	}
	return b.one[0], nil
}

func bufio1(r io.Reader) io.ByteReader {
	return &byteReaderAdapter{r: r}
}

// ClientSetup is the first message sent by the client on the control
// stream.
type ClientSetup struct {
	Versions     []uint64
	Path         string
	HasPath      bool
	MaxRequestID uint64
}

// ServerSetup answers ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	MaxRequestID    uint64
}

func ParseClientSetup(payload []byte) (*ClientSetup, error) {
	r := newBufReader(payload)
	n, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_versions", Err: err}
	}
	cs := &ClientSetup{Versions: make([]uint64, 0, n)}
	for i := uint64(0); i < n; i++ {
		v, err := r.readVarint()
		if err != nil {
			return nil, &ParseError{Field: "version", Err: err}
		}
		cs.Versions = append(cs.Versions, v)
	}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarint()
		if err != nil {
			return nil, &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 0 {
			val, err := r.readVarint()
			if err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
			if key == ParamMaxRequestID {
				cs.MaxRequestID = val
			}
		} else {
			val, err := r.readVarIntBytes()
			if err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
			if key == ParamPath {
				cs.Path = string(val)
				cs.HasPath = true
			}
		}
	}
	return cs, nil
}

func SerializeClientSetup(cs *ClientSetup) []byte {
	buf := quicvarint.Append(nil, uint64(len(cs.Versions)))
	for _, v := range cs.Versions {
		buf = quicvarint.Append(buf, v)
	}
	numParams := uint64(1)
	if cs.HasPath {
		numParams++
	}
	buf = quicvarint.Append(buf, numParams)
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, cs.MaxRequestID)
	if cs.HasPath {
		buf = quicvarint.Append(buf, ParamPath)
		buf = appendVarIntBytes(buf, []byte(cs.Path))
	}
	return buf
}

func ParseServerSetup(payload []byte) (*ServerSetup, error) {
	r := newBufReader(payload)
	version, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "selected_version", Err: err}
	}
	ss := &ServerSetup{SelectedVersion: version}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarint()
		if err != nil {
			return nil, &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 0 {
			val, err := r.readVarint()
			if err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
			if key == ParamMaxRequestID {
				ss.MaxRequestID = val
			}
		} else {
			if _, err := r.readVarIntBytes(); err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
		}
	}
	return ss, nil
}

func SerializeServerSetup(ss *ServerSetup) []byte {
	buf := quicvarint.Append(nil, ss.SelectedVersion)
	buf = quicvarint.Append(buf, 1)
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, ss.MaxRequestID)
	return buf
}

// Announce/Unannounce.

type Announce struct {
	RequestID uint64
	Namespace []string
}

type AnnounceOk struct {
	RequestID uint64
}

type AnnounceError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

type Unannounce struct {
	Namespace []string
}

func ParseAnnounce(payload []byte) (*Announce, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return nil, err
	}
	// trailing announce parameters are ignored by this core (no auth
	// policy parameters are implemented; see spec Non-goals).
	return &Announce{RequestID: reqID, Namespace: ns}, nil
}

func SerializeAnnounce(a *Announce) []byte {
	buf := quicvarint.Append(nil, a.RequestID)
	buf = AppendNamespaceTuple(buf, a.Namespace)
	buf = quicvarint.Append(buf, 0) // num_params
	return buf
}

func SerializeAnnounceOk(a *AnnounceOk) []byte {
	return quicvarint.Append(nil, a.RequestID)
}

func ParseAnnounceOk(payload []byte) (*AnnounceOk, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	return &AnnounceOk{RequestID: reqID}, nil
}

func SerializeAnnounceError(a *AnnounceError) []byte {
	buf := quicvarint.Append(nil, a.RequestID)
	buf = quicvarint.Append(buf, a.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(a.ReasonPhrase))
	return buf
}

func ParseAnnounceError(payload []byte) (*AnnounceError, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	code, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "reason_phrase", Err: err}
	}
	return &AnnounceError{RequestID: reqID, ErrorCode: code, ReasonPhrase: string(reason)}, nil
}

func ParseUnannounce(payload []byte) (*Unannounce, error) {
	r := newBufReader(payload)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return nil, err
	}
	return &Unannounce{Namespace: ns}, nil
}

func SerializeUnannounce(u *Unannounce) []byte {
	return AppendNamespaceTuple(nil, u.Namespace)
}

// Subscribe family.

type Subscribe struct {
	RequestID  uint64
	TrackAlias uint64
	Namespace  []string
	TrackName  string
	Priority   byte
	GroupOrder byte
	Forward    byte
	FilterType uint64
	StartGroup uint64
	StartObj   uint64
	EndGroup   uint64
}

type SubscribeOk struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64
	LargestObj    uint64
}

type SubscribeError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
	TrackAlias   uint64
}

type SubscribeUpdate struct {
	RequestID  uint64
	StartGroup uint64
	StartObj   uint64
	EndGroup   uint64
	Priority   byte
	Forward    byte
}

type Unsubscribe struct {
	RequestID uint64
}

// SubscribeDone status codes, §7.16.
const (
	SubscribeDoneUnsubscribed    uint64 = 0x00
	SubscribeDoneInternalError   uint64 = 0x01
	SubscribeDoneUnauthorized    uint64 = 0x02
	SubscribeDoneTrackEnded      uint64 = 0x03
	SubscribeDoneSubscribeEnded  uint64 = 0x04
	SubscribeDoneGoingAway       uint64 = 0x05
	SubscribeDoneExpired         uint64 = 0x06
	SubscribeDoneTooFarBehind    uint64 = 0x07
)

type SubscribeDone struct {
	RequestID    uint64
	StatusCode   uint64
	StreamCount  uint64
	ReasonPhrase string
}

func ParseSubscribe(payload []byte) (*Subscribe, error) {
	r := newBufReader(payload)
	s := &Subscribe{}
	var err error
	if s.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if s.TrackAlias, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	if s.Namespace, err = parseNamespaceTuple(r); err != nil {
		return nil, err
	}
	nameBytes, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "track_name", Err: err}
	}
	s.TrackName = string(nameBytes)
	if s.Priority, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "priority", Err: err}
	}
	if s.GroupOrder, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "group_order", Err: err}
	}
	if s.Forward, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "forward", Err: err}
	}
	if s.FilterType, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "filter_type", Err: err}
	}
	switch s.FilterType {
	case FilterAbsoluteStart:
		if s.StartGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_object", Err: err}
		}
	case FilterAbsoluteRange:
		if s.StartGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_object", Err: err}
		}
		if s.EndGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "end_group", Err: err}
		}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if err := skipParam(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func SerializeSubscribe(s *Subscribe) []byte {
	buf := quicvarint.Append(nil, s.RequestID)
	buf = quicvarint.Append(buf, s.TrackAlias)
	buf = AppendNamespaceTuple(buf, s.Namespace)
	buf = appendVarIntBytes(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = quicvarint.Append(buf, s.FilterType)
	switch s.FilterType {
	case FilterAbsoluteStart:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
	case FilterAbsoluteRange:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
		buf = quicvarint.Append(buf, s.EndGroup)
	}
	buf = quicvarint.Append(buf, 0) // num_params
	return buf
}

func ParseSubscribeOk(payload []byte) (*SubscribeOk, error) {
	r := newBufReader(payload)
	so := &SubscribeOk{}
	var err error
	if so.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if so.TrackAlias, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	if so.Expires, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "expires", Err: err}
	}
	if so.GroupOrder, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "group_order", Err: err}
	}
	exists, err := r.readByte()
	if err != nil {
		return nil, &ParseError{Field: "content_exists", Err: err}
	}
	so.ContentExists = exists != 0
	if so.ContentExists {
		if so.LargestGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "largest_group", Err: err}
		}
		if so.LargestObj, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "largest_object", Err: err}
		}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if err := skipParam(r); err != nil {
			return nil, err
		}
	}
	return so, nil
}

func SerializeSubscribeOk(so *SubscribeOk) []byte {
	buf := quicvarint.Append(nil, so.RequestID)
	buf = quicvarint.Append(buf, so.TrackAlias)
	buf = quicvarint.Append(buf, so.Expires)
	buf = append(buf, so.GroupOrder)
	if so.ContentExists {
		buf = append(buf, 1)
		buf = quicvarint.Append(buf, so.LargestGroup)
		buf = quicvarint.Append(buf, so.LargestObj)
	} else {
		buf = append(buf, 0)
	}
	buf = quicvarint.Append(buf, 0) // num_params
	return buf
}

func SerializeSubscribeError(se *SubscribeError) []byte {
	buf := quicvarint.Append(nil, se.RequestID)
	buf = quicvarint.Append(buf, se.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(se.ReasonPhrase))
	buf = quicvarint.Append(buf, se.TrackAlias)
	return buf
}

func ParseSubscribeError(payload []byte) (*SubscribeError, error) {
	r := newBufReader(payload)
	se := &SubscribeError{}
	var err error
	if se.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if se.ErrorCode, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "reason_phrase", Err: err}
	}
	se.ReasonPhrase = string(reason)
	if se.TrackAlias, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	return se, nil
}

func SerializeSubscribeUpdate(su *SubscribeUpdate) []byte {
	buf := quicvarint.Append(nil, su.RequestID)
	buf = quicvarint.Append(buf, su.StartGroup)
	buf = quicvarint.Append(buf, su.StartObj)
	buf = quicvarint.Append(buf, su.EndGroup)
	buf = append(buf, su.Priority, su.Forward)
	buf = quicvarint.Append(buf, 0) // num_params
	return buf
}

func ParseSubscribeUpdate(payload []byte) (*SubscribeUpdate, error) {
	r := newBufReader(payload)
	su := &SubscribeUpdate{}
	var err error
	if su.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if su.StartGroup, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "start_group", Err: err}
	}
	if su.StartObj, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "start_object", Err: err}
	}
	if su.EndGroup, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "end_group", Err: err}
	}
	if su.Priority, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "priority", Err: err}
	}
	if su.Forward, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "forward", Err: err}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if err := skipParam(r); err != nil {
			return nil, err
		}
	}
	return su, nil
}

func ParseUnsubscribe(payload []byte) (*Unsubscribe, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	return &Unsubscribe{RequestID: reqID}, nil
}

func SerializeUnsubscribe(u *Unsubscribe) []byte {
	return quicvarint.Append(nil, u.RequestID)
}

func SerializeSubscribeDone(sd *SubscribeDone) []byte {
	buf := quicvarint.Append(nil, sd.RequestID)
	buf = quicvarint.Append(buf, sd.StatusCode)
	buf = quicvarint.Append(buf, sd.StreamCount)
	buf = appendVarIntBytes(buf, []byte(sd.ReasonPhrase))
	return buf
}

func ParseSubscribeDone(payload []byte) (*SubscribeDone, error) {
	r := newBufReader(payload)
	sd := &SubscribeDone{}
	var err error
	if sd.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if sd.StatusCode, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "status_code", Err: err}
	}
	if sd.StreamCount, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "stream_count", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "reason_phrase", Err: err}
	}
	sd.ReasonPhrase = string(reason)
	return sd, nil
}

// NewGroupRequest asks a publisher to start a new group out of band.
type NewGroupRequest struct {
	RequestID  uint64
	TrackAlias uint64
}

func SerializeNewGroupRequest(g *NewGroupRequest) []byte {
	buf := quicvarint.Append(nil, g.RequestID)
	return quicvarint.Append(buf, g.TrackAlias)
}

func ParseNewGroupRequest(payload []byte) (*NewGroupRequest, error) {
	r := newBufReader(payload)
	g := &NewGroupRequest{}
	var err error
	if g.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if g.TrackAlias, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	return g, nil
}

// SubscribeAnnounces family — subscribe to Announce messages for a
// namespace prefix.

type SubscribeAnnounces struct {
	RequestID       uint64
	NamespacePrefix []string
}

type SubscribeAnnouncesOk struct {
	RequestID uint64
}

type SubscribeAnnouncesError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func SerializeSubscribeAnnounces(s *SubscribeAnnounces) []byte {
	buf := quicvarint.Append(nil, s.RequestID)
	buf = AppendNamespaceTuple(buf, s.NamespacePrefix)
	return quicvarint.Append(buf, 0) // num_params
}

func ParseSubscribeAnnounces(payload []byte) (*SubscribeAnnounces, error) {
	r := newBufReader(payload)
	s := &SubscribeAnnounces{}
	var err error
	if s.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if s.NamespacePrefix, err = parseNamespaceTuple(r); err != nil {
		return nil, err
	}
	return s, nil
}

func SerializeSubscribeAnnouncesOk(s *SubscribeAnnouncesOk) []byte {
	return quicvarint.Append(nil, s.RequestID)
}

func ParseSubscribeAnnouncesOk(payload []byte) (*SubscribeAnnouncesOk, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	return &SubscribeAnnouncesOk{RequestID: reqID}, nil
}

func SerializeSubscribeAnnouncesError(s *SubscribeAnnouncesError) []byte {
	buf := quicvarint.Append(nil, s.RequestID)
	buf = quicvarint.Append(buf, s.ErrorCode)
	return appendVarIntBytes(buf, []byte(s.ReasonPhrase))
}

func ParseSubscribeAnnouncesError(payload []byte) (*SubscribeAnnouncesError, error) {
	r := newBufReader(payload)
	s := &SubscribeAnnouncesError{}
	var err error
	if s.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if s.ErrorCode, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "reason_phrase", Err: err}
	}
	s.ReasonPhrase = string(reason)
	return s, nil
}

// Fetch family.

const (
	FetchTypeStandalone uint64 = 0x01
	FetchTypeJoining    uint64 = 0x02
)

type Fetch struct {
	RequestID    uint64
	Priority     byte
	GroupOrder   byte
	FetchType    uint64
	Namespace    []string
	TrackName    string
	StartGroup   uint64
	StartObj     uint64
	EndGroup     uint64
	EndObj       uint64
	JoiningReqID uint64
	PrecedingN   uint64
}

type FetchOk struct {
	RequestID    uint64
	GroupOrder   byte
	EndOfTrack   bool
	LargestGroup uint64
	LargestObj   uint64
}

type FetchError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

type FetchCancel struct {
	RequestID uint64
}

func ParseFetch(payload []byte) (*Fetch, error) {
	r := newBufReader(payload)
	f := &Fetch{}
	var err error
	if f.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if f.Priority, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "priority", Err: err}
	}
	if f.GroupOrder, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "group_order", Err: err}
	}
	if f.FetchType, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "fetch_type", Err: err}
	}
	switch f.FetchType {
	case FetchTypeStandalone:
		if f.Namespace, err = parseNamespaceTuple(r); err != nil {
			return nil, err
		}
		nameBytes, err := r.readVarIntBytes()
		if err != nil {
			return nil, &ParseError{Field: "track_name", Err: err}
		}
		f.TrackName = string(nameBytes)
		if f.StartGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_group", Err: err}
		}
		if f.StartObj, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "start_object", Err: err}
		}
		if f.EndGroup, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "end_group", Err: err}
		}
		if f.EndObj, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "end_object", Err: err}
		}
	case FetchTypeJoining:
		if f.JoiningReqID, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "joining_request_id", Err: err}
		}
		if f.PrecedingN, err = r.readVarint(); err != nil {
			return nil, &ParseError{Field: "preceding_group_offset", Err: err}
		}
	default:
		return nil, &ParseError{Field: "fetch_type", Err: ErrProtocolViolation}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if err := skipParam(r); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func SerializeFetch(f *Fetch) []byte {
	buf := quicvarint.Append(nil, f.RequestID)
	buf = append(buf, f.Priority, f.GroupOrder)
	buf = quicvarint.Append(buf, f.FetchType)
	switch f.FetchType {
	case FetchTypeStandalone:
		buf = AppendNamespaceTuple(buf, f.Namespace)
		buf = appendVarIntBytes(buf, []byte(f.TrackName))
		buf = quicvarint.Append(buf, f.StartGroup)
		buf = quicvarint.Append(buf, f.StartObj)
		buf = quicvarint.Append(buf, f.EndGroup)
		buf = quicvarint.Append(buf, f.EndObj)
	case FetchTypeJoining:
		buf = quicvarint.Append(buf, f.JoiningReqID)
		buf = quicvarint.Append(buf, f.PrecedingN)
	}
	buf = quicvarint.Append(buf, 0) // num_params
	return buf
}

func SerializeFetchOk(f *FetchOk) []byte {
	buf := quicvarint.Append(nil, f.RequestID)
	buf = append(buf, f.GroupOrder)
	if f.EndOfTrack {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = quicvarint.Append(buf, f.LargestGroup)
	buf = quicvarint.Append(buf, f.LargestObj)
	return buf
}

func ParseFetchOk(payload []byte) (*FetchOk, error) {
	r := newBufReader(payload)
	f := &FetchOk{}
	var err error
	if f.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if f.GroupOrder, err = r.readByte(); err != nil {
		return nil, &ParseError{Field: "group_order", Err: err}
	}
	eot, err := r.readByte()
	if err != nil {
		return nil, &ParseError{Field: "end_of_track", Err: err}
	}
	f.EndOfTrack = eot != 0
	if f.LargestGroup, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "largest_group", Err: err}
	}
	if f.LargestObj, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "largest_object", Err: err}
	}
	return f, nil
}

func SerializeFetchError(f *FetchError) []byte {
	buf := quicvarint.Append(nil, f.RequestID)
	buf = quicvarint.Append(buf, f.ErrorCode)
	return appendVarIntBytes(buf, []byte(f.ReasonPhrase))
}

func ParseFetchError(payload []byte) (*FetchError, error) {
	r := newBufReader(payload)
	f := &FetchError{}
	var err error
	if f.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if f.ErrorCode, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "reason_phrase", Err: err}
	}
	f.ReasonPhrase = string(reason)
	return f, nil
}

func SerializeFetchCancel(f *FetchCancel) []byte {
	return quicvarint.Append(nil, f.RequestID)
}

func ParseFetchCancel(payload []byte) (*FetchCancel, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	return &FetchCancel{RequestID: reqID}, nil
}

// TrackStatusRequest / TrackStatus.

type TrackStatusRequest struct {
	RequestID uint64
	Namespace []string
	TrackName string
}

type TrackStatus struct {
	RequestID    uint64
	StatusCode   uint64
	LargestGroup uint64
	LargestObj   uint64
}

func ParseTrackStatusRequest(payload []byte) (*TrackStatusRequest, error) {
	r := newBufReader(payload)
	t := &TrackStatusRequest{}
	var err error
	if t.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if t.Namespace, err = parseNamespaceTuple(r); err != nil {
		return nil, err
	}
	nameBytes, err := r.readVarIntBytes()
	if err != nil {
		return nil, &ParseError{Field: "track_name", Err: err}
	}
	t.TrackName = string(nameBytes)
	return t, nil
}

func SerializeTrackStatusRequest(t *TrackStatusRequest) []byte {
	buf := quicvarint.Append(nil, t.RequestID)
	buf = AppendNamespaceTuple(buf, t.Namespace)
	return appendVarIntBytes(buf, []byte(t.TrackName))
}

func SerializeTrackStatus(t *TrackStatus) []byte {
	buf := quicvarint.Append(nil, t.RequestID)
	buf = quicvarint.Append(buf, t.StatusCode)
	buf = quicvarint.Append(buf, t.LargestGroup)
	return quicvarint.Append(buf, t.LargestObj)
}

func ParseTrackStatus(payload []byte) (*TrackStatus, error) {
	r := newBufReader(payload)
	t := &TrackStatus{}
	var err error
	if t.RequestID, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	if t.StatusCode, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "status_code", Err: err}
	}
	if t.LargestGroup, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "largest_group", Err: err}
	}
	if t.LargestObj, err = r.readVarint(); err != nil {
		return nil, &ParseError{Field: "largest_object", Err: err}
	}
	return t, nil
}

// GoAway / MaxRequestID.

type GoAway struct {
	NewSessionURI string
}

func SerializeGoAway(g *GoAway) []byte {
	return []byte(g.NewSessionURI)
}

func ParseGoAway(payload []byte) (*GoAway, error) {
	return &GoAway{NewSessionURI: string(payload)}, nil
}

type MaxRequestIDMsg struct {
	RequestID uint64
}

func SerializeMaxRequestID(m *MaxRequestIDMsg) []byte {
	return quicvarint.Append(nil, m.RequestID)
}

func ParseMaxRequestID(payload []byte) (*MaxRequestIDMsg, error) {
	r := newBufReader(payload)
	reqID, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "request_id", Err: err}
	}
	return &MaxRequestIDMsg{RequestID: reqID}, nil
}

// parseNamespaceTuple reads a count-prefixed tuple of byte strings.
func parseNamespaceTuple(r *bufReader) ([]string, error) {
	count, err := r.readVarint()
	if err != nil {
		return nil, &ParseError{Field: "namespace_count", Err: err}
	}
	parts := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		b, err := r.readVarIntBytes()
		if err != nil {
			return nil, &ParseError{Field: "namespace_part", Err: err}
		}
		parts = append(parts, string(b))
	}
	return parts, nil
}

// AppendNamespaceTuple appends a count-prefixed tuple of byte strings.
func AppendNamespaceTuple(buf []byte, parts []string) []byte {
	buf = quicvarint.Append(buf, uint64(len(parts)))
	for _, p := range parts {
		buf = appendVarIntBytes(buf, []byte(p))
	}
	return buf
}

// skipParam reads and discards one key/value parameter, used by parsers
// that don't yet act on any optional parameters but must still consume
// them to stay in sync with the frame boundary.
func skipParam(r *bufReader) error {
	key, err := r.readVarint()
	if err != nil {
		return &ParseError{Field: "param_key", Err: err}
	}
	if key%2 == 0 {
		if _, err := r.readVarint(); err != nil {
			return &ParseError{Field: "param_value", Err: err}
		}
	} else {
		if _, err := r.readVarIntBytes(); err != nil {
			return &ParseError{Field: "param_value", Err: err}
		}
	}
	return nil
}
