package moqsession

import "errors"

// Connection-fatal errors: the session tears the whole connection down.
var (
	ErrProtocolViolation = errors.New("moqsession: protocol violation")
	ErrInternalError     = errors.New("moqsession: internal error")
	ErrDuplicateAlias    = errors.New("moqsession: duplicate track alias")
	ErrParamLength       = errors.New("moqsession: parameter length mismatch")
	ErrGoAwayTimeout     = errors.New("moqsession: goaway timeout")
)

// Dialog-level errors: the specific request fails but the connection
// survives.
var (
	ErrUnauthorized          = errors.New("moqsession: unauthorized")
	ErrAnnounceNotAuthorized = errors.New("moqsession: announce not authorized")
	ErrSubscribeNotAuthorized = errors.New("moqsession: subscribe not authorized")
)

// Local, non-fatal conditions raised by the relay logic, never sent on
// the wire as-is — callers translate them into the appropriate *Error
// control message.
var (
	ErrNoSubscribers = errors.New("moqsession: no subscribers")
	ErrNotAnnounced  = errors.New("moqsession: track not announced")
	ErrNotConnected  = errors.New("moqsession: not connected")
)

// ErrRetryTrackAlias signals the caller should retry the Subscribe with a
// different track alias (the requested one collided with one already in
// use on this connection).
var ErrRetryTrackAlias = errors.New("moqsession: retry with different track alias")

// RequestError codes sent back to the peer in a *Error control message.
const (
	ErrorCodeInternal            uint64 = 0x00
	ErrorCodeUnauthorized        uint64 = 0x01
	ErrorCodeProtocolViolation   uint64 = 0x02
	ErrorCodeDuplicateTrackAlias uint64 = 0x03
	ErrorCodeParamLengthMismatch uint64 = 0x04
	ErrorCodeNotAnnounced        uint64 = 0x05
	ErrorCodeRetryTrackAlias     uint64 = 0x06
)
