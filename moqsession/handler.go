package moqsession

import "github.com/zsiec/moqrelay/wire"

// Handler is implemented by the relay layer (package moqt) and receives
// every control dialog a Session decodes off the wire. OnAnnounce,
// OnSubscribe, OnSubscribeAnnounces and OnFetch return the response the
// Session should send, or an error, whatever its kind, that the Session
// translates into the matching *Error message. An error from
// OnSubscribeUpdate, OnNewGroupRequest or OnTrackStatusRequest has no
// reply message: it goes back to the dispatch loop, which ends the
// session if it wraps ErrProtocolViolation, ErrInternalError,
// ErrDuplicateAlias, ErrParamLength or ErrGoAwayTimeout, and logs it
// otherwise.
//
// A session is not purely a requester or purely a responder: the same
// connection a relay accepts from a downstream subscriber may also be
// the connection it uses to issue an aggregated upstream Subscribe to a
// publisher, so a Handler must also be able to receive the *Ok/*Error
// replies to dialogs this side initiated with Send*.
type Handler interface {
	OnAnnounce(s *Session, a *wire.Announce) error
	OnUnannounce(s *Session, u *wire.Unannounce)
	OnSubscribe(s *Session, sub *wire.Subscribe) (*wire.SubscribeOk, error)
	OnSubscribeUpdate(s *Session, su *wire.SubscribeUpdate) error
	OnUnsubscribe(s *Session, u *wire.Unsubscribe)
	OnSubscribeDone(s *Session, sd *wire.SubscribeDone)
	OnNewGroupRequest(s *Session, g *wire.NewGroupRequest) error
	OnSubscribeAnnounces(s *Session, sa *wire.SubscribeAnnounces) error
	OnFetch(s *Session, f *wire.Fetch) (*wire.FetchOk, error)
	OnFetchCancel(s *Session, fc *wire.FetchCancel)
	OnTrackStatusRequest(s *Session, t *wire.TrackStatusRequest) (*wire.TrackStatus, error)
	OnGoAway(s *Session, g *wire.GoAway)

	// Replies to dialogs this side initiated.
	OnAnnounceOk(s *Session, a *wire.AnnounceOk)
	OnAnnounceError(s *Session, a *wire.AnnounceError)
	OnSubscribeOk(s *Session, ok *wire.SubscribeOk)
	OnSubscribeError(s *Session, se *wire.SubscribeError)
	OnSubscribeAnnouncesOk(s *Session, ok *wire.SubscribeAnnouncesOk)
	OnSubscribeAnnouncesError(s *Session, se *wire.SubscribeAnnouncesError)
	OnFetchOk(s *Session, ok *wire.FetchOk)
	OnFetchError(s *Session, fe *wire.FetchError)
	OnTrackStatus(s *Session, ts *wire.TrackStatus)
}
