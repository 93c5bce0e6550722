package moqsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqrelay/reassembly"
	"github.com/zsiec/moqrelay/wire"
)

// Session drives the control state machine for one MoQT connection: the
// setup handshake, request-id bookkeeping, and dispatch of every dialog
// to a Handler.
type Session struct {
	role    Role
	handler Handler
	log     *slog.Logger

	controlR *reassembly.ControlReassembler
	controlW io.Writer
	writeMu  sync.Mutex // guards controlW; dialogs may reply concurrently

	mu               sync.Mutex
	state            State
	nextRequestID    uint64
	localMaxRequest  uint64
	peerMaxRequest   uint64
	seenRequestIDs   map[uint64]struct{}

	path string // client-only: the setup Path parameter to send
}

// Config configures a new Session.
type Config struct {
	Role            Role
	Handler         Handler
	Control         io.ReadWriter
	Log             *slog.Logger
	LocalMaxRequest uint64 // how many concurrent requests we'll accept from the peer
	Path            string // client only
}

func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		role:            cfg.Role,
		handler:         cfg.Handler,
		log:             log.With("component", "moqsession"),
		controlR:        reassembly.NewControlReassembler(cfg.Control),
		controlW:        cfg.Control,
		state:           StateDisconnected,
		nextRequestID:   cfg.Role.firstRequestID(),
		localMaxRequest: cfg.LocalMaxRequest,
		seenRequestIDs:  make(map[uint64]struct{}),
		path:            cfg.Path,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AllocateRequestID returns the next request id this side may use,
// respecting parity and the peer-announced MaxRequestID ceiling.
func (s *Session) AllocateRequestID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerMaxRequest != 0 && s.nextRequestID >= s.peerMaxRequest {
		return 0, fmt.Errorf("%w: request id ceiling reached", ErrGoAwayTimeout)
	}
	id := s.nextRequestID
	s.nextRequestID += s.role.step()
	return id, nil
}

// admitPeerRequestID validates parity and uniqueness of a request id the
// peer just used, per spec §4.5's reuse-is-ProtocolViolation rule.
func (s *Session) admitPeerRequestID(id uint64) error {
	peerRole := RoleClient
	if s.role == RoleClient {
		peerRole = RoleServer
	}
	wantParity := peerRole.firstRequestID()
	if id%2 != wantParity {
		return fmt.Errorf("%w: request id %d has wrong parity for peer role", ErrProtocolViolation, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seenRequestIDs[id]; seen {
		return fmt.Errorf("%w: request id %d reused", ErrProtocolViolation, id)
	}
	if id >= s.localMaxRequest {
		return fmt.Errorf("%w: request id %d exceeds local max", ErrProtocolViolation, id)
	}
	s.seenRequestIDs[id] = struct{}{}
	return nil
}

func (s *Session) send(msgType uint64, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteControlMsg(s.controlW, msgType, payload)
}

// RunClient performs the client-side setup handshake then dispatches
// dialogs until the control stream closes or ctx is done.
func (s *Session) RunClient(ctx context.Context) error {
	s.setState(StateConnecting)
	cs := &wire.ClientSetup{
		Versions:     []uint64{wire.Version},
		Path:         s.path,
		HasPath:      s.path != "",
		MaxRequestID: s.localMaxRequest,
	}
	if err := s.send(wire.MsgClientSetup, wire.SerializeClientSetup(cs)); err != nil {
		return err
	}
	s.setState(StatePendingServerSetup)

	frame, err := s.controlR.Next()
	if err != nil {
		return err
	}
	if frame.Type != wire.MsgServerSetup {
		return fmt.Errorf("%w: expected server setup, got %#x", ErrProtocolViolation, frame.Type)
	}
	ss, err := wire.ParseServerSetup(frame.Payload)
	if err != nil {
		return err
	}
	if ss.SelectedVersion != wire.Version {
		return fmt.Errorf("%w: unsupported version %#x", ErrProtocolViolation, ss.SelectedVersion)
	}
	s.mu.Lock()
	s.peerMaxRequest = ss.MaxRequestID
	s.mu.Unlock()
	s.setState(StateReady)
	s.log.Info("session ready", "role", "client")
	return s.dispatchLoop(ctx)
}

// RunServer reads the client's setup, answers it, then dispatches
// dialogs until the control stream closes or ctx is done.
func (s *Session) RunServer(ctx context.Context) error {
	s.setState(StateConnecting)
	frame, err := s.controlR.Next()
	if err != nil {
		return err
	}
	if frame.Type != wire.MsgClientSetup {
		return fmt.Errorf("%w: expected client setup, got %#x", ErrProtocolViolation, frame.Type)
	}
	cs, err := wire.ParseClientSetup(frame.Payload)
	if err != nil {
		return err
	}
	supported := false
	for _, v := range cs.Versions {
		if v == wire.Version {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%w: no supported version offered", ErrProtocolViolation)
	}
	s.mu.Lock()
	s.peerMaxRequest = cs.MaxRequestID
	s.mu.Unlock()

	ss := &wire.ServerSetup{SelectedVersion: wire.Version, MaxRequestID: s.localMaxRequest}
	if err := s.send(wire.MsgServerSetup, wire.SerializeServerSetup(ss)); err != nil {
		return err
	}
	s.setState(StateReady)
	s.log.Info("session ready", "role", "server", "path", cs.Path)
	return s.dispatchLoop(ctx)
}

// dispatchLoop reads and handles control frames until the stream closes,
// ctx is cancelled, or a connection-fatal error occurs.
func (s *Session) dispatchLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := s.controlR.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.setState(StateClosed)
				return nil
			}
			return err
		}
		if err := s.dispatch(ctx, frame); err != nil {
			if isFatal(err) {
				s.log.Error("fatal control error", "err", err)
				s.setState(StateClosed)
				return err
			}
			s.log.Warn("dialog error", "err", err, "type", frame.Type)
		}
	}
}

func isFatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrInternalError) ||
		errors.Is(err, ErrDuplicateAlias) ||
		errors.Is(err, ErrParamLength) ||
		errors.Is(err, ErrGoAwayTimeout)
}

func (s *Session) dispatch(ctx context.Context, f reassembly.ControlFrame) error {
	switch f.Type {
	case wire.MsgAnnounce:
		a, err := wire.ParseAnnounce(f.Payload)
		if err != nil {
			return err
		}
		if err := s.admitPeerRequestID(a.RequestID); err != nil {
			return err
		}
		if err := s.handler.OnAnnounce(s, a); err != nil {
			return s.sendAnnounceError(a.RequestID, err)
		}
		return s.send(wire.MsgAnnounceOk, wire.SerializeAnnounceOk(&wire.AnnounceOk{RequestID: a.RequestID}))

	case wire.MsgUnannounce:
		u, err := wire.ParseUnannounce(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnUnannounce(s, u)
		return nil

	case wire.MsgSubscribe:
		sub, err := wire.ParseSubscribe(f.Payload)
		if err != nil {
			return err
		}
		if err := s.admitPeerRequestID(sub.RequestID); err != nil {
			return err
		}
		ok, err := s.handler.OnSubscribe(s, sub)
		if err != nil {
			return s.sendSubscribeError(sub.RequestID, sub.TrackAlias, err)
		}
		return s.send(wire.MsgSubscribeOk, wire.SerializeSubscribeOk(ok))

	case wire.MsgSubscribeUpdate:
		su, err := wire.ParseSubscribeUpdate(f.Payload)
		if err != nil {
			return err
		}
		return s.handler.OnSubscribeUpdate(s, su)

	case wire.MsgUnsubscribe:
		u, err := wire.ParseUnsubscribe(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnUnsubscribe(s, u)
		return nil

	case wire.MsgSubscribeDone:
		sd, err := wire.ParseSubscribeDone(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnSubscribeDone(s, sd)
		return nil

	case wire.MsgNewGroupRequest:
		g, err := wire.ParseNewGroupRequest(f.Payload)
		if err != nil {
			return err
		}
		return s.handler.OnNewGroupRequest(s, g)

	case wire.MsgSubscribeAnnounces:
		sa, err := wire.ParseSubscribeAnnounces(f.Payload)
		if err != nil {
			return err
		}
		if err := s.admitPeerRequestID(sa.RequestID); err != nil {
			return err
		}
		if err := s.handler.OnSubscribeAnnounces(s, sa); err != nil {
			return s.send(wire.MsgSubscribeAnnouncesErr, wire.SerializeSubscribeAnnouncesError(&wire.SubscribeAnnouncesError{
				RequestID: sa.RequestID, ErrorCode: ErrorCodeInternal, ReasonPhrase: err.Error(),
			}))
		}
		return s.send(wire.MsgSubscribeAnnouncesOk, wire.SerializeSubscribeAnnouncesOk(&wire.SubscribeAnnouncesOk{RequestID: sa.RequestID}))

	case wire.MsgFetch:
		fe, err := wire.ParseFetch(f.Payload)
		if err != nil {
			return err
		}
		if err := s.admitPeerRequestID(fe.RequestID); err != nil {
			return err
		}
		ok, err := s.handler.OnFetch(s, fe)
		if err != nil {
			return s.send(wire.MsgFetchError, wire.SerializeFetchError(&wire.FetchError{
				RequestID: fe.RequestID, ErrorCode: ErrorCodeInternal, ReasonPhrase: err.Error(),
			}))
		}
		return s.send(wire.MsgFetchOk, wire.SerializeFetchOk(ok))

	case wire.MsgFetchCancel:
		fc, err := wire.ParseFetchCancel(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnFetchCancel(s, fc)
		return nil

	case wire.MsgTrackStatusRequest:
		t, err := wire.ParseTrackStatusRequest(f.Payload)
		if err != nil {
			return err
		}
		ts, err := s.handler.OnTrackStatusRequest(s, t)
		if err != nil {
			return err
		}
		return s.send(wire.MsgTrackStatus, wire.SerializeTrackStatus(ts))

	case wire.MsgGoAway:
		g, err := wire.ParseGoAway(f.Payload)
		if err != nil {
			return err
		}
		s.setState(StateDraining)
		s.handler.OnGoAway(s, g)
		return nil

	case wire.MsgAnnounceOk:
		a, err := wire.ParseAnnounceOk(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnAnnounceOk(s, a)
		return nil

	case wire.MsgAnnounceError:
		a, err := wire.ParseAnnounceError(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnAnnounceError(s, a)
		return nil

	case wire.MsgSubscribeOk:
		ok, err := wire.ParseSubscribeOk(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnSubscribeOk(s, ok)
		return nil

	case wire.MsgSubscribeError:
		se, err := wire.ParseSubscribeError(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnSubscribeError(s, se)
		return nil

	case wire.MsgSubscribeAnnouncesOk:
		ok, err := wire.ParseSubscribeAnnouncesOk(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnSubscribeAnnouncesOk(s, ok)
		return nil

	case wire.MsgSubscribeAnnouncesErr:
		se, err := wire.ParseSubscribeAnnouncesError(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnSubscribeAnnouncesError(s, se)
		return nil

	case wire.MsgFetchOk:
		ok, err := wire.ParseFetchOk(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnFetchOk(s, ok)
		return nil

	case wire.MsgFetchError:
		fe, err := wire.ParseFetchError(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnFetchError(s, fe)
		return nil

	case wire.MsgTrackStatus:
		ts, err := wire.ParseTrackStatus(f.Payload)
		if err != nil {
			return err
		}
		s.handler.OnTrackStatus(s, ts)
		return nil

	case wire.MsgMaxRequestID:
		m, err := wire.ParseMaxRequestID(f.Payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if m.RequestID > s.peerMaxRequest {
			s.peerMaxRequest = m.RequestID
		}
		s.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("%w: unhandled message type %#x", ErrProtocolViolation, f.Type)
	}
}

func (s *Session) sendAnnounceError(reqID uint64, cause error) error {
	return s.send(wire.MsgAnnounceError, wire.SerializeAnnounceError(&wire.AnnounceError{
		RequestID: reqID, ErrorCode: errorCodeFor(cause), ReasonPhrase: cause.Error(),
	}))
}

func (s *Session) sendSubscribeError(reqID, trackAlias uint64, cause error) error {
	return s.send(wire.MsgSubscribeError, wire.SerializeSubscribeError(&wire.SubscribeError{
		RequestID: reqID, ErrorCode: errorCodeFor(cause), ReasonPhrase: cause.Error(), TrackAlias: trackAlias,
	}))
}

func errorCodeFor(err error) uint64 {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAnnounceNotAuthorized), errors.Is(err, ErrSubscribeNotAuthorized):
		return ErrorCodeUnauthorized
	case errors.Is(err, ErrDuplicateAlias):
		return ErrorCodeDuplicateTrackAlias
	case errors.Is(err, ErrNotAnnounced):
		return ErrorCodeNotAnnounced
	case errors.Is(err, ErrRetryTrackAlias):
		return ErrorCodeRetryTrackAlias
	case errors.Is(err, ErrParamLength):
		return ErrorCodeParamLengthMismatch
	default:
		return ErrorCodeInternal
	}
}

// SendGoAway asks the peer to migrate, newURI may be empty to mean
// "the same server, reconnect."
func (s *Session) SendGoAway(newURI string) error {
	s.setState(StateDraining)
	return s.send(wire.MsgGoAway, wire.SerializeGoAway(&wire.GoAway{NewSessionURI: newURI}))
}

// SendSubscribeDone notifies a subscriber their subscription ended.
func (s *Session) SendSubscribeDone(reqID, statusCode, streamCount uint64, reason string) error {
	return s.send(wire.MsgSubscribeDone, wire.SerializeSubscribeDone(&wire.SubscribeDone{
		RequestID: reqID, StatusCode: statusCode, StreamCount: streamCount, ReasonPhrase: reason,
	}))
}

// SendUnsubscribe asks an upstream publisher to stop sending a track this
// relay no longer has any downstream subscriber for.
func (s *Session) SendUnsubscribe(reqID uint64) error {
	return s.send(wire.MsgUnsubscribe, wire.SerializeUnsubscribe(&wire.Unsubscribe{RequestID: reqID}))
}

// SendSubscribe issues a new upstream Subscribe.
func (s *Session) SendSubscribe(sub *wire.Subscribe) error {
	return s.send(wire.MsgSubscribe, wire.SerializeSubscribe(sub))
}

// SendAnnounce issues a new Announce.
func (s *Session) SendAnnounce(a *wire.Announce) error {
	return s.send(wire.MsgAnnounce, wire.SerializeAnnounce(a))
}

// DrainTimeout is the grace period named for a session in StateDraining.
// Nothing in this package applies it: a draining session stays open until
// its control stream ends or its context is cancelled.
const DrainTimeout = 10 * time.Second
