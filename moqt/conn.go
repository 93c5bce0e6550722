package moqt

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/forwarder"
	"github.com/zsiec/moqrelay/moqsession"
	"github.com/zsiec/moqrelay/registry"
	"github.com/zsiec/moqrelay/scheduler"
	"github.com/zsiec/moqrelay/trackname"
	"github.com/zsiec/moqrelay/transport"
	"github.com/zsiec/moqrelay/wire"
)

// streamKeyFor mirrors forwarder's unexported stream-key derivation for
// the fetch path, which writes directly to the scheduler queue instead of
// going through a forwarder.Subscriber.
func streamKeyFor(alias, group, subgroup uint64) uint64 {
	h := fnv.New64a()
	var buf [24]byte
	for i, v := range [3]uint64{alias, group, subgroup} {
		for b := 0; b < 8; b++ {
			buf[i*8+b] = byte(v >> (8 * b))
		}
	}
	h.Write(buf[:])
	return h.Sum64()
}

const numPriorities = 256

// Conn is one MoQT connection's orchestration: its control Session, its
// local publish/subscribe registry, and the egress plumbing its
// subscriptions write into.
type Conn struct {
	id      string
	relay   *Relay
	session *moqsession.Session
	reg     *registry.Registry
	sink    *connSink
	queue   *scheduler.Queue
	log     *slog.Logger

	mu                     sync.Mutex
	upstreamSubByRequestID map[uint64]uint64 // our request id -> track alias, for upstream subs we opened
	localAliasByName       map[string]uint64 // our own announced tracks, full-name key -> alias we publish under
}

// subscriberHandle is what Relay's per-track fan-out holds for one
// downstream subscriber: the forwarder state plus enough identity to
// satisfy registry.SubscriptionHandler.
type subscriberHandle struct {
	requestID uint64
	recvAlias uint64
	fwd       *forwarder.Subscriber
	owner     *Conn
}

func (h *subscriberHandle) RequestID() uint64      { return h.requestID }
func (h *subscriberHandle) RecvTrackAlias() uint64 { return h.recvAlias }

// NewConn wires a fresh MoQT connection atop an already-accepted QUIC
// connection and its control stream.
func NewConn(id string, relay *Relay, role moqsession.Role, tConn *transport.Conn, control transportStream, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		id:                     id,
		relay:                  relay,
		reg:                    registry.New(),
		sink:                   newConnSink(tConn),
		queue:                  scheduler.NewQueue(numPriorities),
		log:                    log.With("component", "moqt.conn", "conn", id),
		upstreamSubByRequestID: make(map[uint64]uint64),
		localAliasByName:       make(map[string]uint64),
	}
	// c implements moqsession.Handler itself; the session dispatches every
	// dialog straight back into this Conn's OnXxx methods.
	c.session = moqsession.New(moqsession.Config{
		Role:            role,
		Handler:         c,
		Control:         control,
		Log:             c.log,
		LocalMaxRequest: 1 << 20,
	})
	return c
}

// transportStream is the minimal read/write surface Conn needs from the
// control stream; transport.Conn's OpenControlStream/AcceptControlStream
// already return a quic.Stream, which satisfies this directly.
type transportStream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Run drives the control session to completion.
func (c *Conn) Run(ctx context.Context, role moqsession.Role) error {
	if role == moqsession.RoleServer {
		return c.session.RunServer(ctx)
	}
	return c.session.RunClient(ctx)
}

// DrainEgress periodically flushes the connection's egress scheduler.
// Intended to run as one errgroup goroutine per connection alongside Run.
func (c *Conn) DrainEgress(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := scheduler.Drain(ctx, c.queue, c.sink, time.Now()); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) trackUpstreamSubscription(requestID, alias uint64) {
	c.mu.Lock()
	c.upstreamSubByRequestID[requestID] = alias
	c.mu.Unlock()
}

func (c *Conn) untrackUpstreamSubscription(requestID uint64) {
	c.mu.Lock()
	delete(c.upstreamSubByRequestID, requestID)
	c.mu.Unlock()
}

// --- moqsession.Handler ---

func (c *Conn) OnAnnounce(s *moqsession.Session, a *wire.Announce) error {
	c.relay.addAnnouncer(a.Namespace, c)
	c.log.Info("announce", "namespace", a.Namespace)
	return nil
}

func (c *Conn) OnUnannounce(s *moqsession.Session, u *wire.Unannounce) {
	c.relay.removeAnnouncer(u.Namespace, c)
}

func (c *Conn) OnSubscribe(s *moqsession.Session, sub *wire.Subscribe) (*wire.SubscribeOk, error) {
	full := trackname.Full{Namespace: sub.Namespace, Name: sub.TrackName}
	alias := sub.TrackAlias
	if alias == 0 {
		alias = uint64(trackname.DefaultAlias(full))
	}

	fwd := &forwarder.Subscriber{
		RequestID:      sub.RequestID,
		SendTrackAlias: alias,
		TTL:            30 * time.Second,
		Queue:          c.queue,
	}
	handle := &subscriberHandle{requestID: sub.RequestID, recvAlias: alias, fwd: fwd, owner: c}

	if _, err := c.relay.subscribeUpstream(full, alias, sub, c, handle); err != nil {
		return nil, err
	}
	c.reg.AddSubscription(handle)

	track := c.relay.cacheFor(alias)
	latestGroup, hasLatest := track.LatestGroupID()

	return &wire.SubscribeOk{
		RequestID:     sub.RequestID,
		TrackAlias:    alias,
		Expires:       0,
		GroupOrder:    sub.GroupOrder,
		ContentExists: hasLatest,
		LargestGroup:  latestGroup,
	}, nil
}

func (c *Conn) OnSubscribeUpdate(s *moqsession.Session, su *wire.SubscribeUpdate) error {
	h, ok := c.reg.SubscriptionByRequestID(su.RequestID)
	if !ok {
		return fmt.Errorf("%w: request id %d", moqsession.ErrNotConnected, su.RequestID)
	}
	sh := h.(*subscriberHandle)
	p := su.Priority
	sh.fwd.PriorityOverride = &p
	return nil
}

func (c *Conn) OnUnsubscribe(s *moqsession.Session, u *wire.Unsubscribe) {
	h, ok := c.reg.SubscriptionByRequestID(u.RequestID)
	if !ok {
		return
	}
	sh := h.(*subscriberHandle)
	c.reg.RemoveSubscription(sh)
	c.relay.unsubscribeDownstream(sh.recvAlias, c)
}

func (c *Conn) OnSubscribeDone(s *moqsession.Session, sd *wire.SubscribeDone) {
	// Our own upstream subscription ended; the registry is the source of
	// truth for teardown (see DESIGN.md's SubscribeDone/Unsubscribe race
	// decision) so an unknown request id here is a no-op, not an error.
	c.log.Info("upstream subscribe done", "request_id", sd.RequestID, "status", sd.StatusCode)
}

func (c *Conn) OnNewGroupRequest(s *moqsession.Session, g *wire.NewGroupRequest) error {
	// Publisher-side concern: out of scope for a connection that only
	// relays; a publishing Conn would forward this to its own encoder.
	return nil
}

func (c *Conn) OnSubscribeAnnounces(s *moqsession.Session, sa *wire.SubscribeAnnounces) error {
	return nil
}

func (c *Conn) OnFetch(s *moqsession.Session, f *wire.Fetch) (*wire.FetchOk, error) {
	if f.FetchType != wire.FetchTypeStandalone {
		return nil, fmt.Errorf("%w: joining fetch not supported", moqsession.ErrInternalError)
	}
	full := trackname.Full{Namespace: f.Namespace, Name: f.TrackName}
	alias := uint64(trackname.DefaultAlias(full))
	track := c.relay.cacheFor(alias)
	objects := track.Range(cache.Location{Group: f.StartGroup, Object: f.StartObj}, cache.Location{Group: f.EndGroup, Object: f.EndObj})

	go c.streamFetchObjects(f.RequestID, objects, f.Priority)

	largestGroup, _ := track.LatestGroupID()
	return &wire.FetchOk{RequestID: f.RequestID, GroupOrder: f.GroupOrder, LargestGroup: largestGroup}, nil
}

// streamFetchObjects writes the cached objects a standalone Fetch
// selected onto one dedicated fetch stream in FetchHeader/FetchObject
// framing, per spec §4.5's Fetch dialog and §6.1's wire format, closed
// with a FIN once exhausted.
func (c *Conn) streamFetchObjects(requestID uint64, objects []cache.Object, priority byte) {
	now := time.Now()
	key := streamKeyFor(requestID, 0, 0)

	frame := wire.AppendFetchHeader(nil, wire.FetchHeader{RequestID: requestID})
	var st wire.FetchObjectState
	for _, o := range objects {
		frame = wire.AppendFetchObject(frame, &st, wire.FetchObject{
			GroupID:    o.GroupID,
			SubgroupID: o.SubgroupID,
			ObjectID:   o.ObjectID,
			Priority:   priority,
			Extensions: o.Extensions,
			Status:     o.Status,
			Payload:    o.Payload,
		})
	}
	c.queue.Push(scheduler.Item{
		Priority:    priority,
		EnqueuedAt:  now,
		UseReliable: true,
		StreamKey:   key,
		Frame:       frame,
	})
	c.queue.Push(scheduler.Item{
		Priority:        priority,
		EnqueuedAt:      now,
		UseReliable:     true,
		Action:          scheduler.StreamActionReplaceWithFin,
		StreamKey:       key,
		ClosesStreamKey: key,
	})
}

func (c *Conn) OnFetchCancel(s *moqsession.Session, fc *wire.FetchCancel) {}

func (c *Conn) OnTrackStatusRequest(s *moqsession.Session, t *wire.TrackStatusRequest) (*wire.TrackStatus, error) {
	full := trackname.Full{Namespace: t.Namespace, Name: t.TrackName}
	alias := uint64(trackname.DefaultAlias(full))
	track := c.relay.cacheFor(alias)
	largestGroup, hasLatest := track.LatestGroupID()
	status := uint64(1)
	if hasLatest {
		status = 0
	}
	return &wire.TrackStatus{RequestID: t.RequestID, StatusCode: status, LargestGroup: largestGroup}, nil
}

func (c *Conn) OnGoAway(s *moqsession.Session, g *wire.GoAway) {
	c.log.Info("peer sent goaway", "new_uri", g.NewSessionURI)
}

// --- replies to dialogs this Conn initiated ---
//
// A connection that is the publisher side of a relay-aggregated track
// receives these as the answer to the Subscribe the relay issued in
// Relay.subscribeUpstream. AnnounceError and the other *Error replies are
// logged; AnnounceOk, SubscribeAnnouncesOk, FetchOk and TrackStatus are
// ignored.

func (c *Conn) OnAnnounceOk(s *moqsession.Session, a *wire.AnnounceOk) {}

func (c *Conn) OnAnnounceError(s *moqsession.Session, a *wire.AnnounceError) {
	c.log.Warn("announce rejected upstream", "request_id", a.RequestID, "reason", a.ReasonPhrase)
}

func (c *Conn) OnSubscribeOk(s *moqsession.Session, ok *wire.SubscribeOk) {
	c.mu.Lock()
	alias, tracked := c.upstreamSubByRequestID[ok.RequestID]
	c.mu.Unlock()
	if !tracked {
		return
	}
	if ok.ContentExists {
		// make sure the track's cache exists; the reply's LargestGroup
		// is not recorded in it.
		c.relay.cacheFor(alias)
	}
}

func (c *Conn) OnSubscribeError(s *moqsession.Session, se *wire.SubscribeError) {
	c.mu.Lock()
	alias, tracked := c.upstreamSubByRequestID[se.RequestID]
	delete(c.upstreamSubByRequestID, se.RequestID)
	c.mu.Unlock()
	if !tracked {
		return
	}
	c.log.Warn("upstream subscribe rejected", "request_id", se.RequestID, "reason", se.ReasonPhrase)
	c.relay.unsubscribeDownstream(alias, c)
}

func (c *Conn) OnSubscribeAnnouncesOk(s *moqsession.Session, ok *wire.SubscribeAnnouncesOk) {}

func (c *Conn) OnSubscribeAnnouncesError(s *moqsession.Session, se *wire.SubscribeAnnouncesError) {
	c.log.Warn("subscribe announces rejected", "request_id", se.RequestID, "reason", se.ReasonPhrase)
}

func (c *Conn) OnFetchOk(s *moqsession.Session, ok *wire.FetchOk) {}

func (c *Conn) OnFetchError(s *moqsession.Session, fe *wire.FetchError) {
	c.log.Warn("fetch rejected upstream", "request_id", fe.RequestID, "reason", fe.ReasonPhrase)
}

func (c *Conn) OnTrackStatus(s *moqsession.Session, ts *wire.TrackStatus) {}
