// Package moqt is the composition root: it wires wire/reassembly/
// trackname/cache/registry/moqsession/forwarder/scheduler/transport
// together into a running MoQT relay, the way distribution.Server wires
// Relay+StatsProvider per stream in the teacher.
package moqt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/moqsession"
	"github.com/zsiec/moqrelay/trackname"
	"github.com/zsiec/moqrelay/wire"
)

// Relay is the process-wide MoQT relay state shared by every connection:
// the announce table and the track object caches. It has no concept of
// QUIC; package transport/cmd wire it to real connections.
type Relay struct {
	log *slog.Logger

	mu         sync.Mutex
	announced  map[string][]*Conn // namespace tuple key -> announcing connections
	upstream   map[uint64]*upstreamTrack // track alias -> aggregated upstream subscription

	caches *cache.Registry

	defaultTTL       time.Duration
	defaultMaxGroups int
}

// upstreamTrack tracks one relay-aggregated Subscribe: exactly one
// Subscribe is outstanding to the publisher no matter how many downstream
// subscribers the relay is serving.
type upstreamTrack struct {
	alias      uint64
	publisher  *Conn
	requestID  uint64 // request id this relay used to subscribe upstream
	name       trackname.Full
	subscribers map[*Conn]*subscriberState
}

type subscriberState struct {
	requestID uint64
	sub       *subscriberHandle
}

// Config configures a new Relay.
type Config struct {
	Log              *slog.Logger
	DefaultTTL       time.Duration
	DefaultMaxGroups int
}

func NewRelay(cfg Config) *Relay {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxGroups := cfg.DefaultMaxGroups
	if maxGroups <= 0 {
		maxGroups = 4
	}
	return &Relay{
		log:              log.With("component", "moqt"),
		announced:        make(map[string][]*Conn),
		upstream:         make(map[uint64]*upstreamTrack),
		caches:           cache.NewRegistry(ttl, maxGroups),
		defaultTTL:       ttl,
		defaultMaxGroups: maxGroups,
	}
}

func nsKey(ns []string) string {
	return trackname.Full{Namespace: ns}.Key()
}

func (r *Relay) addAnnouncer(ns []string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := nsKey(ns)
	r.announced[key] = append(r.announced[key], c)
}

func (r *Relay) removeAnnouncer(ns []string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := nsKey(ns)
	list := r.announced[key]
	for i, v := range list {
		if v == c {
			r.announced[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.announced[key]) == 0 {
		delete(r.announced, key)
	}
}

func (r *Relay) findPublisher(ns []string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.announced[nsKey(ns)]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// subscribeUpstream returns the aggregated upstream subscription for a
// track, issuing a fresh Subscribe to the publisher only if none exists
// yet — the relay-aggregation behavior spec §4.5 requires.
func (r *Relay) subscribeUpstream(full trackname.Full, alias uint64, sub *wire.Subscribe, downstream *Conn, handle *subscriberHandle) (*upstreamTrack, error) {
	r.mu.Lock()
	if ut, ok := r.upstream[alias]; ok {
		ut.subscribers[downstream] = &subscriberState{requestID: sub.RequestID, sub: handle}
		r.mu.Unlock()
		return ut, nil
	}
	r.mu.Unlock()

	pub, ok := r.findPublisher(full.Namespace)
	if !ok {
		return nil, fmt.Errorf("%w: %v/%s", moqsession.ErrNotAnnounced, full.Namespace, full.Name)
	}

	reqID, err := pub.session.AllocateRequestID()
	if err != nil {
		return nil, err
	}
	upSub := &wire.Subscribe{
		RequestID:  reqID,
		TrackAlias: alias,
		Namespace:  full.Namespace,
		TrackName:  full.Name,
		Priority:   sub.Priority,
		GroupOrder: sub.GroupOrder,
		Forward:    1,
		FilterType: wire.FilterLatestObject,
	}
	if err := pub.session.SendSubscribe(upSub); err != nil {
		return nil, err
	}

	ut := &upstreamTrack{
		alias:       alias,
		publisher:   pub,
		requestID:   reqID,
		name:        full,
		subscribers: map[*Conn]*subscriberState{downstream: {requestID: sub.RequestID, sub: handle}},
	}
	r.mu.Lock()
	r.upstream[alias] = ut
	r.mu.Unlock()
	pub.trackUpstreamSubscription(reqID, alias)
	return ut, nil
}

// unsubscribeDownstream removes one subscriber from an aggregated
// upstream track, cascading an Unsubscribe to the publisher once the
// last downstream subscriber is gone.
func (r *Relay) unsubscribeDownstream(alias uint64, downstream *Conn) {
	r.mu.Lock()
	ut, ok := r.upstream[alias]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(ut.subscribers, downstream)
	empty := len(ut.subscribers) == 0
	if empty {
		delete(r.upstream, alias)
	}
	r.mu.Unlock()

	if empty {
		_ = ut.publisher.session.SendUnsubscribe(ut.requestID)
		ut.publisher.untrackUpstreamSubscription(ut.requestID)
		r.caches.Remove(alias)
	}
}

// fanOutToSubscribers delivers one published object to every downstream
// subscriber of alias.
func (r *Relay) fanOutToSubscribers(alias uint64, deliver func(*subscriberHandle)) {
	r.mu.Lock()
	ut, ok := r.upstream[alias]
	var subs []*subscriberHandle
	if ok {
		for _, st := range ut.subscribers {
			subs = append(subs, st.sub)
		}
	}
	r.mu.Unlock()
	for _, s := range subs {
		deliver(s)
	}
}

func (r *Relay) cacheFor(alias uint64) *cache.Track {
	return r.caches.TrackFor(alias)
}

// Background runs until ctx is done, waking every 5 seconds; suitable for
// errgroup.Go. It sweeps nothing itself: group TTL eviction is done by
// go-cache's janitor, and no connection state is touched here.
func (r *Relay) Background(ctx context.Context) error {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// periodic housekeeping hook; go-cache's own janitor already
			// handles group TTL eviction, so there is nothing further to
			// sweep here today.
		}
	}
}
