// Package registry implements the per-connection publish/subscribe
// indexes a MoQT session consults on every dialog: which handler owns a
// request id, which handler owns a received track alias, and which
// publishers have announced a given namespace/name.
package registry

import (
	"sync"

	"github.com/zsiec/moqrelay/trackname"
)

// SubscriptionHandler is whatever the session layer uses to represent one
// active Subscribe (package moqt's subscriberHandle in this core); the registry only
// needs to hand it back by id, never to inspect it.
type SubscriptionHandler interface {
	RequestID() uint64
	RecvTrackAlias() uint64
}

// PublisherHandle represents one announced publisher of a track. Multiple
// publishers may announce the same FullTrackName (spec's multi-publisher
// design note), hence the list-valued index below.
type PublisherHandle interface {
	RequestID() uint64
	TrackAlias() uint64
}

// Registry holds the three indexes of a single MoQT connection, guarded
// by one mutex — mirroring the teacher's one-mutex-per-session shape
// rather than a lock per map.
type Registry struct {
	mu sync.RWMutex

	subsByRecvAlias map[uint64]SubscriptionHandler
	subsByRequestID map[uint64]SubscriptionHandler

	pubByRequestID map[uint64]PublisherHandle
	pubByAlias     map[uint64][]PublisherHandle
	pubByName      map[string][]PublisherHandle // keyed by trackname.Full.Key()
}

func New() *Registry {
	return &Registry{
		subsByRecvAlias: make(map[uint64]SubscriptionHandler),
		subsByRequestID: make(map[uint64]SubscriptionHandler),
		pubByRequestID:  make(map[uint64]PublisherHandle),
		pubByAlias:      make(map[uint64][]PublisherHandle),
		pubByName:       make(map[string][]PublisherHandle),
	}
}

// AddSubscription indexes a subscription by both its request id and its
// receive-side track alias.
func (r *Registry) AddSubscription(h SubscriptionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subsByRequestID[h.RequestID()] = h
	r.subsByRecvAlias[h.RecvTrackAlias()] = h
}

// RemoveSubscription drops a subscription from both indexes.
func (r *Registry) RemoveSubscription(h SubscriptionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subsByRequestID, h.RequestID())
	delete(r.subsByRecvAlias, h.RecvTrackAlias())
}

func (r *Registry) SubscriptionByRequestID(id uint64) (SubscriptionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.subsByRequestID[id]
	return h, ok
}

func (r *Registry) SubscriptionByRecvAlias(alias uint64) (SubscriptionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.subsByRecvAlias[alias]
	return h, ok
}

// AddPublisher indexes a publisher by request id, track alias, and full
// track name. A track alias or name may have more than one publisher
// (spec's list-valued map design note); duplicates of the same handler
// are not de-duplicated by the registry — callers are expected to add a
// handler exactly once.
func (r *Registry) AddPublisher(h PublisherHandle, name trackname.Full) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubByRequestID[h.RequestID()] = h
	r.pubByAlias[h.TrackAlias()] = append(r.pubByAlias[h.TrackAlias()], h)
	key := name.Key()
	r.pubByName[key] = append(r.pubByName[key], h)
}

// RemovePublisher drops a publisher from all three indexes.
func (r *Registry) RemovePublisher(h PublisherHandle, name trackname.Full) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pubByRequestID, h.RequestID())
	r.pubByAlias[h.TrackAlias()] = removeHandle(r.pubByAlias[h.TrackAlias()], h)
	if len(r.pubByAlias[h.TrackAlias()]) == 0 {
		delete(r.pubByAlias, h.TrackAlias())
	}
	key := name.Key()
	r.pubByName[key] = removeHandle(r.pubByName[key], h)
	if len(r.pubByName[key]) == 0 {
		delete(r.pubByName, key)
	}
}

func (r *Registry) PublisherByRequestID(id uint64) (PublisherHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.pubByRequestID[id]
	return h, ok
}

func (r *Registry) PublishersByAlias(alias uint64) []PublisherHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PublisherHandle{}, r.pubByAlias[alias]...)
}

func (r *Registry) PublishersByName(name trackname.Full) []PublisherHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PublisherHandle{}, r.pubByName[name.Key()]...)
}

func removeHandle(list []PublisherHandle, h PublisherHandle) []PublisherHandle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
