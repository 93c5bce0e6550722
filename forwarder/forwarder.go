// Package forwarder turns a published object into a per-subscriber frame
// on that subscriber's egress queue, applying the subscriber's priority
// and TTL overrides and deciding stream-vs-datagram per spec §4.6.
package forwarder

import (
	"hash/fnv"
	"time"

	"github.com/zsiec/moqrelay/scheduler"
	"github.com/zsiec/moqrelay/wire"
)

// streamKey derives the scheduler's per-logical-stream routing key from a
// subscriber's send-side alias and the object's group/subgroup — distinct
// (alias, group, subgroup) triples must never share a QUIC stream.
func streamKey(alias, group, subgroup uint64) uint64 {
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

// Object is a published object handed to every subscriber's Forward.
type Object struct {
	TrackAlias  uint64
	GroupID     uint64
	SubgroupID  uint64
	ObjectID    uint64
	Priority    byte
	Status      uint64
	Extensions  []wire.Extension
	Payload     []byte
	NewGroup    bool // true when this object starts a group the forwarder must push as a fresh stream
	UseDatagram bool // publisher requested datagram delivery for this object
}

// Subscriber is one downstream subscription's forwarding configuration.
type Subscriber struct {
	RequestID        uint64
	SendTrackAlias   uint64
	PriorityOverride *byte
	TTL              time.Duration
	Queue            *scheduler.Queue

	openGroup    uint64
	openSubgroup uint64
	streamOpen   bool
}

func (s *Subscriber) priorityFor(o Object) byte {
	if s.PriorityOverride != nil {
		return *s.PriorityOverride
	}
	return o.Priority
}

// Forward builds the wire frame for o addressed to s and pushes it onto
// s's egress queue. NewGroup forces a fresh reliable stream per spec
// §4.6 step 3 even if the subscriber would otherwise reuse the current
// one.
func (s *Subscriber) Forward(o Object, now time.Time) {
	useReliable := !o.UseDatagram

	if o.UseDatagram {
		frame := wire.AppendObjectDatagram(nil, wire.ObjectDatagram{
			TrackAlias: s.SendTrackAlias,
			GroupID:    o.GroupID,
			ObjectID:   o.ObjectID,
			Priority:   s.priorityFor(o),
			Extensions: o.Extensions,
			Status:     o.Status,
			Payload:    o.Payload,
		})
		s.Queue.Push(scheduler.Item{
			Priority:    s.priorityFor(o),
			EnqueuedAt:  now,
			TTL:         s.TTL,
			UseReliable: false,
			Action:      scheduler.StreamActionNone,
			Frame:       frame,
		})
		return
	}

	key := streamKey(s.SendTrackAlias, o.GroupID, o.SubgroupID)

	needsNewStream := o.NewGroup || !s.streamOpen ||
		o.GroupID != s.openGroup || o.SubgroupID != s.openSubgroup
	action := scheduler.StreamActionNone
	var closesKey uint64

	var frame []byte
	if needsNewStream {
		if s.streamOpen {
			action = scheduler.StreamActionReplaceWithFin
			closesKey = streamKey(s.SendTrackAlias, s.openGroup, s.openSubgroup)
		}
		frame = wire.AppendSubgroupStreamHeader(nil, wire.SubgroupStreamHeader{
			TrackAlias: s.SendTrackAlias,
			GroupID:    o.GroupID,
			SubgroupID: o.SubgroupID,
			Priority:   s.priorityFor(o),
		})
		s.openGroup, s.openSubgroup, s.streamOpen = o.GroupID, o.SubgroupID, true
	}
	frame = wire.AppendObject(frame, o.ObjectID, o.Extensions, o.Status, o.Payload)

	s.Queue.Push(scheduler.Item{
		Priority:        s.priorityFor(o),
		EnqueuedAt:      now,
		TTL:             s.TTL,
		UseReliable:     useReliable,
		Action:          action,
		StreamKey:       key,
		ClosesStreamKey: closesKey,
		Frame:           frame,
	})
}

// FanOut forwards o to every subscriber in subs.
func FanOut(subs []*Subscriber, o Object, now time.Time) {
	for _, s := range subs {
		s.Forward(o, now)
	}
}
