package forwarder

import (
	"bytes"
	"testing"
	"time"

	"github.com/zsiec/moqrelay/scheduler"
	"github.com/zsiec/moqrelay/wire"
)

func drainAll(q *scheduler.Queue, now time.Time) []scheduler.Item {
	var items []scheduler.Item
	for {
		it, ok := q.Pop(now)
		if !ok {
			return items
		}
		items = append(items, it)
	}
}

func TestForwardDatagramObjectPushesDatagramItem(t *testing.T) {
	t.Parallel()
	q := scheduler.NewQueue(4)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q}

	sub.Forward(Object{
		TrackAlias:  1,
		GroupID:     5,
		ObjectID:    0,
		Priority:    2,
		Payload:     []byte("hello"),
		UseDatagram: true,
	}, time.Now())

	items := drainAll(q, time.Now())
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.UseReliable {
		t.Fatal("datagram item must not be marked reliable")
	}
	d, err := wire.ParseObjectDatagram(it.Frame)
	if err != nil {
		t.Fatalf("ParseObjectDatagram: %v", err)
	}
	if d.TrackAlias != 9 || d.GroupID != 5 || string(d.Payload) != "hello" {
		t.Fatalf("got %+v", d)
	}
}

func TestForwardOpensNewStreamOnlyOnGroupOrSubgroupChange(t *testing.T) {
	t.Parallel()
	q := scheduler.NewQueue(4)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q}
	now := time.Now()

	sub.Forward(Object{TrackAlias: 1, GroupID: 1, SubgroupID: 0, ObjectID: 0, Payload: []byte("a")}, now)
	sub.Forward(Object{TrackAlias: 1, GroupID: 1, SubgroupID: 0, ObjectID: 1, Payload: []byte("b")}, now)
	sub.Forward(Object{TrackAlias: 1, GroupID: 2, SubgroupID: 0, ObjectID: 0, Payload: []byte("c")}, now)

	items := drainAll(q, now)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	headerGroup1 := wire.AppendSubgroupStreamHeader(nil, wire.SubgroupStreamHeader{TrackAlias: 9, GroupID: 1, SubgroupID: 0})
	headerGroup2 := wire.AppendSubgroupStreamHeader(nil, wire.SubgroupStreamHeader{TrackAlias: 9, GroupID: 2, SubgroupID: 0})
	wantFrame0 := wire.AppendObject(append([]byte{}, headerGroup1...), 0, nil, wire.ObjectStatusAvailable, []byte("a"))
	wantFrame1 := wire.AppendObject(nil, 1, nil, wire.ObjectStatusAvailable, []byte("b"))
	wantFrame2 := wire.AppendObject(append([]byte{}, headerGroup2...), 0, nil, wire.ObjectStatusAvailable, []byte("c"))

	if !bytes.Equal(items[0].Frame, wantFrame0) {
		t.Fatalf("first object of a fresh stream must be prefixed with the subgroup stream header:\ngot  %x\nwant %x", items[0].Frame, wantFrame0)
	}
	if !bytes.Equal(items[1].Frame, wantFrame1) {
		t.Fatalf("second object on the same group/subgroup must not repeat the stream header:\ngot  %x\nwant %x", items[1].Frame, wantFrame1)
	}
	if !bytes.Equal(items[2].Frame, wantFrame2) {
		t.Fatalf("switching group must prefix the next object with a fresh stream header:\ngot  %x\nwant %x", items[2].Frame, wantFrame2)
	}

	if items[0].Action != scheduler.StreamActionNone {
		t.Fatalf("first frame on a fresh stream should not request a stream action, got %v", items[0].Action)
	}
	if items[2].Action != scheduler.StreamActionReplaceWithFin {
		t.Fatalf("switching group while the prior stream is open should FIN it, got %v", items[2].Action)
	}
	if items[0].StreamKey == items[2].StreamKey {
		t.Fatal("objects in different groups must route to different stream keys")
	}
	if items[0].StreamKey != items[1].StreamKey {
		t.Fatal("objects in the same group/subgroup must share a stream key")
	}
	if items[2].ClosesStreamKey != items[0].StreamKey {
		t.Fatalf("group transition must FIN the prior group's stream key, got ClosesStreamKey=%d, prior StreamKey=%d",
			items[2].ClosesStreamKey, items[0].StreamKey)
	}
	if items[2].ClosesStreamKey == items[2].StreamKey {
		t.Fatal("a true group transition closes a different stream than the one its own frame routes to")
	}
}

func TestForwardNewGroupFlagForcesFreshStreamEvenWithinSameGroup(t *testing.T) {
	t.Parallel()
	q := scheduler.NewQueue(4)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q}
	now := time.Now()

	sub.Forward(Object{TrackAlias: 1, GroupID: 3, SubgroupID: 0, ObjectID: 0}, now)
	sub.Forward(Object{TrackAlias: 1, GroupID: 3, SubgroupID: 0, ObjectID: 1, NewGroup: true}, now)

	items := drainAll(q, now)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	header := wire.AppendSubgroupStreamHeader(nil, wire.SubgroupStreamHeader{TrackAlias: 9, GroupID: 3, SubgroupID: 0})
	wantFrame1 := wire.AppendObject(append([]byte{}, header...), 1, nil, wire.ObjectStatusAvailable, nil)
	if !bytes.Equal(items[1].Frame, wantFrame1) {
		t.Fatalf("NewGroup=true should force a new stream header even without a group/subgroup change:\ngot  %x\nwant %x", items[1].Frame, wantFrame1)
	}
	if items[1].Action != scheduler.StreamActionReplaceWithFin {
		t.Fatalf("forcing a new stream while one is open should FIN it, got %v", items[1].Action)
	}
	if items[1].ClosesStreamKey != items[1].StreamKey {
		t.Fatalf("forcing a fresh stream within the same group/subgroup closes and reopens the same key, got ClosesStreamKey=%d StreamKey=%d",
			items[1].ClosesStreamKey, items[1].StreamKey)
	}
}

func TestForwardCarriesExtensionsIntoBothDeliveryPaths(t *testing.T) {
	t.Parallel()
	exts := []wire.Extension{{Tag: 0x0c, Value: 1500}, {Tag: 0x0d, Bytes: []byte("meta")}}

	q := scheduler.NewQueue(4)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q}
	sub.Forward(Object{TrackAlias: 1, GroupID: 1, ObjectID: 0, Extensions: exts, Payload: []byte("a")}, time.Now())

	items := drainAll(q, time.Now())
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	gotExts, _, _, err := parseStreamObjectExtensions(items[0].Frame)
	if err != nil {
		t.Fatalf("parsing forwarded stream frame: %v", err)
	}
	if len(gotExts) != 2 || gotExts[0].Value != 1500 || !bytes.Equal(gotExts[1].Bytes, []byte("meta")) {
		t.Fatalf("got extensions %+v on the reliable-stream path", gotExts)
	}

	dq := scheduler.NewQueue(4)
	dsub := &Subscriber{SendTrackAlias: 9, Queue: dq}
	dsub.Forward(Object{TrackAlias: 1, GroupID: 1, ObjectID: 0, Extensions: exts, Payload: []byte("a"), UseDatagram: true}, time.Now())

	ditems := drainAll(dq, time.Now())
	if len(ditems) != 1 {
		t.Fatalf("got %d datagram items, want 1", len(ditems))
	}
	d, err := wire.ParseObjectDatagram(ditems[0].Frame)
	if err != nil {
		t.Fatalf("ParseObjectDatagram: %v", err)
	}
	if len(d.Extensions) != 2 || d.Extensions[0].Value != 1500 || !bytes.Equal(d.Extensions[1].Bytes, []byte("meta")) {
		t.Fatalf("got extensions %+v on the datagram path", d.Extensions)
	}
}

// parseStreamObjectExtensions skips the subgroup stream header this
// package always prefixes onto a fresh stream's first frame and parses
// the object that follows, returning its extensions.
func parseStreamObjectExtensions(frame []byte) ([]wire.Extension, uint64, []byte, error) {
	r := bytes.NewReader(frame)
	if _, err := wire.ReadStreamType(r); err != nil {
		return nil, 0, nil, err
	}
	if _, err := wire.ReadSubgroupStreamHeader(r); err != nil {
		return nil, 0, nil, err
	}
	_, exts, status, payload, err := wire.ReadObject(r)
	return exts, status, payload, err
}

func TestForwardAppliesPriorityOverride(t *testing.T) {
	t.Parallel()
	q := scheduler.NewQueue(8)
	override := byte(7)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q, PriorityOverride: &override}

	sub.Forward(Object{TrackAlias: 1, GroupID: 1, Priority: 1, UseDatagram: true}, time.Now())

	items := drainAll(q, time.Now())
	if len(items) != 1 || items[0].Priority != 7 {
		t.Fatalf("got %+v, want one item with priority 7", items)
	}
}

func TestForwardAppliesSubscriberTTL(t *testing.T) {
	t.Parallel()
	q := scheduler.NewQueue(4)
	sub := &Subscriber{SendTrackAlias: 9, Queue: q, TTL: 50 * time.Millisecond}

	sub.Forward(Object{TrackAlias: 1, GroupID: 1, UseDatagram: true}, time.Now())

	items := drainAll(q, time.Now().Add(100*time.Millisecond))
	if len(items) != 0 {
		t.Fatalf("expected the stale item to be dropped by TTL, got %d items", len(items))
	}
}

func TestFanOutForwardsToEverySubscriber(t *testing.T) {
	t.Parallel()
	q1 := scheduler.NewQueue(4)
	q2 := scheduler.NewQueue(4)
	subs := []*Subscriber{
		{SendTrackAlias: 1, Queue: q1},
		{SendTrackAlias: 2, Queue: q2},
	}

	FanOut(subs, Object{TrackAlias: 1, GroupID: 1, UseDatagram: true, Payload: []byte("x")}, time.Now())

	if len(drainAll(q1, time.Now())) != 1 {
		t.Fatal("subscriber 1 did not receive the object")
	}
	if len(drainAll(q2, time.Now())) != 1 {
		t.Fatal("subscriber 2 did not receive the object")
	}
}
