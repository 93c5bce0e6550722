package cache

import (
	"testing"
	"time"
)

func TestTrackRangeReturnsObjectsInGroupOrder(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, time.Minute, 0)
	tr.Insert(Object{GroupID: 0, ObjectID: 1, Payload: []byte("g0o1")})
	tr.Insert(Object{GroupID: 0, ObjectID: 0, Payload: []byte("g0o0")})
	tr.Insert(Object{GroupID: 1, ObjectID: 0, Payload: []byte("g1o0")})

	got := tr.Range(Location{Group: 0, Object: 0}, Location{Group: 1, Object: 0})
	if len(got) != 3 {
		t.Fatalf("got %d objects, want 3", len(got))
	}
	// group 0's objects must come out sorted by object id despite arriving
	// out of order.
	if got[0].ObjectID != 0 || got[1].ObjectID != 1 {
		t.Fatalf("group 0 not sorted by object id: %+v", got[:2])
	}
	if got[2].GroupID != 1 {
		t.Fatalf("expected group 1 last: %+v", got)
	}
}

func TestTrackRangeRespectsStartAndEndGroup(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, time.Minute, 0)
	for g := uint64(0); g < 4; g++ {
		tr.Insert(Object{GroupID: g, ObjectID: 0, Payload: []byte("x")})
	}
	got := tr.Range(Location{Group: 1, Object: 0}, Location{Group: 2, Object: 0})
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2", len(got))
	}
	for _, o := range got {
		if o.GroupID < 1 || o.GroupID > 2 {
			t.Fatalf("object outside requested range: %+v", o)
		}
	}
}

// TestTrackRangeMatchesFetchScenario exercises the spec's standalone-fetch
// example: groups 5-7 each carrying objects 0..3, fetched from (6,1) to
// (7,2) inclusive, expecting the two boundary groups clipped by object id
// and the untouched group excluded entirely.
func TestTrackRangeMatchesFetchScenario(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, time.Minute, 0)
	for g := uint64(5); g <= 7; g++ {
		for o := uint64(0); o <= 3; o++ {
			tr.Insert(Object{GroupID: g, ObjectID: o, Payload: []byte("x")})
		}
	}

	got := tr.Range(Location{Group: 6, Object: 1}, Location{Group: 7, Object: 2})

	want := []Location{
		{Group: 6, Object: 1}, {Group: 6, Object: 2}, {Group: 6, Object: 3},
		{Group: 7, Object: 0}, {Group: 7, Object: 1}, {Group: 7, Object: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d objects, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].GroupID != w.Group || got[i].ObjectID != w.Object {
			t.Fatalf("entry #%d: got (group=%d,object=%d), want (group=%d,object=%d)",
				i, got[i].GroupID, got[i].ObjectID, w.Group, w.Object)
		}
	}
}

func TestTrackLatestGroupID(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, time.Minute, 0)
	if _, ok := tr.LatestGroupID(); ok {
		t.Fatal("expected no latest group on an empty track")
	}
	tr.Insert(Object{GroupID: 5, ObjectID: 0})
	tr.Insert(Object{GroupID: 9, ObjectID: 0})
	gid, ok := tr.LatestGroupID()
	if !ok || gid != 9 {
		t.Fatalf("got (%d, %v), want (9, true)", gid, ok)
	}
}

func TestTrackMaxGroupsEvictsOldest(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, time.Minute, 2)
	tr.Insert(Object{GroupID: 0, ObjectID: 0})
	tr.Insert(Object{GroupID: 1, ObjectID: 0})
	tr.Insert(Object{GroupID: 2, ObjectID: 0})

	if got := tr.Group(0); got != nil {
		t.Fatalf("expected group 0 evicted, got %v", got)
	}
	if got := tr.Group(1); got == nil {
		t.Fatal("expected group 1 still retained")
	}
	if got := tr.Group(2); got == nil {
		t.Fatal("expected group 2 still retained")
	}
}

func TestTrackTTLExpiry(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, 30*time.Millisecond, 0)
	tr.Insert(Object{GroupID: 0, ObjectID: 0, Payload: []byte("x")})
	if got := tr.Group(0); got == nil {
		t.Fatal("expected group present immediately after insert")
	}
	time.Sleep(200 * time.Millisecond)
	if got := tr.Group(0); got != nil {
		t.Fatalf("expected group expired after TTL, got %v", got)
	}
}

func TestRegistryTrackForIsLazyAndStable(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(time.Minute, 4)
	a := reg.TrackFor(1)
	b := reg.TrackFor(1)
	if a != b {
		t.Fatal("expected TrackFor to return the same *Track for the same alias")
	}
	c := reg.TrackFor(2)
	if a == c {
		t.Fatal("expected distinct tracks for distinct aliases")
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(time.Minute, 4)
	a := reg.TrackFor(1)
	a.Insert(Object{GroupID: 0, ObjectID: 0})
	reg.Remove(1)
	b := reg.TrackFor(1)
	if got := b.Group(0); got != nil {
		t.Fatalf("expected a fresh track after Remove, got %v", got)
	}
}
