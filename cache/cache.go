// Package cache implements the relay's per-track object cache: a ring of
// recent groups retained long enough (or in small enough number) to
// serve late-joining subscribers and standalone Fetch requests, without
// ever persisting anything to disk.
package cache

import (
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zsiec/moqrelay/wire"
)

// Object is one cached object, copied out of the egress path so the
// cache never shares mutable backing arrays with a live write.
type Object struct {
	GroupID    uint64
	SubgroupID uint64
	ObjectID   uint64
	Priority   byte
	Status     uint64
	Extensions []wire.Extension
	Payload    []byte
}

// Location identifies a single object by group and object id, the
// inclusive endpoint vocabulary a Fetch range is expressed in.
type Location struct {
	Group  uint64
	Object uint64
}

// groupEntry holds every object seen so far for one group, kept sorted by
// object id as objects arrive (publishers may reorder within a group).
type groupEntry struct {
	mu      sync.Mutex
	objects []Object
}

func (g *groupEntry) insert(o Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := sort.Search(len(g.objects), func(i int) bool { return g.objects[i].ObjectID >= o.ObjectID })
	if i < len(g.objects) && g.objects[i].ObjectID == o.ObjectID {
		g.objects[i] = o
		return
	}
	g.objects = append(g.objects, Object{})
	copy(g.objects[i+1:], g.objects[i:])
	g.objects[i] = o
}

func (g *groupEntry) snapshot() []Object {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Object, len(g.objects))
	copy(out, g.objects)
	return out
}

// Track is the per-track-alias cache: an ordered set of retained groups
// backed by go-cache for TTL eviction, plus a small creation-order index
// used to additionally cap the number of retained groups.
type Track struct {
	alias     uint64
	ttl       time.Duration
	maxGroups int

	groups *gocache.Cache

	mu     sync.Mutex
	order  []uint64 // group ids in arrival order, oldest first
}

// NewTrack creates a per-track cache. ttl is the retention window for a
// group (spec's retention_ttl); maxGroups bounds the number of groups kept
// regardless of TTL (0 means unbounded).
func NewTrack(alias uint64, ttl time.Duration, maxGroups int) *Track {
	return &Track{
		alias:     alias,
		ttl:       ttl,
		maxGroups: maxGroups,
		groups:    gocache.New(ttl, ttl/2),
	}
}

func (t *Track) key(groupID uint64) string {
	return string(uint64ToBytes(groupID))
}

// Insert adds or updates an object in its group, creating the group entry
// (and evicting the oldest group if over maxGroups) on first sight.
func (t *Track) Insert(o Object) {
	key := t.key(o.GroupID)
	if v, ok := t.groups.Get(key); ok {
		v.(*groupEntry).insert(o)
		return
	}
	g := &groupEntry{}
	g.insert(o)
	t.groups.Set(key, g, t.ttl)
	t.trackNewGroup(o.GroupID)
}

func (t *Track) trackNewGroup(groupID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append(t.order, groupID)
	if t.maxGroups <= 0 || len(t.order) <= t.maxGroups {
		return
	}
	evict := t.order[:len(t.order)-t.maxGroups]
	t.order = t.order[len(t.order)-t.maxGroups:]
	for _, gid := range evict {
		t.groups.Delete(t.key(gid))
	}
}

// Group returns a copy of every object cached for groupID, or nil if the
// group isn't (or is no longer) cached.
func (t *Track) Group(groupID uint64) []Object {
	v, ok := t.groups.Get(t.key(groupID))
	if !ok {
		return nil
	}
	return v.(*groupEntry).snapshot()
}

// Range returns a copy of every object in [start, end] inclusive, in
// ascending group order and, within each group, ascending object order.
// Within the start group only objects with ObjectID >= start.Object are
// included; within the end group only objects with ObjectID <= end.Object
// are included.
func (t *Track) Range(start, end Location) []Object {
	t.mu.Lock()
	groups := append([]uint64{}, t.order...)
	t.mu.Unlock()
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	var out []Object
	for _, gid := range groups {
		if gid < start.Group || gid > end.Group {
			continue
		}
		for _, o := range t.Group(gid) {
			if gid == start.Group && o.ObjectID < start.Object {
				continue
			}
			if gid == end.Group && o.ObjectID > end.Object {
				continue
			}
			out = append(out, o)
		}
	}
	return out
}

// Latest returns the most recently created retained group's objects, or
// nil if the cache is empty.
func (t *Track) Latest() []Object {
	t.mu.Lock()
	if len(t.order) == 0 {
		t.mu.Unlock()
		return nil
	}
	gid := t.order[len(t.order)-1]
	t.mu.Unlock()
	return t.Group(gid)
}

// LatestGroupID reports the most recently created retained group id and
// whether any group is retained at all.
func (t *Track) LatestGroupID() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return 0, false
	}
	gid := t.order[len(t.order)-1]
	// order is not pruned on TTL expiry; every group shares one TTL and
	// order is in creation order, so if the newest has expired all have.
	if _, ok := t.groups.Get(t.key(gid)); !ok {
		return 0, false
	}
	return gid, true
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
	return b
}

// Registry is the relay-wide collection of Track caches, keyed by track
// alias.
type Registry struct {
	mu     sync.RWMutex
	tracks map[uint64]*Track

	defaultTTL       time.Duration
	defaultMaxGroups int
}

// NewRegistry creates a cache registry using defaultTTL/defaultMaxGroups
// for any track that doesn't specify its own retention.
func NewRegistry(defaultTTL time.Duration, defaultMaxGroups int) *Registry {
	return &Registry{
		tracks:           make(map[uint64]*Track),
		defaultTTL:       defaultTTL,
		defaultMaxGroups: defaultMaxGroups,
	}
}

// TrackFor returns the cache for alias, creating it with the registry's
// defaults on first use.
func (r *Registry) TrackFor(alias uint64) *Track {
	r.mu.RLock()
	t, ok := r.tracks[alias]
	r.mu.RUnlock()
	if ok {
		return t
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tracks[alias]; ok {
		return t
	}
	t = NewTrack(alias, r.defaultTTL, r.defaultMaxGroups)
	r.tracks[alias] = t
	return t
}

// Remove drops a track's cache entirely, e.g. once its last publisher and
// all subscribers are gone.
func (r *Registry) Remove(alias uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracks, alias)
}
