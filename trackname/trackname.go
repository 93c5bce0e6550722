// Package trackname implements the FullTrackName identity used to look up
// tracks across Announce/Subscribe/Fetch, and the hashing scheme that
// turns one into a compact TrackAlias for wire framing.
package trackname

import (
	"hash/fnv"
	"strings"
)

// Full identifies a track by its namespace tuple and track name.
type Full struct {
	Namespace []string
	Name      string
}

// Key returns a string suitable for use as a map key; it is not part of
// the wire format.
func (f Full) Key() string {
	return strings.Join(f.Namespace, "\x00") + "\x01" + f.Name
}

// Hash holds the three 62-bit (non-cryptographic) hashes derived from a
// FullTrackName: one over the namespace tuple, one over the track name,
// and one over the full name — the last of which doubles as the default
// TrackAlias when a subscriber doesn't request a specific one.
type Hash struct {
	Namespace uint64
	Name      uint64
	Full      uint64
}

const mask62 = (1 << 62) - 1

func fnv62(parts ...string) uint64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return h.Sum64() & mask62
}

// HashOf computes the three hashes for a FullTrackName.
func HashOf(f Full) Hash {
	nsHash := fnv62(f.Namespace...)
	nameHash := fnv62(f.Name)
	fullParts := append(append([]string{}, f.Namespace...), f.Name)
	fullHash := fnv62(fullParts...)
	return Hash{Namespace: nsHash, Name: nameHash, Full: fullHash}
}

// Alias is the compact identifier MoQT uses on the wire in place of a
// full track name once a track has been subscribed.
type Alias uint64

// DefaultAlias returns the alias a publisher uses when the subscriber
// didn't request a specific one: the track's full-name hash.
func DefaultAlias(f Full) Alias {
	return Alias(HashOf(f).Full)
}
