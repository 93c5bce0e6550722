package trackname

import "testing"

func TestHashOfIsDeterministic(t *testing.T) {
	t.Parallel()
	f := Full{Namespace: []string{"live", "camera1"}, Name: "video"}
	h1 := HashOf(f)
	h2 := HashOf(f)
	if h1 != h2 {
		t.Fatalf("HashOf not deterministic: %+v vs %+v", h1, h2)
	}
	if h1.Full > mask62 || h1.Namespace > mask62 || h1.Name > mask62 {
		t.Fatalf("hash exceeds 62 bits: %+v", h1)
	}
}

func TestHashOfDistinguishesNames(t *testing.T) {
	t.Parallel()
	a := HashOf(Full{Namespace: []string{"live"}, Name: "video"})
	b := HashOf(Full{Namespace: []string{"live"}, Name: "audio"})
	if a.Full == b.Full {
		t.Fatalf("distinct track names hashed to the same alias: %d", a.Full)
	}
	if a.Namespace != b.Namespace {
		t.Fatalf("same namespace hashed differently: %d vs %d", a.Namespace, b.Namespace)
	}
}

func TestDefaultAliasMatchesFullHash(t *testing.T) {
	t.Parallel()
	f := Full{Namespace: []string{"live"}, Name: "video"}
	alias := DefaultAlias(f)
	h := HashOf(f)
	if uint64(alias) != h.Full {
		t.Fatalf("DefaultAlias = %d, want %d", alias, h.Full)
	}
}

func TestKeyDistinguishesNamespaceBoundaries(t *testing.T) {
	t.Parallel()
	// "a","bc" must not collide with "ab","c" despite concatenating the
	// same characters.
	a := Full{Namespace: []string{"a", "bc"}, Name: "x"}
	b := Full{Namespace: []string{"ab", "c"}, Name: "x"}
	if a.Key() == b.Key() {
		t.Fatalf("namespace tuples collided: %q", a.Key())
	}
}
