package ring

import "testing"

// TestRing_Property_Determinism checks that two rings built from the
// same membership return the same lookup for every key, independent of
// insertion order.
func TestRing_Property_Determinism(t *testing.T) {
	ring1 := New(128)
	ring2 := New(128)

	for _, a := range []string{"n1", "n2", "n3"} {
		ring1.AddServer(a)
	}
	for _, a := range []string{"n3", "n1", "n2"} {
		ring2.AddServer(a)
	}

	for _, key := range []string{"key1", "key2", "key3", "user:123", "test-key", "another-key"} {
		owner1, ok1 := ring1.Lookup(key)
		owner2, ok2 := ring2.Lookup(key)
		if ok1 != ok2 || owner1 != owner2 {
			t.Errorf("lookup mismatch for key %s: ring1=%s, ring2=%s", key, owner1, owner2)
		}
	}
}

// TestRing_Property_RemovalExcludesServer checks invariant 2: after a
// removal the ring never attributes a key to the removed server.
func TestRing_Property_RemovalExcludesServer(t *testing.T) {
	r := New(128)
	for _, a := range []string{"n1", "n2", "n3", "n4"} {
		r.AddServer(a)
	}
	r.RemoveServer("n4")

	for i := 0; i < 200; i++ {
		key := string(rune('a'+i%26)) + string(rune('0'+i%10))
		owner, ok := r.Lookup(key)
		if !ok {
			t.Fatalf("expected an owner for %s", key)
		}
		if owner == "n4" {
			t.Errorf("removed server n4 still owns key %s", key)
		}
	}
}

// TestRing_Property_AlwaysReturnsKnownServer checks that Lookup never
// returns an address outside the current server set.
func TestRing_Property_AlwaysReturnsKnownServer(t *testing.T) {
	servers := map[string]bool{"n1": true, "n2": true, "n3": true}
	r := New(128)
	for a := range servers {
		r.AddServer(a)
	}

	for i := 0; i < 1000; i++ {
		key := string(rune('a'+i%26)) + string(rune('0'+i%10)) + string(rune('A'+i%26))
		owner, ok := r.Lookup(key)
		if !ok {
			t.Errorf("no owner for key %s", key)
			continue
		}
		if !servers[owner] {
			t.Errorf("owner %s for key %s is not a known server", owner, key)
		}
	}
}

// TestRing_Property_PreferenceListUnique checks PreferenceList never
// repeats a server and never exceeds the server count.
func TestRing_Property_PreferenceListUnique(t *testing.T) {
	r := New(128)
	for _, a := range []string{"n1", "n2", "n3"} {
		r.AddServer(a)
	}

	pref := r.PreferenceList("test-key", 10)
	seen := make(map[string]bool)
	for _, a := range pref {
		if seen[a] {
			t.Errorf("duplicate %s in preference list", a)
		}
		seen[a] = true
	}
	if len(pref) > 3 {
		t.Errorf("preference list length %d exceeds server count 3", len(pref))
	}
}

// TestRing_Property_ConsistentAfterRebuild checks that re-adding the
// same servers in the same process produces the same lookups.
func TestRing_Property_ConsistentAfterRebuild(t *testing.T) {
	r := New(128)
	for _, a := range []string{"n1", "n2", "n3"} {
		r.AddServer(a)
	}

	keys := []string{"key1", "key2", "key3", "key4", "key5"}
	before := make(map[string]string)
	for _, k := range keys {
		owner, _ := r.Lookup(k)
		before[k] = owner
	}

	for _, a := range []string{"n1", "n2", "n3"} {
		r.RemoveServer(a)
	}
	for _, a := range []string{"n1", "n2", "n3"} {
		r.AddServer(a)
	}

	for _, k := range keys {
		owner, _ := r.Lookup(k)
		if owner != before[k] {
			t.Errorf("owner changed for key %s after rebuild: %s -> %s", k, before[k], owner)
		}
	}
}
