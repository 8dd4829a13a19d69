package member

import "testing"

func TestIterator_CoversAllBeforeRepeat(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()
	tbl.AddMember("b:1", 1)
	tbl.AddMember("c:1", 1)
	tbl.AddMember("d:1", 1)

	it := NewIterator(tbl)

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		addr, ok := it.Next()
		if !ok {
			t.Fatal("expected a target")
		}
		seen[addr]++
	}
	for _, addr := range []string{"b:1", "c:1", "d:1"} {
		if seen[addr] != 1 {
			t.Errorf("expected %s to be seen exactly once in first pass, got %d", addr, seen[addr])
		}
	}
	if seen["a:1"] != 0 {
		t.Error("local member must never be a ping target")
	}
}

func TestIterator_EmptyTable(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()

	it := NewIterator(tbl)
	if _, ok := it.Next(); ok {
		t.Fatal("expected no target with only the local member present")
	}
}

func TestIterator_ReshufflesOnMembershipChange(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()
	tbl.AddMember("b:1", 1)

	it := NewIterator(tbl)
	if _, ok := it.Next(); !ok {
		t.Fatal("expected a target")
	}

	tbl.AddMember("c:1", 1)
	addr, ok := it.Next()
	if !ok {
		t.Fatal("expected a target after membership changed")
	}
	if addr != "b:1" && addr != "c:1" {
		t.Fatalf("unexpected target %s", addr)
	}
}
